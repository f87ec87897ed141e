package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/repository"
	"github.com/and161185/timesync/internal/timesheet"
)

// Mutation names a write operation.
type Mutation string

const (
	MutCreateMessage    Mutation = "createMessage"
	MutMarkMessageRead  Mutation = "markMessageRead"
	MutArchiveMessage   Mutation = "archiveMessage"
	MutDeleteMessage    Mutation = "deleteMessage"
	MutCreateHourLog    Mutation = "createHourLog"
	MutUpdateHourLog    Mutation = "updateHourLog"
	MutDeleteHourLog    Mutation = "deleteHourLog"
	MutCreateCustomer   Mutation = "createCustomer"
	MutUpdateCustomer   Mutation = "updateCustomer"
	MutDeleteCustomer   Mutation = "deleteCustomer"
	MutCreateProductLog Mutation = "createProductLog"
	MutDeleteProductLog Mutation = "deleteProductLog"
	MutAssignCustomer   Mutation = "assignCustomer"
	MutUnassignCustomer Mutation = "unassignCustomer"
)

// Effect is what a successful mutation does to the cache.
type Effect struct {
	Invalidate []View
	Refresh    []View
}

// Effects maps each mutation to the views it touches. Assignments feed only
// AssignedCustomers, which is recomputed on every call.
var Effects = map[Mutation]Effect{
	MutCreateMessage:    {Invalidate: []View{ViewMessages, ViewReadMessages}},
	MutMarkMessageRead:  {Invalidate: []View{ViewMessages, ViewReadMessages}, Refresh: []View{ViewMessages, ViewReadMessages}},
	MutArchiveMessage:   {Invalidate: []View{ViewMessages, ViewReadMessages, ViewArchivedMessages}, Refresh: []View{ViewMessages, ViewReadMessages}},
	MutDeleteMessage:    {Invalidate: []View{ViewMessages, ViewReadMessages, ViewArchivedMessages}},
	MutCreateHourLog:    {Invalidate: []View{ViewHourLogs}},
	MutUpdateHourLog:    {Invalidate: []View{ViewHourLogs}, Refresh: []View{ViewHourLogs}},
	MutDeleteHourLog:    {Invalidate: []View{ViewHourLogs}, Refresh: []View{ViewHourLogs}},
	MutCreateCustomer:   {Invalidate: []View{ViewCustomers}},
	MutUpdateCustomer:   {Invalidate: []View{ViewCustomers}},
	MutDeleteCustomer:   {Invalidate: []View{ViewCustomers}},
	MutCreateProductLog: {Invalidate: []View{ViewProductLogs}},
	MutDeleteProductLog: {Invalidate: []View{ViewProductLogs}},
	MutAssignCustomer:   {},
	MutUnassignCustomer: {},
}

// apply invalidates the affected views and runs eager refreshes. Refresh
// failures are logged only; the write already happened.
func (s *Store) apply(ctx context.Context, m Mutation) {
	eff := Effects[m]
	if err := s.Invalidate(eff.Invalidate...); err != nil {
		s.log.Error("invalidate after mutation", zap.String("mutation", string(m)), zap.Error(err))
	}
	if len(eff.Refresh) == 0 {
		return
	}
	var g errgroup.Group
	for _, v := range eff.Refresh {
		v := v
		g.Go(func() error {
			if err := s.Refresh(ctx, v); err != nil {
				s.log.Warn("eager refresh failed",
					zap.String("mutation", string(m)), zap.String("view", string(v)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Store) requireUser() (model.User, error) {
	u, ok := s.sess.CurrentUser()
	if !ok {
		return model.User{}, errs.ErrAuthRequired
	}
	return u, nil
}

// CreateMessage sends an inbox message from the signed-in user.
func (s *Store) CreateMessage(ctx context.Context, in model.MessageInput) (model.Message, error) {
	u, err := s.requireUser()
	if err != nil {
		return model.Message{}, err
	}
	if in.Recipient == "" || strings.TrimSpace(in.Subject) == "" {
		return model.Message{}, fmt.Errorf("%w: recipient and subject are required", errs.ErrInvalidInput)
	}
	if in.Sender == "" {
		in.Sender = u.ID
	}
	msg, err := repository.Create[model.Message](ctx, s.repo, model.CollMessages, in, repository.ListQuery{Expand: "sender"})
	if err != nil {
		return model.Message{}, err
	}
	s.apply(ctx, MutCreateMessage)
	return msg, nil
}

// MarkMessageRead flags a message as read.
func (s *Store) MarkMessageRead(ctx context.Context, id string) (model.Message, error) {
	return s.patchMessage(ctx, MutMarkMessageRead, id, map[string]any{"read": true})
}

// ArchiveMessage moves a message to the archive.
func (s *Store) ArchiveMessage(ctx context.Context, id string) (model.Message, error) {
	return s.patchMessage(ctx, MutArchiveMessage, id, map[string]any{"archived": true})
}

func (s *Store) patchMessage(ctx context.Context, m Mutation, id string, patch map[string]any) (model.Message, error) {
	if _, err := s.requireUser(); err != nil {
		return model.Message{}, err
	}
	if id == "" {
		return model.Message{}, fmt.Errorf("%w: message id", errs.ErrInvalidInput)
	}
	msg, err := repository.Update[model.Message](ctx, s.repo, model.CollMessages, id, patch, repository.ListQuery{})
	if err != nil {
		return model.Message{}, err
	}
	s.apply(ctx, m)
	return msg, nil
}

// DeleteMessage removes a message.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.delete(ctx, MutDeleteMessage, model.CollMessages, id)
}

// CreateHourLog registers work. When start and end are set and hours are
// not, hours are computed with the billing table.
func (s *Store) CreateHourLog(ctx context.Context, in model.HourLogInput) (model.HourLog, error) {
	u, err := s.requireUser()
	if err != nil {
		return model.HourLog{}, err
	}
	if in.Customer == "" {
		return model.HourLog{}, fmt.Errorf("%w: customer is required", errs.ErrInvalidInput)
	}
	if in.User == "" {
		in.User = u.ID
	}
	if err := fillHours(&in); err != nil {
		return model.HourLog{}, err
	}
	l, err := repository.Create[model.HourLog](ctx, s.repo, model.CollHourLogs, in, repository.ListQuery{Expand: "kunde,user"})
	if err != nil {
		return model.HourLog{}, err
	}
	l.DecimalHours = decimalHours(l)
	s.apply(ctx, MutCreateHourLog)
	return l, nil
}

// UpdateHourLog changes only the fields set in p. Hours are recomputed from
// the billing table when both start and end are given without hours.
func (s *Store) UpdateHourLog(ctx context.Context, id string, p model.HourLogPatch) (model.HourLog, error) {
	if _, err := s.requireUser(); err != nil {
		return model.HourLog{}, err
	}
	if id == "" {
		return model.HourLog{}, fmt.Errorf("%w: hour log id", errs.ErrInvalidInput)
	}
	if p.Empty() {
		return model.HourLog{}, fmt.Errorf("%w: nothing to update", errs.ErrInvalidInput)
	}
	if p.Customer != nil && *p.Customer == "" {
		return model.HourLog{}, fmt.Errorf("%w: customer is required", errs.ErrInvalidInput)
	}
	if p.Hours == nil && p.Start != nil && p.End != nil && *p.Start != "" && *p.End != "" {
		h, err := timesheet.HoursBetween(*p.Start, *p.End)
		if err != nil {
			return model.HourLog{}, err
		}
		p.Hours = &h
	}
	l, err := repository.Update[model.HourLog](ctx, s.repo, model.CollHourLogs, id, p, repository.ListQuery{Expand: "kunde,user"})
	if err != nil {
		return model.HourLog{}, err
	}
	l.DecimalHours = decimalHours(l)
	s.apply(ctx, MutUpdateHourLog)
	return l, nil
}

// DeleteHourLog removes an hour log.
func (s *Store) DeleteHourLog(ctx context.Context, id string) error {
	return s.delete(ctx, MutDeleteHourLog, model.CollHourLogs, id)
}

func fillHours(in *model.HourLogInput) error {
	if in.Hours != 0 || in.Start == "" || in.End == "" {
		return nil
	}
	h, err := timesheet.HoursBetween(in.Start, in.End)
	if err != nil {
		return err
	}
	in.Hours = h
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, in model.CustomerInput) (model.Customer, error) {
	if _, err := s.requireUser(); err != nil {
		return model.Customer{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return model.Customer{}, fmt.Errorf("%w: customer name", errs.ErrInvalidInput)
	}
	c, err := repository.Create[model.Customer](ctx, s.repo, model.CollCustomers, in, repository.ListQuery{})
	if err != nil {
		return model.Customer{}, err
	}
	s.apply(ctx, MutCreateCustomer)
	return c, nil
}

// UpdateCustomer changes only the fields set in p. A set name must not be
// blank.
func (s *Store) UpdateCustomer(ctx context.Context, id string, p model.CustomerPatch) (model.Customer, error) {
	if _, err := s.requireUser(); err != nil {
		return model.Customer{}, err
	}
	if id == "" {
		return model.Customer{}, fmt.Errorf("%w: customer id", errs.ErrInvalidInput)
	}
	if p.Empty() {
		return model.Customer{}, fmt.Errorf("%w: nothing to update", errs.ErrInvalidInput)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return model.Customer{}, fmt.Errorf("%w: customer name", errs.ErrInvalidInput)
	}
	c, err := repository.Update[model.Customer](ctx, s.repo, model.CollCustomers, id, p, repository.ListQuery{})
	if err != nil {
		return model.Customer{}, err
	}
	s.apply(ctx, MutUpdateCustomer)
	return c, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return s.delete(ctx, MutDeleteCustomer, model.CollCustomers, id)
}

// CreateProductLog records a product sale. A zero total is derived from the
// product price when the product can be loaded.
func (s *Store) CreateProductLog(ctx context.Context, in model.ProductLogInput) (model.ProductLog, error) {
	u, err := s.requireUser()
	if err != nil {
		return model.ProductLog{}, err
	}
	if in.Customer == "" || in.Product == "" || in.Quantity <= 0 {
		return model.ProductLog{}, fmt.Errorf("%w: customer, product and positive quantity are required", errs.ErrInvalidInput)
	}
	if in.User == "" {
		in.User = u.ID
	}
	if in.TotalPrice == 0 {
		p, err := repository.One[model.Product](ctx, s.repo, model.CollProducts, in.Product, repository.ListQuery{})
		if err != nil {
			return model.ProductLog{}, err
		}
		in.TotalPrice = p.Price * in.Quantity
	}
	l, err := repository.Create[model.ProductLog](ctx, s.repo, model.CollProductLogs, in, repository.ListQuery{Expand: "kunder,product,user"})
	if err != nil {
		return model.ProductLog{}, err
	}
	s.apply(ctx, MutCreateProductLog)
	return l, nil
}

func (s *Store) DeleteProductLog(ctx context.Context, id string) error {
	return s.delete(ctx, MutDeleteProductLog, model.CollProductLogs, id)
}

// AssignCustomer lets a non-admin user log against a customer.
func (s *Store) AssignCustomer(ctx context.Context, userID, customerID string) (model.Assignment, error) {
	if _, err := s.requireUser(); err != nil {
		return model.Assignment{}, err
	}
	if userID == "" || customerID == "" {
		return model.Assignment{}, fmt.Errorf("%w: user and customer are required", errs.ErrInvalidInput)
	}
	a, err := repository.Create[model.Assignment](ctx, s.repo, model.CollAssignments,
		map[string]string{"user": userID, "kunde": customerID}, repository.ListQuery{})
	if err != nil {
		return model.Assignment{}, err
	}
	s.apply(ctx, MutAssignCustomer)
	return a, nil
}

// UnassignCustomer removes an assignment row.
func (s *Store) UnassignCustomer(ctx context.Context, assignmentID string) error {
	return s.delete(ctx, MutUnassignCustomer, model.CollAssignments, assignmentID)
}

func (s *Store) delete(ctx context.Context, m Mutation, collection, id string) error {
	if _, err := s.requireUser(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: %s id", errs.ErrInvalidInput, collection)
	}
	if err := s.repo.Delete(ctx, collection, id); err != nil {
		return err
	}
	s.apply(ctx, m)
	return nil
}
