package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/timesync/internal/cache"
	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/reactive"
	"github.com/and161185/timesync/internal/repository"
	"github.com/and161185/timesync/internal/timesheet"
)

// View names a cached query.
type View string

const (
	ViewCustomers        View = "customers"
	ViewMessages         View = "messages"
	ViewReadMessages     View = "readMessages"
	ViewArchivedMessages View = "archivedMessages"
	ViewUsers            View = "users"
	ViewHourLogs         View = "hourLogs"
	ViewProductLogs      View = "productLogs"
)

// AllViews lists every view in a stable order.
var AllViews = []View{
	ViewCustomers, ViewMessages, ViewReadMessages, ViewArchivedMessages,
	ViewUsers, ViewHourLogs, ViewProductLogs,
}

// DefaultTTLs are the freshness windows per view.
var DefaultTTLs = map[View]time.Duration{
	ViewCustomers:        5 * time.Minute,
	ViewMessages:         30 * time.Second,
	ViewReadMessages:     2 * time.Minute,
	ViewArchivedMessages: 5 * time.Minute,
	ViewUsers:            10 * time.Minute,
	ViewHourLogs:         time.Minute,
	ViewProductLogs:      time.Minute,
}

// SessionProvider is the part of AuthProvider the Store depends on.
type SessionProvider interface {
	CurrentUser() (model.User, bool)
	Session() *reactive.Container[Session]
}

// StoreOption customises a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	ttls map[View]time.Duration
	now  func() time.Time
	log  *zap.Logger
}

// WithTTL overrides the TTL of one view.
func WithTTL(v View, ttl time.Duration) StoreOption {
	return func(c *storeConfig) { c.ttls[v] = ttl }
}

// WithStoreClock overrides time.Now in every view.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) { c.now = now }
}

// WithStoreLogger sets the store logger.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(c *storeConfig) { c.log = l }
}

type handle interface {
	Invalidate()
	Clear()
}

// Store is the cache-backed data layer. Each view is cached independently
// and cleared whenever the signed-in user changes.
type Store struct {
	repo repository.CollectionRepository
	sess SessionProvider
	log  *zap.Logger

	customers        *cache.View[model.Customer]
	messages         *cache.View[model.Message]
	readMessages     *cache.View[model.Message]
	archivedMessages *cache.View[model.Message]
	users            *cache.View[model.User]
	hourLogs         *cache.View[model.HourLog]
	productLogs      *cache.View[model.ProductLog]

	handles  map[View]handle
	refresh  map[View]func(context.Context) error
	lastErr  *reactive.Container[error]
	unsub    func()
	userMu   sync.Mutex
	lastUser string
}

// NewStore wires the views over repo and subscribes to sess.
func NewStore(repo repository.CollectionRepository, sess SessionProvider, opts ...StoreOption) *Store {
	cfg := storeConfig{ttls: map[View]time.Duration{}, now: time.Now, log: zap.NewNop()}
	for v, d := range DefaultTTLs {
		cfg.ttls[v] = d
	}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Store{repo: repo, sess: sess, log: cfg.log, lastErr: reactive.New[error](nil)}
	vopts := []cache.Option{
		cache.WithClock(cfg.now),
		cache.WithLogger(cfg.log),
		cache.WithResultHook(s.recordResult),
	}

	s.customers = cache.NewView(string(ViewCustomers), cfg.ttls[ViewCustomers], sess, s.loadCustomers, vopts...)
	s.messages = cache.NewView(string(ViewMessages), cfg.ttls[ViewMessages], sess, s.messageLoader(false, false), vopts...)
	s.readMessages = cache.NewView(string(ViewReadMessages), cfg.ttls[ViewReadMessages], sess, s.messageLoader(true, false), vopts...)
	s.archivedMessages = cache.NewView(string(ViewArchivedMessages), cfg.ttls[ViewArchivedMessages], sess, s.messageLoader(false, true), vopts...)
	s.users = cache.NewView(string(ViewUsers), cfg.ttls[ViewUsers], sess, s.loadUsers, vopts...)
	s.hourLogs = cache.NewView(string(ViewHourLogs), cfg.ttls[ViewHourLogs], sess, s.loadHourLogs, vopts...)
	s.productLogs = cache.NewView(string(ViewProductLogs), cfg.ttls[ViewProductLogs], sess, s.loadProductLogs, vopts...)

	s.handles = map[View]handle{
		ViewCustomers:        s.customers,
		ViewMessages:         s.messages,
		ViewReadMessages:     s.readMessages,
		ViewArchivedMessages: s.archivedMessages,
		ViewUsers:            s.users,
		ViewHourLogs:         s.hourLogs,
		ViewProductLogs:      s.productLogs,
	}
	s.refresh = map[View]func(context.Context) error{
		ViewCustomers:        refresher(s.customers),
		ViewMessages:         refresher(s.messages),
		ViewReadMessages:     refresher(s.readMessages),
		ViewArchivedMessages: refresher(s.archivedMessages),
		ViewUsers:            refresher(s.users),
		ViewHourLogs:         refresher(s.hourLogs),
		ViewProductLogs:      refresher(s.productLogs),
	}

	s.unsub = sess.Session().Subscribe(s.onSession)
	return s
}

func refresher[T any](v *cache.View[T]) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := v.Fetch(ctx, true)
		return err
	}
}

// Close detaches the store from the session.
func (s *Store) Close() { s.unsub() }

// LastError holds the latest fetch failure, nil after a successful fetch.
func (s *Store) LastError() *reactive.Container[error] { return s.lastErr }

func (s *Store) recordResult(view string, err error) {
	if err != nil {
		s.log.Warn("fetch failed", zap.String("view", view), zap.Error(err))
	}
	s.lastErr.Set(err)
}

// onSession clears every view when the signed-in identity changes.
func (s *Store) onSession(sess Session) {
	id := ""
	if sess.IsAuthenticated() {
		id = sess.User.ID
	}
	s.userMu.Lock()
	changed := id != s.lastUser
	s.lastUser = id
	s.userMu.Unlock()
	if changed {
		s.clearAll()
	}
}

func (s *Store) Customers() *cache.View[model.Customer] { return s.customers }
func (s *Store) Messages() *cache.View[model.Message] { return s.messages }
func (s *Store) ReadMessages() *cache.View[model.Message] { return s.readMessages }
func (s *Store) ArchivedMessages() *cache.View[model.Message] { return s.archivedMessages }
func (s *Store) Users() *cache.View[model.User] { return s.users }
func (s *Store) HourLogs() *cache.View[model.HourLog] { return s.hourLogs }
func (s *Store) ProductLogs() *cache.View[model.ProductLog] { return s.productLogs }

func (s *Store) FetchCustomers(ctx context.Context, force bool) ([]model.Customer, error) {
	return s.customers.Fetch(ctx, force)
}

func (s *Store) FetchMessages(ctx context.Context, force bool) ([]model.Message, error) {
	return s.messages.Fetch(ctx, force)
}

func (s *Store) FetchReadMessages(ctx context.Context, force bool) ([]model.Message, error) {
	return s.readMessages.Fetch(ctx, force)
}

func (s *Store) FetchArchivedMessages(ctx context.Context, force bool) ([]model.Message, error) {
	return s.archivedMessages.Fetch(ctx, force)
}

func (s *Store) FetchUsers(ctx context.Context, force bool) ([]model.User, error) {
	return s.users.Fetch(ctx, force)
}

func (s *Store) FetchHourLogs(ctx context.Context, force bool) ([]model.HourLog, error) {
	return s.hourLogs.Fetch(ctx, force)
}

func (s *Store) FetchProductLogs(ctx context.Context, force bool) ([]model.ProductLog, error) {
	return s.productLogs.Fetch(ctx, force)
}

// Refresh force-fetches one view.
func (s *Store) Refresh(ctx context.Context, v View) error {
	fn, ok := s.refresh[v]
	if !ok {
		return fmt.Errorf("%w: unknown view %q", errs.ErrInvalidInput, v)
	}
	return fn(ctx)
}

// Invalidate marks views stale, keeping their data for stale fallback.
func (s *Store) Invalidate(views ...View) error {
	hs, err := s.lookup(views)
	if err != nil {
		return err
	}
	for _, h := range hs {
		h.Invalidate()
	}
	return nil
}

// Clear drops the data of the given views, or of every view when none is given.
func (s *Store) Clear(views ...View) error {
	if len(views) == 0 {
		s.clearAll()
		return nil
	}
	hs, err := s.lookup(views)
	if err != nil {
		return err
	}
	for _, h := range hs {
		h.Clear()
	}
	return nil
}

func (s *Store) clearAll() {
	for _, v := range AllViews {
		s.handles[v].Clear()
	}
}

func (s *Store) lookup(views []View) ([]handle, error) {
	out := make([]handle, 0, len(views))
	for _, v := range views {
		h, ok := s.handles[v]
		if !ok {
			return nil, fmt.Errorf("%w: unknown view %q", errs.ErrInvalidInput, v)
		}
		out = append(out, h)
	}
	return out, nil
}

// AssignedCustomers returns every customer for admins and, for other users,
// the customers they are assigned to. The join itself is not cached.
func (s *Store) AssignedCustomers(ctx context.Context, force bool) ([]model.Customer, error) {
	all, err := s.customers.Fetch(ctx, force)
	if err != nil {
		return nil, err
	}
	u, ok := s.sess.CurrentUser()
	if !ok {
		return nil, errs.ErrAuthRequired
	}
	if u.IsAdmin() {
		return all, nil
	}

	assignments, err := repository.FullList[model.Assignment](ctx, s.repo, model.CollAssignments, repository.ListQuery{
		Filter: repository.Filter("user = {:user}", map[string]any{"user": u.ID}),
		Fields: "kunde",
	})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		ids[a.Customer] = struct{}{}
	}
	out := make([]model.Customer, 0, len(ids))
	for _, c := range all {
		if _, ok := ids[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) loadCustomers(ctx context.Context, _ model.User) ([]model.Customer, error) {
	return repository.FullList[model.Customer](ctx, s.repo, model.CollCustomers, repository.ListQuery{Sort: "navn"})
}

func (s *Store) messageLoader(read, archived bool) cache.Loader[model.Message] {
	expr := "recipient = {:me} && archived = false && read = {:read}"
	if archived {
		expr = "recipient = {:me} && archived = true"
	}
	return func(ctx context.Context, u model.User) ([]model.Message, error) {
		return repository.FullList[model.Message](ctx, s.repo, model.CollMessages, repository.ListQuery{
			Filter: repository.Filter(expr, map[string]any{"me": u.ID, "read": read}),
			Sort:   "-created",
			Expand: "sender",
		})
	}
}

func (s *Store) loadUsers(ctx context.Context, me model.User) ([]model.User, error) {
	all, err := repository.FullList[model.User](ctx, s.repo, model.CollUsers, repository.ListQuery{Sort: "name"})
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(all))
	for _, u := range all {
		if u.ID != me.ID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) loadHourLogs(ctx context.Context, _ model.User) ([]model.HourLog, error) {
	logs, err := repository.FullList[model.HourLog](ctx, s.repo, model.CollHourLogs, repository.ListQuery{
		Sort:   "-dato",
		Expand: "kunde,user",
	})
	if err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].DecimalHours = decimalHours(logs[i])
	}
	return logs, nil
}

func (s *Store) loadProductLogs(ctx context.Context, _ model.User) ([]model.ProductLog, error) {
	return repository.FullList[model.ProductLog](ctx, s.repo, model.CollProductLogs, repository.ListQuery{
		Sort:   "-created",
		Expand: "kunder,product,user",
	})
}

func decimalHours(l model.HourLog) float64 {
	if l.Start != "" && l.End != "" {
		if h, err := timesheet.HoursBetween(l.Start, l.End); err == nil {
			return h
		}
	}
	return l.Hours
}
