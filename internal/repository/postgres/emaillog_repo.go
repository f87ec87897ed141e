package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/repository"
)

// EmailLogRepo implements EmailLogRepository using PostgreSQL.
type EmailLogRepo struct{ db *DB }

var _ repository.EmailLogRepository = (*EmailLogRepo)(nil)

// NewEmailLogRepo constructs an email audit repository.
func NewEmailLogRepo(db *DB) *EmailLogRepo { return &EmailLogRepo{db: db} }

// Record inserts one audit row, assigning an id when missing, and fills
// CreatedAt from the database.
func (r *EmailLogRepo) Record(ctx context.Context, l *model.EmailLog) error {
	if l.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		l.ID = id
	}
	const q = `
INSERT INTO email_log (id, request_id, recipients, subject, status, error)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, l.ID, l.RequestID, l.Recipients, l.Subject, l.Status, l.Error).Scan(&l.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: duplicate email log id %s", errs.ErrInvalidInput, l.ID)
	}
	return err
}
