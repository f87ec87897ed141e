package repository

import (
	"context"

	"github.com/and161185/timesync/internal/model"
)

// AuthResult is a successful authentication answer.
type AuthResult struct {
	Token string
	User  model.User
}

// AuthRepository authenticates against the backend user collection.
type AuthRepository interface {
	// AuthWithPassword exchanges identifier/secret for a token.
	AuthWithPassword(ctx context.Context, identity, password string) (AuthResult, error)
	// AuthRefresh exchanges the current token for a new one.
	AuthRefresh(ctx context.Context) (AuthResult, error)
}

// TokenSource supplies the bearer token attached to backend requests.
type TokenSource interface {
	Token() string
}

// EmailLogRepository stores send-email audit rows.
type EmailLogRepository interface {
	Record(ctx context.Context, l *model.EmailLog) error
}
