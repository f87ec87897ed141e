// Package service holds the client-side session, cache and write-path logic
// on top of the backend repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/timesync/internal/errs"
	"github.com/and161185/timesync/internal/model"
	"github.com/and161185/timesync/internal/reactive"
	"github.com/and161185/timesync/internal/repository"
)

// DefaultAutoRefresh is the token refresh period used by the CLI watcher.
const DefaultAutoRefresh = 24 * time.Hour

// State is the lifecycle phase of the session.
type State int

const (
	StateUnauthenticated State = iota
	StateInitializing
	StateAuthenticated
	StateRefreshing
	StateLoggingIn
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateLoggingIn:
		return "logging-in"
	}
	return "unauthenticated"
}

// Session is the single authenticated identity of the process.
type Session struct {
	State State
	User  *model.User
	Token string
}

// IsAuthenticated reports whether a user and token are present.
func (s Session) IsAuthenticated() bool { return s.User != nil && s.Token != "" }

// IsAdmin reports whether the signed-in user is an admin.
func (s Session) IsAdmin() bool { return s.User != nil && s.User.IsAdmin() }

// DisplayName names the signed-in user, or "Anonymous User".
func (s Session) DisplayName() string {
	if s.User == nil {
		return "Anonymous User"
	}
	return s.User.DisplayName()
}

// TokenStore persists the backend token and the user it belongs to.
type TokenStore interface {
	Token() string
	User() (model.User, bool)
	Valid() bool
	Save(token string, u model.User) error
	Clear() error
}

// AuthProvider owns the Session. Login, refresh and initialization are
// mutually exclusive; Logout always wins.
type AuthProvider struct {
	auth    repository.AuthRepository
	records repository.CollectionRepository
	tokens  TokenStore
	log     *zap.Logger

	session *reactive.Container[Session]
	lastErr *reactive.Container[error]

	sf          singleflight.Group
	mu          sync.Mutex
	busy        bool
	initialized bool
}

// NewAuthProvider constructs an AuthProvider; log may be nil.
func NewAuthProvider(auth repository.AuthRepository, records repository.CollectionRepository, tokens TokenStore, log *zap.Logger) *AuthProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthProvider{
		auth:    auth,
		records: records,
		tokens:  tokens,
		log:     log,
		session: reactive.New(Session{}),
		lastErr: reactive.New[error](nil),
	}
}

// Session exposes the observable session.
func (a *AuthProvider) Session() *reactive.Container[Session] { return a.session }

// LastError holds the most recent auth failure, nil after success.
func (a *AuthProvider) LastError() *reactive.Container[error] { return a.lastErr }

// CurrentUser returns the signed-in user.
func (a *AuthProvider) CurrentUser() (model.User, bool) {
	s := a.session.Get()
	if !s.IsAuthenticated() {
		return model.User{}, false
	}
	return *s.User, true
}

// RequireUser is CurrentUser with ErrAuthRequired.
func (a *AuthProvider) RequireUser() (model.User, error) {
	u, ok := a.CurrentUser()
	if !ok {
		return model.User{}, errs.ErrAuthRequired
	}
	return u, nil
}

// Initialize restores the session from the stored token, verifying it with a
// remote probe. Concurrent callers share one run and receive the same user.
func (a *AuthProvider) Initialize(ctx context.Context) *model.User {
	v, _, _ := a.sf.Do("init", func() (any, error) {
		return a.initialize(context.WithoutCancel(ctx)), nil
	})
	return v.(*model.User)
}

func (a *AuthProvider) initialize(ctx context.Context) *model.User {
	a.mu.Lock()
	done := a.initialized
	a.mu.Unlock()
	if done {
		return a.session.Get().User
	}
	if !a.begin(StateInitializing) {
		// login or refresh in flight
		return a.session.Get().User
	}
	defer a.end()

	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()

	stored, ok := a.tokens.User()
	if !a.tokens.Valid() || !ok {
		a.clearLocal()
		return nil
	}

	u, err := repository.One[model.User](ctx, a.records, model.CollUsers, stored.ID, repository.ListQuery{})
	if err != nil {
		a.log.Warn("stored session rejected", zap.String("user", stored.ID), zap.Error(err))
		a.lastErr.Set(err)
		a.clearLocal()
		return nil
	}

	a.session.Set(Session{State: StateInitializing, User: &u, Token: a.tokens.Token()})
	a.lastErr.Set(nil)
	a.log.Info("session restored", zap.String("user", u.DisplayName()))
	return &u
}

// Login authenticates with identifier and secret and replaces the Session.
func (a *AuthProvider) Login(ctx context.Context, identifier, secret string) error {
	if strings.TrimSpace(identifier) == "" || secret == "" {
		return fmt.Errorf("%w: identifier and secret are required", errs.ErrInvalidInput)
	}
	if !a.begin(StateLoggingIn) {
		return errs.ErrConcurrentOperation
	}
	defer a.end()

	res, err := a.auth.AuthWithPassword(ctx, identifier, secret)
	if err == nil && (res.Token == "" || res.User.ID == "") {
		err = errors.New("authentication failed: empty response")
	}
	if err != nil {
		a.lastErr.Set(err)
		a.clearLocal()
		var ue *errs.UpstreamError
		if errors.As(err, &ue) && ue.Rejected() {
			return fmt.Errorf("%w: %w", errs.ErrInvalidCredentials, err)
		}
		return err
	}

	if err := a.tokens.Save(res.Token, res.User); err != nil {
		a.log.Warn("persist token", zap.Error(err))
	}
	u := res.User
	a.session.Set(Session{State: StateLoggingIn, User: &u, Token: res.Token})
	a.lastErr.Set(nil)

	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()

	a.log.Info("logged in", zap.String("user", u.DisplayName()))
	return nil
}

// Logout drops the session and the stored token. It never fails.
func (a *AuthProvider) Logout() {
	a.clearLocal()
	a.mu.Lock()
	a.initialized = false
	a.mu.Unlock()
}

// Refresh renews the token. It returns false without a remote call when no
// valid token exists or another exclusive operation runs, and logs out when
// the backend refuses.
func (a *AuthProvider) Refresh(ctx context.Context) bool {
	if !a.tokens.Valid() {
		return false
	}
	if !a.begin(StateRefreshing) {
		return false
	}
	defer a.end()

	res, err := a.auth.AuthRefresh(ctx)
	if err != nil {
		a.log.Warn("token refresh failed, logging out", zap.Error(err))
		a.lastErr.Set(err)
		a.Logout()
		return false
	}

	if err := a.tokens.Save(res.Token, res.User); err != nil {
		a.log.Warn("persist token", zap.Error(err))
	}
	u := res.User
	a.session.Set(Session{State: StateRefreshing, User: &u, Token: res.Token})
	a.lastErr.Set(nil)
	return true
}

// StartAutoRefresh refreshes the token every interval while a session is
// active, until ctx is done.
func (a *AuthProvider) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoRefresh
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if a.session.Get().IsAuthenticated() {
					a.Refresh(ctx)
				}
			}
		}
	}()
}

// begin takes the exclusive-operation flag and publishes st.
func (a *AuthProvider) begin(st State) bool {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return false
	}
	a.busy = true
	a.mu.Unlock()

	a.session.Update(func(s Session) Session {
		s.State = st
		return s
	})
	return true
}

// end releases the flag and settles the state from the session contents.
func (a *AuthProvider) end() {
	a.session.Update(func(s Session) Session {
		if s.IsAuthenticated() {
			s.State = StateAuthenticated
		} else {
			s.State = StateUnauthenticated
		}
		return s
	})
	a.mu.Lock()
	a.busy = false
	a.mu.Unlock()
}

func (a *AuthProvider) clearLocal() {
	if err := a.tokens.Clear(); err != nil {
		a.log.Warn("clear stored token", zap.Error(err))
	}
	a.session.Set(Session{})
}
