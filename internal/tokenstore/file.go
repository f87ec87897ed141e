// Package tokenstore persists the backend session token between CLI runs.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/timesync/internal/crypto/clientcrypto"
	"github.com/and161185/timesync/internal/model"
)

const (
	keyFile     = "key.bin"
	sessionFile = "session.bin"
	purpose     = "timesync/session"
)

var aad = []byte("timesync-session-v1")

type persisted struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// DefaultDir returns $XDG_CONFIG_HOME/timesync or ~/.config/timesync.
func DefaultDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "timesync")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "timesync")
}

// File keeps the token sealed on disk. Without a passphrase the sealing key
// is random and stored next to the session; with one, key.bin holds a salt.
type File struct {
	dir        string
	passphrase []byte
	now        func() time.Time

	mu     sync.Mutex
	loaded bool
	cur    persisted
}

// Option customises a File store.
type Option func(*File)

// WithPassphrase derives the sealing key from a passphrase.
func WithPassphrase(p string) Option { return func(f *File) { f.passphrase = []byte(p) } }

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option { return func(f *File) { f.now = now } }

// NewFile returns a store rooted at dir.
func NewFile(dir string, opts ...Option) *File {
	f := &File{dir: dir, now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Token returns the stored token or "".
func (f *File) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked()
	return f.cur.Token
}

// User returns the user saved alongside the token.
func (f *File) User() (model.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadLocked()
	return f.cur.User, f.cur.Token != "" && f.cur.User.ID != ""
}

// Valid reports whether a token is stored and not expired.
func (f *File) Valid() bool {
	return TokenValid(f.Token(), f.now())
}

// Save persists token and user.
func (f *File) Save(token string, u model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, err := f.key(true)
	if err != nil {
		return err
	}
	pt, err := json.Marshal(persisted{Token: token, User: u})
	if err != nil {
		return err
	}
	sealed, err := clientcrypto.Seal(key, pt, aad)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(f.dir, sessionFile), sealed, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	f.cur = persisted{Token: token, User: u}
	f.loaded = true
	return nil
}

// Clear removes the stored session. A missing file is not an error.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur = persisted{}
	f.loaded = true
	err := os.Remove(filepath.Join(f.dir, sessionFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// loadLocked reads the session once; unreadable or tampered files count as empty.
func (f *File) loadLocked() {
	if f.loaded {
		return
	}
	f.loaded = true
	sealed, err := os.ReadFile(filepath.Join(f.dir, sessionFile))
	if err != nil {
		return
	}
	key, err := f.key(false)
	if err != nil {
		return
	}
	pt, err := clientcrypto.Open(key, sealed, aad)
	if err != nil {
		return
	}
	_ = json.Unmarshal(pt, &f.cur)
}

func (f *File) key(create bool) ([]byte, error) {
	path := filepath.Join(f.dir, keyFile)
	material, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && create {
		n := clientcrypto.KeyLen
		if f.passphrase != nil {
			n = clientcrypto.SaltLen
		}
		if material, err = clientcrypto.Rand(n); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(f.dir, 0o700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, material, 0o600); err != nil {
			return nil, fmt.Errorf("write key: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	master := material
	if f.passphrase != nil {
		master = clientcrypto.DeriveMasterKey(f.passphrase, material)
	}
	return clientcrypto.DeriveKey(master, purpose)
}

// TokenValid reports whether tok is a well-formed JWT whose exp, if any, is after now.
// The signature is not verified; the backend does that on use.
func TokenValid(tok string, now time.Time) bool {
	if tok == "" {
		return false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return now.Before(claims.ExpiresAt.Time)
}
