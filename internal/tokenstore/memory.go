package tokenstore

import (
	"sync"
	"time"

	"github.com/and161185/timesync/internal/model"
)

// Memory is an in-process store, used when persistence is disabled.
type Memory struct {
	mu    sync.Mutex
	token string
	user  model.User
	Now   func() time.Time
}

func (m *Memory) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *Memory) User() (model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user, m.token != "" && m.user.ID != ""
}

func (m *Memory) Valid() bool {
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}
	return TokenValid(m.Token(), now)
}

func (m *Memory) Save(token string, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.user = token, u
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.user = "", model.User{}
	return nil
}
