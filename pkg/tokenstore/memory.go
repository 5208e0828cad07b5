package tokenstore

import (
	"context"
	"sync"
	"time"
)

// Memory keeps the token in process, optionally expiring it after ttl.
type Memory struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

// NewMemory creates an in-process store. A ttl of zero never expires.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now}
}

// Load returns the stored token, or "" once it expired.
func (m *Memory) Load(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" || (!m.expiresAt.IsZero() && !m.now().Before(m.expiresAt)) {
		return "", nil
	}
	return m.token, nil
}

// Save replaces the stored token and restarts its ttl.
func (m *Memory) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresAt = time.Time{}
	if token != "" && m.ttl > 0 {
		m.expiresAt = m.now().Add(m.ttl)
	}
	return nil
}
