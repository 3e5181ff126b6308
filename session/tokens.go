package session

import (
	"context"
	"sync"
)

// TokenStore is the durable single-slot holder of the bearer token. An empty
// slot is reported as ("", nil). Writes are last-write-wins and must not
// expose partial values to readers.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// MemoryTokenStore keeps the token for the lifetime of the process only.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

// NewMemoryTokenStore returns an empty in-memory slot.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// NewMemoryTokenStoreWith returns an in-memory slot pre-filled with token,
// as if a previous run had persisted it.
func NewMemoryTokenStoreWith(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (m *MemoryTokenStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokenStore) Save(_ context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Delete(context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	return nil
}
