// Package presence tracks which users currently hold a live support-chat
// connection. The relay hub writes to it on user_joined/user_left and on
// physical close; the REST API reads it for the operator dashboard.
package presence

import (
	"context"
	"sync"
)

// Entry is one live connection's identity tags.
type Entry struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// Store records live connections. Implementations must tolerate repeated
// Leave calls for the same connection id.
type Store interface {
	Join(ctx context.Context, connID string, e Entry) error
	Leave(ctx context.Context, connID string) error
	List(ctx context.Context) ([]Entry, error)
	Count(ctx context.Context) (int, error)
}

// MemoryStore is the in-process implementation used when no Redis mirror
// is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory presence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Join(_ context.Context, connID string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[connID] = e
	return nil
}

func (s *MemoryStore) Leave(_ context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, connID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}
