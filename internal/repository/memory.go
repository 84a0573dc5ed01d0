package repository

import (
	"context"
	"sort"
	"sync"

	"online-cinema-support/backend/internal/models"
)

// MemoryChatRepository is an in-memory ChatRepository. It backs tests and
// runs where no database is configured.
type MemoryChatRepository struct {
	mu    sync.RWMutex
	chats map[string]models.SupportChat
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{chats: make(map[string]models.SupportChat)}
}

func (r *MemoryChatRepository) Create(_ context.Context, c *models.SupportChat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats[c.ID] = *c
	return nil
}

func (r *MemoryChatRepository) GetByID(_ context.Context, id string) (*models.SupportChat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chat, ok := r.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &chat, nil
}

func (r *MemoryChatRepository) FindOpenByUser(_ context.Context, userID string) (*models.SupportChat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, status := range []string{"active", "waiting"} {
		var found *models.SupportChat
		for _, chat := range r.chats {
			if chat.UserID != userID || chat.Status != status {
				continue
			}
			if found == nil || chat.CreatedAt > found.CreatedAt {
				c := chat
				found = &c
			}
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryChatRepository) UpdateStatus(_ context.Context, id string, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok {
		return ErrNotFound
	}
	chat.Status = status
	r.chats[id] = chat
	return nil
}

func (r *MemoryChatRepository) TouchLastMessage(_ context.Context, id string, at int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok {
		return ErrNotFound
	}
	chat.LastMessageAt = at
	r.chats[id] = chat
	return nil
}

// MemoryMessageRepository is an in-memory MessageRepository.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]models.SupportMessage
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[string]models.SupportMessage)}
}

func (r *MemoryMessageRepository) Save(_ context.Context, m *models.SupportMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ID]; ok {
		return nil
	}
	r.messages[m.ID] = *m
	return nil
}

func (r *MemoryMessageRepository) ListByChat(_ context.Context, chatID string) ([]models.SupportMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.SupportMessage
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}
