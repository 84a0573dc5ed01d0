package repository

import (
	"context"
	"errors"

	"online-cinema-support/backend/internal/models"
)

// ErrNotFound is returned when a chat or message does not exist.
var ErrNotFound = errors.New("record not found")

// ChatRepository stores support chat records.
type ChatRepository interface {
	Create(ctx context.Context, c *models.SupportChat) error
	GetByID(ctx context.Context, id string) (*models.SupportChat, error)
	// FindOpenByUser returns the user's open chat, preferring an active
	// one over a waiting one, or ErrNotFound when every chat is closed.
	FindOpenByUser(ctx context.Context, userID string) (*models.SupportChat, error)
	UpdateStatus(ctx context.Context, id string, status string) error
	TouchLastMessage(ctx context.Context, id string, at int64) error
}

// MessageRepository stores chat messages.
type MessageRepository interface {
	// Save inserts the message, ignoring duplicates of the same id.
	Save(ctx context.Context, m *models.SupportMessage) error
	// ListByChat returns the chat's messages ordered by timestamp ascending.
	ListByChat(ctx context.Context, chatID string) ([]models.SupportMessage, error)
}
