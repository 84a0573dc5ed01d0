package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"online-cinema-support/backend/internal/models"
)

// GormChatRepository persists chats in Postgres through gorm.
type GormChatRepository struct {
	db *gorm.DB
}

func NewGormChatRepository(db *gorm.DB) *GormChatRepository {
	return &GormChatRepository{db: db}
}

func (r *GormChatRepository) Create(ctx context.Context, c *models.SupportChat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *GormChatRepository) GetByID(ctx context.Context, id string) (*models.SupportChat, error) {
	var chat models.SupportChat
	err := r.db.WithContext(ctx).First(&chat, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *GormChatRepository) FindOpenByUser(ctx context.Context, userID string) (*models.SupportChat, error) {
	// An active chat outranks a waiting one
	for _, status := range []string{"active", "waiting"} {
		var chat models.SupportChat
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND status = ?", userID, status).
			Order("created_at DESC").
			First(&chat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &chat, nil
	}
	return nil, ErrNotFound
}

func (r *GormChatRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	result := r.db.WithContext(ctx).
		Model(&models.SupportChat{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormChatRepository) TouchLastMessage(ctx context.Context, id string, at int64) error {
	return r.db.WithContext(ctx).
		Model(&models.SupportChat{}).
		Where("id = ?", id).
		Update("last_message_at", at).Error
}

// GormMessageRepository persists messages in Postgres through gorm.
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Save(ctx context.Context, m *models.SupportMessage) error {
	// Replayed messages carry the same id; keep the first copy.
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m).Error
}

func (r *GormMessageRepository) ListByChat(ctx context.Context, chatID string) ([]models.SupportMessage, error) {
	var messages []models.SupportMessage
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
