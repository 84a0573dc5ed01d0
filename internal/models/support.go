package models

import (
	"online-cinema-support/backend/internal/chat"
)

// SupportChat is the persisted form of one support conversation.
type SupportChat struct {
	ID            string `json:"id" gorm:"primaryKey"`
	UserID        string `json:"user_id" gorm:"index"`
	Status        string `json:"status" gorm:"index"`
	CreatedAt     int64  `json:"created_at"`      // epoch milliseconds
	LastMessageAt int64  `json:"last_message_at"` // epoch milliseconds
}

// ToChat converts the record to the wire representation.
func (s SupportChat) ToChat() chat.SupportChat {
	return chat.SupportChat{
		ID:            s.ID,
		UserID:        s.UserID,
		Status:        chat.ChatStatus(s.Status),
		CreatedAt:     s.CreatedAt,
		LastMessageAt: s.LastMessageAt,
	}
}

// SupportMessage is the persisted form of one chat message. The primary
// key is the sender-generated message id, so replays collapse naturally.
type SupportMessage struct {
	ID            string  `json:"id" gorm:"primaryKey"`
	ChatID        string  `json:"chat_id" gorm:"index"`
	UserID        string  `json:"user_id"`
	Content       string  `json:"content"`
	Type          string  `json:"type"`
	Timestamp     int64   `json:"timestamp" gorm:"index"` // epoch milliseconds
	IsFromSupport bool    `json:"is_from_support"`
	FileName      string  `json:"file_name"`
	FileURL       string  `json:"file_url"`
	FileType      string  `json:"file_type"`
	VoiceDuration float64 `json:"voice_duration"`
}

// ToMessage converts the record to the wire representation.
func (m SupportMessage) ToMessage() chat.Message {
	return chat.Message{
		ID:            m.ID,
		UserID:        m.UserID,
		ChatID:        m.ChatID,
		Content:       m.Content,
		Type:          chat.MessageType(m.Type),
		Timestamp:     m.Timestamp,
		IsFromSupport: m.IsFromSupport,
		FileName:      m.FileName,
		FileURL:       m.FileURL,
		FileType:      m.FileType,
		VoiceDuration: m.VoiceDuration,
	}
}

// FromMessage builds a record from the wire representation.
func FromMessage(m chat.Message) SupportMessage {
	return SupportMessage{
		ID:            m.ID,
		ChatID:        m.ChatID,
		UserID:        m.UserID,
		Content:       m.Content,
		Type:          string(m.Type),
		Timestamp:     m.Timestamp,
		IsFromSupport: m.IsFromSupport,
		FileName:      m.FileName,
		FileURL:       m.FileURL,
		FileType:      m.FileType,
		VoiceDuration: m.VoiceDuration,
	}
}
