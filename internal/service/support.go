package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/models"
	"online-cinema-support/backend/internal/repository"
	"online-cinema-support/backend/pkg/errors"
	"online-cinema-support/backend/pkg/logger"
)

// Upload describes a stored file attachment.
type Upload struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

// SupportService owns the chat lifecycle and message history behind the
// REST API, and doubles as the relay's message sink.
type SupportService struct {
	chats     repository.ChatRepository
	messages  repository.MessageRepository
	uploadDir string
	uploadURL string
	log       *logger.Logger
}

func NewSupportService(
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	uploadDir, uploadURL string,
	log *logger.Logger,
) *SupportService {
	return &SupportService{
		chats:     chats,
		messages:  messages,
		uploadDir: uploadDir,
		uploadURL: strings.TrimRight(uploadURL, "/"),
		log:       log.WithComponent("support-service"),
	}
}

// FindOrCreateChat returns the user's open chat, creating one with status
// waiting when none exists. created reports whether a new chat was made.
func (s *SupportService) FindOrCreateChat(ctx context.Context, userID string) (*chat.SupportChat, bool, error) {
	if userID == "" {
		return nil, false, errors.NewBadRequestError("USER_ID_REQUIRED", "userId is required")
	}

	existing, err := s.chats.FindOpenByUser(ctx, userID)
	if err == nil {
		c := existing.ToChat()
		return &c, false, nil
	}
	if err != repository.ErrNotFound {
		return nil, false, fmt.Errorf("finding chat for user %s: %w", userID, err)
	}

	now := time.Now().UnixMilli()
	record := &models.SupportChat{
		ID:            "chat_" + uuid.NewString(),
		UserID:        userID,
		Status:        string(chat.StatusWaiting),
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if err := s.chats.Create(ctx, record); err != nil {
		return nil, false, fmt.Errorf("creating chat for user %s: %w", userID, err)
	}

	s.log.Info("support chat created", "chat_id", record.ID, "user_id", userID)
	c := record.ToChat()
	return &c, true, nil
}

// GetChatHistory returns the chat's messages in timestamp order.
func (s *SupportService) GetChatHistory(ctx context.Context, chatID string) ([]chat.Message, error) {
	if _, err := s.chats.GetByID(ctx, chatID); err != nil {
		if err == repository.ErrNotFound {
			return nil, errors.NewNotFoundError("CHAT_NOT_FOUND", "chat does not exist")
		}
		return nil, err
	}

	records, err := s.messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for chat %s: %w", chatID, err)
	}

	out := make([]chat.Message, len(records))
	for i, r := range records {
		out[i] = r.ToMessage()
	}
	return out, nil
}

// GetChat returns one chat by id.
func (s *SupportService) GetChat(ctx context.Context, chatID string) (*chat.SupportChat, error) {
	record, err := s.chats.GetByID(ctx, chatID)
	if err == repository.ErrNotFound {
		return nil, errors.NewNotFoundError("CHAT_NOT_FOUND", "chat does not exist")
	}
	if err != nil {
		return nil, err
	}
	c := record.ToChat()
	return &c, nil
}

// UpdateChatStatus moves the chat to the given lifecycle state.
func (s *SupportService) UpdateChatStatus(ctx context.Context, chatID string, status chat.ChatStatus) error {
	if !chat.ValidStatus(status) {
		return errors.NewBadRequestError("INVALID_STATUS", "status must be waiting, active or closed")
	}
	err := s.chats.UpdateStatus(ctx, chatID, string(status))
	if err == repository.ErrNotFound {
		return errors.NewNotFoundError("CHAT_NOT_FOUND", "chat does not exist")
	}
	if err != nil {
		return fmt.Errorf("updating chat %s: %w", chatID, err)
	}
	if err := s.chats.TouchLastMessage(ctx, chatID, time.Now().UnixMilli()); err != nil {
		s.log.Warn("failed to touch chat", "chat_id", chatID, "error", err)
	}
	s.log.Info("support chat status updated", "chat_id", chatID, "status", string(status))
	return nil
}

// SaveMessage records a relayed message in the chat history. It is called
// from the relay for both user and scripted support messages.
func (s *SupportService) SaveMessage(ctx context.Context, m chat.Message) error {
	if !m.Valid() {
		return errors.NewBadRequestError("INVALID_MESSAGE", "message id and chatId are required")
	}
	record := models.FromMessage(m)
	if err := s.messages.Save(ctx, &record); err != nil {
		return fmt.Errorf("saving message %s: %w", m.ID, err)
	}
	if err := s.chats.TouchLastMessage(ctx, m.ChatID, m.Timestamp); err != nil {
		s.log.Warn("failed to touch chat", "chat_id", m.ChatID, "error", err)
	}
	return nil
}

// SaveUpload stores the multipart file on disk under a collision-free name
// and returns the public descriptor the client embeds in a file message.
func (s *SupportService) SaveUpload(_ context.Context, header *multipart.FileHeader) (*Upload, error) {
	src, err := header.Open()
	if err != nil {
		return nil, errors.NewBadRequestError("INVALID_UPLOAD", "cannot read uploaded file")
	}
	defer src.Close()

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("preparing upload dir: %w", err)
	}

	name := uuid.NewString() + sanitizeExt(header.Filename)
	path := filepath.Join(s.uploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating upload file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing upload file: %w", err)
	}

	s.log.Info("file uploaded", "name", header.Filename, "stored_as", name, "size", size)
	return &Upload{
		FileURL:  s.uploadURL + "/" + name,
		FileName: header.Filename,
		FileSize: size,
		FileType: header.Header.Get("Content-Type"),
	}, nil
}

// sanitizeExt keeps only a plain extension from the client-supplied name.
func sanitizeExt(filename string) string {
	ext := filepath.Ext(filepath.Base(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
