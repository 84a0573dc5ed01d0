package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"online-cinema-support/backend/internal/chat"
)

// UploadResult is the REST upload endpoint's response.
type UploadResult struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

// SupportAPI is the HTTP client for the support REST collaborator:
// find-or-create chat, chat history, uploads and status updates.
type SupportAPI struct {
	client  *http.Client
	baseURL string
}

// NewSupportAPI creates a client for the support REST API at baseURL.
func NewSupportAPI(baseURL string, timeout time.Duration) *SupportAPI {
	return &SupportAPI{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// CreateOrGetChat finds the user's active or waiting chat, creating one
// when none exists. Idempotent per user while a chat stays open.
func (a *SupportAPI) CreateOrGetChat(ctx context.Context, userID string) (chat.SupportChat, error) {
	body, err := json.Marshal(map[string]string{"userId": userID})
	if err != nil {
		return chat.SupportChat{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/support/chat", bytes.NewReader(body))
	if err != nil {
		return chat.SupportChat{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return chat.SupportChat{}, fmt.Errorf("create support chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return chat.SupportChat{}, fmt.Errorf("create support chat: unexpected status %d", resp.StatusCode)
	}

	var sc chat.SupportChat
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		return chat.SupportChat{}, fmt.Errorf("decode support chat: %w", err)
	}
	return sc, nil
}

// GetChatHistory fetches the chat's messages ordered by timestamp
// ascending.
func (a *SupportAPI) GetChatHistory(ctx context.Context, chatID string) ([]chat.Message, error) {
	url := fmt.Sprintf("%s/api/support/chat/%s/messages", a.baseURL, chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chat history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch chat history: unexpected status %d", resp.StatusCode)
	}

	var messages []chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", err)
	}
	return messages, nil
}

// UploadFile posts the file as multipart form data and returns the
// durable URL the relay-side storage assigned.
func (a *SupportAPI) UploadFile(ctx context.Context, chatID, userID, fileName string, r io.Reader) (UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return UploadResult{}, fmt.Errorf("read upload: %w", err)
	}
	w.WriteField("chatId", chatID)
	w.WriteField("userId", userID)
	if err := w.Close(); err != nil {
		return UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/support/upload", &buf)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UploadResult{}, fmt.Errorf("upload file: unexpected status %d", resp.StatusCode)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload result: %w", err)
	}
	return result, nil
}

// UpdateChatStatus moves the chat to a new lifecycle status.
func (a *SupportAPI) UpdateChatStatus(ctx context.Context, chatID string, status chat.ChatStatus) (chat.SupportChat, error) {
	body, err := json.Marshal(map[string]string{"status": string(status)})
	if err != nil {
		return chat.SupportChat{}, err
	}

	url := fmt.Sprintf("%s/api/support/chat/%s", a.baseURL, chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return chat.SupportChat{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return chat.SupportChat{}, fmt.Errorf("update chat status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return chat.SupportChat{}, fmt.Errorf("update chat status: unexpected status %d", resp.StatusCode)
	}

	var sc chat.SupportChat
	if err := json.NewDecoder(resp.Body).Decode(&sc); err != nil {
		return chat.SupportChat{}, fmt.Errorf("decode support chat: %w", err)
	}
	return sc, nil
}
