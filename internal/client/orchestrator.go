package client

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/protocol"
	"online-cinema-support/backend/pkg/logger"
)

// Labels shown for non-text messages, matching what the support operators
// see in their console.
const (
	fileContentPrefix   = "Файл: "
	voiceMessageContent = "Голосовое сообщение"
)

// Orchestrator binds the REST bootstrap, the session store and the
// connection manager into the operations a UI consumes. One instance
// serves one user for the lifetime of the page or process.
type Orchestrator struct {
	api     *SupportAPI
	store   *SessionStore
	manager *ConnectionManager
	log     *logger.Logger

	mu           sync.Mutex
	userID       string
	bootstrapped bool

	unsubMessages func()
}

// NewOrchestrator wires the three collaborators together. Inbound relay
// messages flow into the store from construction on.
func NewOrchestrator(api *SupportAPI, store *SessionStore, manager *ConnectionManager, log *logger.Logger) *Orchestrator {
	o := &Orchestrator{
		api:     api,
		store:   store,
		manager: manager,
		log:     log.WithComponent("orchestrator"),
	}
	o.unsubMessages = manager.OnMessage(func(m chat.Message) {
		store.Append(m)
	})
	return o
}

// Bootstrap resolves the user's support chat via the REST collaborator
// and opens the channel. It runs at most once per user id; repeated calls
// for the same user are no-ops so remounting a widget cannot issue
// duplicate create-chat requests. A failed bootstrap releases the guard
// so the user can retry.
func (o *Orchestrator) Bootstrap(ctx context.Context, userID string) error {
	o.mu.Lock()
	if o.bootstrapped && o.userID == userID {
		o.mu.Unlock()
		return nil
	}
	o.bootstrapped = true
	o.userID = userID
	o.mu.Unlock()

	fail := func(err error) error {
		o.mu.Lock()
		o.bootstrapped = false
		o.mu.Unlock()
		return err
	}

	// Resume the persisted session when we already know the chat;
	// otherwise ask the collaborator to find or create one.
	chatID := o.store.ChatID()
	if chatID == "" {
		sc, err := o.api.CreateOrGetChat(ctx, userID)
		if err != nil {
			return fail(fmt.Errorf("bootstrap support chat: %w", err))
		}
		chatID = sc.ID
		o.store.SetChatID(chatID)
		o.log.Info("support chat resolved", "chat_id", chatID, "status", string(sc.Status))
	}

	// History fetch is best-effort: the persisted snapshot already gives
	// the user their prior messages
	if history, err := o.api.GetChatHistory(ctx, chatID); err != nil {
		o.log.LogError(err, "failed to fetch chat history", "chat_id", chatID)
	} else if len(history) > 0 {
		o.store.ReplaceAll(history)
	}

	if err := o.manager.Connect(userID, chatID); err != nil {
		// The manager keeps retrying on its own; the session itself is
		// bootstrapped
		o.log.LogError(err, "initial connect failed", "chat_id", chatID)
	}
	return nil
}

// SendMessage sends a text message. The message is appended to the local
// store before transmission, so it stays visible even when delivery
// fails; the transport error is returned for the UI to surface.
func (o *Orchestrator) SendMessage(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	return o.push(o.newMessage(content, chat.TypeText, func(*chat.Message) {}))
}

// SendFile uploads the file via the REST collaborator and sends a
// file-typed message referencing it. When the upload fails, the message
// falls back to a local file URL: the sender still sees the attempt even
// though the file was never durably stored.
func (o *Orchestrator) SendFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	fileName := filepath.Base(path)
	fileURL := ""
	if res, err := o.api.UploadFile(ctx, o.store.ChatID(), o.currentUserID(), fileName, f); err != nil {
		o.log.LogError(err, "file upload failed, using local url", "file", fileName)
		fileURL = localFileURL(path)
	} else {
		fileURL = res.FileURL
	}

	msg := o.newMessage(fileContentPrefix+fileName, chat.TypeFile, func(m *chat.Message) {
		m.FileName = fileName
		m.FileURL = fileURL
		m.FileType = contentTypeFor(fileName)
	})
	return o.push(msg)
}

// SendVoiceMessage uploads the recorded audio and sends a voice-typed
// message with its duration. Upload failure falls back to a local URL,
// same as SendFile.
func (o *Orchestrator) SendVoiceMessage(ctx context.Context, path string, durationSeconds float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open voice recording: %w", err)
	}
	defer f.Close()

	fileName := filepath.Base(path)
	fileURL := ""
	if res, err := o.api.UploadFile(ctx, o.store.ChatID(), o.currentUserID(), fileName, f); err != nil {
		o.log.LogError(err, "voice upload failed, using local url", "file", fileName)
		fileURL = localFileURL(path)
	} else {
		fileURL = res.FileURL
	}

	msg := o.newMessage(voiceMessageContent, chat.TypeVoice, func(m *chat.Message) {
		m.FileURL = fileURL
		m.VoiceDuration = durationSeconds
	})
	return o.push(msg)
}

// CloseChat marks the conversation closed via the REST collaborator and
// resets the local session so the next bootstrap starts a fresh chat.
func (o *Orchestrator) CloseChat(ctx context.Context) error {
	chatID := o.store.ChatID()
	if chatID != "" {
		if _, err := o.api.UpdateChatStatus(ctx, chatID, chat.StatusClosed); err != nil {
			return fmt.Errorf("close support chat: %w", err)
		}
	}
	o.store.Reset()
	o.mu.Lock()
	o.bootstrapped = false
	o.mu.Unlock()
	return nil
}

// Close releases the message subscription and closes the channel. The
// store keeps its snapshot so a restart resumes the conversation.
func (o *Orchestrator) Close() {
	if o.unsubMessages != nil {
		o.unsubMessages()
	}
	o.manager.Disconnect()
}

func (o *Orchestrator) currentUserID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userID
}

func (o *Orchestrator) newMessage(content string, typ chat.MessageType, fill func(*chat.Message)) chat.Message {
	m := chat.Message{
		ID:            uuid.New().String(),
		UserID:        o.currentUserID(),
		ChatID:        o.store.ChatID(),
		Content:       content,
		Type:          typ,
		Timestamp:     time.Now().UnixMilli(),
		IsFromSupport: false,
	}
	fill(&m)
	return m
}

// push appends optimistically, then transmits. The append always happens
// first so the history shows the attempt regardless of transport state.
func (o *Orchestrator) push(m chat.Message) error {
	o.store.Append(m)
	return o.manager.Send(protocol.NewMessage(m))
}

func contentTypeFor(fileName string) string {
	if ct := mime.TypeByExtension(filepath.Ext(fileName)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func localFileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs
}
