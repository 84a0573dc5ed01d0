package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/pkg/logger"
)

// snapshot is the durable shape of the store, written wholesale after
// every mutation and read back before any network activity.
type snapshot struct {
	Messages []chat.Message `json:"messages"`
	ChatID   string         `json:"chatId"`
	// Always persisted false; loading state never survives a restart
	IsLoading bool `json:"isLoading"`
}

// SessionStore holds the ordered, deduplicated message log plus the
// session identity. Display order is arrival order, never timestamp
// order, and the message id is the sole deduplication key.
type SessionStore struct {
	mu       sync.Mutex
	messages []chat.Message
	byID     map[string]struct{}
	chatID   string
	path     string // snapshot file; empty disables persistence
	log      *logger.Logger
	subs     []storeSub
	nextSub  int
}

type storeSub struct {
	id int
	fn func(chat.Message)
}

// NewSessionStore creates a store persisted at path and rehydrates it
// from the previous snapshot, if one exists. An empty path keeps the
// store purely in memory.
func NewSessionStore(path string, log *logger.Logger) *SessionStore {
	s := &SessionStore{
		byID: make(map[string]struct{}),
		path: path,
		log:  log.WithComponent("session-store"),
	}
	s.load()
	return s
}

// Append inserts the message unless an entry with the same id already
// exists. It reports whether the message was inserted. Subscribers are
// notified only for inserted messages, in registration order.
func (s *SessionStore) Append(m chat.Message) bool {
	s.mu.Lock()
	if _, dup := s.byID[m.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages, m)
	s.byID[m.ID] = struct{}{}
	s.persistLocked()
	subs := make([]storeSub, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(m)
	}
	return true
}

// ReplaceAll swaps the whole log, preserving the insertion order of the
// input. Used when hydrating from fetched history.
func (s *SessionStore) ReplaceAll(messages []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]chat.Message, len(messages))
	copy(s.messages, messages)
	s.byID = make(map[string]struct{}, len(messages))
	for _, m := range messages {
		s.byID[m.ID] = struct{}{}
	}
	s.persistLocked()
}

// Reset clears the message log and the session id together.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.byID = make(map[string]struct{})
	s.chatID = ""
	s.persistLocked()
}

// Messages returns a copy of the log in arrival order.
func (s *SessionStore) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// ChatID returns the persisted session id, or "" when none is set.
func (s *SessionStore) ChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

// SetChatID records the session id and persists it with the log.
func (s *SessionStore) SetChatID(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = chatID
	s.persistLocked()
}

// Subscribe registers a callback invoked for every newly inserted
// message. It returns an unsubscribe function.
func (s *SessionStore) Subscribe(fn func(chat.Message)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, storeSub{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// persistLocked writes the full snapshot. Failures are logged and
// swallowed; losing a snapshot must never break the chat.
func (s *SessionStore) persistLocked() {
	if s.path == "" {
		return
	}

	snap := snapshot{Messages: s.messages, ChatID: s.chatID}
	if snap.Messages == nil {
		snap.Messages = []chat.Message{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		s.log.LogError(err, "failed to encode chat snapshot")
		return
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		s.log.LogError(err, "failed to persist chat snapshot", "path", s.path)
	}
}

func (s *SessionStore) load() {
	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.LogError(err, "failed to read chat snapshot", "path", s.path)
		}
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot falls back to the empty state
		s.log.LogError(err, "failed to decode chat snapshot", "path", s.path)
		return
	}

	s.messages = snap.Messages
	s.chatID = snap.ChatID
	for _, m := range s.messages {
		s.byID[m.ID] = struct{}{}
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
