// Package protocol defines the wire format shared by the support-chat
// client and the relay server. Envelopes travel as UTF-8 JSON text frames
// over a websocket; the payload shape is determined by the kind tag and is
// checked exhaustively when a frame is parsed.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"online-cinema-support/backend/internal/chat"
)

// Kind tags the payload carried by an envelope.
type Kind string

const (
	KindMessage      Kind = "message"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
	KindUserJoined   Kind = "user_joined"
	KindUserLeft     Kind = "user_left"
	KindTyping       Kind = "typing"
	KindFileUploaded Kind = "file_uploaded"
)

var (
	// ErrUnknownKind is returned when a frame carries a kind tag this
	// protocol version does not understand.
	ErrUnknownKind = errors.New("protocol: unknown envelope kind")
	// ErrBadPayload is returned when a payload does not match its kind.
	ErrBadPayload = errors.New("protocol: malformed payload")
)

// Presence identifies the sender of ping, pong, user_joined and user_left
// envelopes.
type Presence struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// Typing signals that a participant started or stopped typing.
type Typing struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// FileUploaded announces that a file finished uploading out of band.
type FileUploaded struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// Envelope is the outer wire record. Exactly one payload field is set and
// it matches Kind; Marshal rejects envelopes that violate this.
type Envelope struct {
	Kind   Kind
	SentAt int64 // epoch milliseconds

	Message  *chat.Message
	Presence *Presence
	Typing   *Typing
	File     *FileUploaded
}

// wireEnvelope is the JSON shape on the socket.
type wireEnvelope struct {
	Type      Kind            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func now() int64 { return time.Now().UnixMilli() }

// NewMessage wraps a chat message for transport.
func NewMessage(m chat.Message) Envelope {
	return Envelope{Kind: KindMessage, SentAt: now(), Message: &m}
}

// NewPing builds a heartbeat envelope identifying the sender.
func NewPing(userID, chatID string) Envelope {
	return Envelope{Kind: KindPing, SentAt: now(), Presence: &Presence{UserID: userID, ChatID: chatID}}
}

// NewPong builds the heartbeat reply, echoing the sender identity from the
// ping it answers.
func NewPong(p Presence) Envelope {
	return Envelope{Kind: KindPong, SentAt: now(), Presence: &p}
}

// NewUserJoined announces a participant on a freshly opened connection.
func NewUserJoined(userID, chatID string) Envelope {
	return Envelope{Kind: KindUserJoined, SentAt: now(), Presence: &Presence{UserID: userID, ChatID: chatID}}
}

// NewUserLeft announces a participant leaving before a normal close.
func NewUserLeft(userID, chatID string) Envelope {
	return Envelope{Kind: KindUserLeft, SentAt: now(), Presence: &Presence{UserID: userID, ChatID: chatID}}
}

// NewTyping builds a typing indicator envelope.
func NewTyping(userID, chatID string, isTyping bool) Envelope {
	return Envelope{Kind: KindTyping, SentAt: now(), Typing: &Typing{UserID: userID, ChatID: chatID, IsTyping: isTyping}}
}

// NewFileUploaded builds a file-upload notification envelope.
func NewFileUploaded(f FileUploaded) Envelope {
	return Envelope{Kind: KindFileUploaded, SentAt: now(), File: &f}
}

// Marshal serializes the envelope to its wire form.
func (e Envelope) Marshal() ([]byte, error) {
	var payload any
	switch e.Kind {
	case KindMessage:
		if e.Message == nil || !e.Message.Valid() {
			return nil, fmt.Errorf("%w: message envelope without a valid message", ErrBadPayload)
		}
		payload = e.Message
	case KindPing, KindPong, KindUserJoined, KindUserLeft:
		if e.Presence == nil {
			return nil, fmt.Errorf("%w: %s envelope without presence payload", ErrBadPayload, e.Kind)
		}
		payload = e.Presence
	case KindTyping:
		if e.Typing == nil {
			return nil, fmt.Errorf("%w: typing envelope without typing payload", ErrBadPayload)
		}
		payload = e.Typing
	case KindFileUploaded:
		if e.File == nil {
			return nil, fmt.Errorf("%w: file_uploaded envelope without file payload", ErrBadPayload)
		}
		payload = e.File
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	return json.Marshal(wireEnvelope{Type: e.Kind, Payload: raw, Timestamp: e.SentAt})
}

// Parse decodes a wire frame into an Envelope. Any error means the frame
// must be discarded; the connection stays usable.
func Parse(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode frame: %w", err)
	}

	e := Envelope{Kind: w.Type, SentAt: w.Timestamp}
	switch w.Type {
	case KindMessage:
		var m chat.Message
		if err := json.Unmarshal(w.Payload, &m); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if !m.Valid() {
			return Envelope{}, fmt.Errorf("%w: message missing id or chatId", ErrBadPayload)
		}
		e.Message = &m
	case KindPing, KindPong, KindUserJoined, KindUserLeft:
		var p Presence
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		e.Presence = &p
	case KindTyping:
		var t Typing
		if err := json.Unmarshal(w.Payload, &t); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		e.Typing = &t
	case KindFileUploaded:
		var f FileUploaded
		if err := json.Unmarshal(w.Payload, &f); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		e.File = &f
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, w.Type)
	}
	return e, nil
}
