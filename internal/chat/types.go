package chat

// MessageType classifies a chat entry.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeFile   MessageType = "file"
	TypeVoice  MessageType = "voice"
	TypeSystem MessageType = "system"
)

// Message is a single user- or support-authored chat entry. The ID is
// generated by whichever side created the message and is the sole
// deduplication key; messages are never mutated after creation.
type Message struct {
	ID            string      `json:"id"`
	UserID        string      `json:"userId"`
	ChatID        string      `json:"chatId"`
	Content       string      `json:"content"`
	Type          MessageType `json:"type"`
	Timestamp     int64       `json:"timestamp"` // epoch milliseconds
	IsFromSupport bool        `json:"isFromSupport"`
	FileName      string      `json:"fileName,omitempty"`
	FileURL       string      `json:"fileUrl,omitempty"`
	FileType      string      `json:"fileType,omitempty"`
	VoiceDuration float64     `json:"voiceDuration,omitempty"` // seconds
}

// Valid reports whether the message carries the fields every wire
// message must have.
func (m Message) Valid() bool {
	return m.ID != "" && m.ChatID != ""
}

// ChatStatus is the lifecycle state of a support conversation.
type ChatStatus string

const (
	StatusWaiting ChatStatus = "waiting"
	StatusActive  ChatStatus = "active"
	StatusClosed  ChatStatus = "closed"
)

// ValidStatus reports whether s is one of the known chat statuses.
func ValidStatus(s ChatStatus) bool {
	switch s {
	case StatusWaiting, StatusActive, StatusClosed:
		return true
	}
	return false
}

// SupportChat identifies one support conversation for a user.
type SupportChat struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Status        ChatStatus `json:"status"`
	CreatedAt     int64      `json:"createdAt"`     // epoch milliseconds
	LastMessageAt int64      `json:"lastMessageAt"` // epoch milliseconds
}
