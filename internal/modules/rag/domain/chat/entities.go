package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation, immutable once appended.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
