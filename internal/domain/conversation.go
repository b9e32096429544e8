package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks an assistant reply through its stream lifecycle.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusComplete MessageStatus = "complete"
	StatusFailed   MessageStatus = "failed"
)

// ChatMessage is a single entry in a conversation transcript. Assistant
// messages start empty and grow as fragments arrive.
type ChatMessage struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	ConversationID string
	LastActivity   time.Time
	Turns          int
}
