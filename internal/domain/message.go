package domain

import (
	"context"
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether the role is one of the known roles
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents an immutable entry in a session
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// MessageSend represents a message.send payload
type MessageSend struct {
	SessionID string         `json:"session_id,omitempty"`
	Role      MessageRole    `json:"role,omitempty" validate:"omitempty,oneof=user assistant system"`
	Content   string         `json:"content" validate:"required,max=65536"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	// ListBySession returns messages oldest first. limit <= 0 means no limit.
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]Message, error)
}
