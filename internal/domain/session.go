package domain

import (
	"context"
	"time"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusInactive SessionStatus = "inactive"
	SessionStatusExpired  SessionStatus = "expired"
)

// Session represents a durable conversational unit owned by a tenant
type Session struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	UserID     string         `json:"user_id"`
	Tier       Tier           `json:"tier"`
	Metadata   map[string]any `json:"metadata"`
	Status     SessionStatus  `json:"status"`
	TTLSeconds int            `json:"ttl_seconds"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// TTL returns the session's configured time-to-live
func (s *Session) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// RemainingTTL returns the time left until expiry, or zero if already past
func (s *Session) RemainingTTL(now time.Time) time.Duration {
	if s.Status == SessionStatusExpired {
		return 0
	}
	remaining := s.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether the session can no longer be used
func (s *Session) IsExpired(now time.Time) bool {
	return s.Status == SessionStatusExpired || !now.Before(s.ExpiresAt)
}

// SessionCreate represents session creation data received from a client
type SessionCreate struct {
	Metadata   map[string]any `json:"metadata,omitempty"`
	TTLSeconds int            `json:"ttl_seconds,omitempty" validate:"omitempty,min=1,max=2592000"`
}

// SessionPatch represents a partial session update.
// Metadata keys are merged into the existing map; nil leaves it untouched.
type SessionPatch struct {
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    *SessionStatus `json:"status,omitempty" validate:"omitempty,oneof=active inactive"`
}

// ExpiredSession identifies a session transitioned by the expiry sweep
type ExpiredSession struct {
	ID       string
	TenantID string
}

// SessionRepository defines the interface for durable session storage
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Update merges the patch and re-applies the stored TTL relative to now.
	Update(ctx context.Context, id string, patch SessionPatch, now time.Time) (*Session, error)
	// Touch re-applies the stored TTL relative to now.
	Touch(ctx context.Context, id string, now time.Time) (*Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	// ExpireStale marks active sessions whose expiry has passed as expired.
	ExpireStale(ctx context.Context, now time.Time) ([]ExpiredSession, error)
}

// SessionCache defines the fast cache layer in front of the session store
type SessionCache interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	SetSession(ctx context.Context, session *Session, ttl time.Duration) error
	DeleteSession(ctx context.Context, id string) error
	// GetMessages returns ok=false when the list is absent or empty.
	GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, bool, error)
	// MessagesVersion returns a token that changes on every append. A fill
	// only lands if the token is unchanged since it was read.
	MessagesVersion(ctx context.Context, sessionID string) (string, error)
	SetMessages(ctx context.Context, sessionID, version string, messages []Message, ttl time.Duration) (bool, error)
	AppendMessage(ctx context.Context, sessionID string, message *Message, ttl time.Duration) error
}
