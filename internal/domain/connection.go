package domain

import (
	"context"
	"sync"
	"time"
)

// Identity is the result of resolving a bearer credential
type Identity struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Tier           Tier   `json:"tier"`
}

// Authenticator resolves bearer credentials into identities
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// ConnectionContext is the per-connection state owned by the gateway.
// Identity fields are immutable after the handshake; the rest is guarded by mu.
type ConnectionContext struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Tier        Tier      `json:"tier"`
	ConnectedAt time.Time `json:"connected_at"`

	mu           sync.Mutex
	sessionID    string
	lastActivity time.Time
	reserved     bool
	channels     map[string]bool
	detached     bool
}

// NewConnectionContext creates a context for an authenticated identity
func NewConnectionContext(id string, identity *Identity, now time.Time) *ConnectionContext {
	return &ConnectionContext{
		ID:           id,
		TenantID:     identity.OrganizationID,
		UserID:       identity.UserID,
		Tier:         identity.Tier,
		ConnectedAt:  now,
		lastActivity: now,
		channels:     make(map[string]bool),
	}
}

// SessionID returns the negotiated session id, if any
func (c *ConnectionContext) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID records the session the connection is attached to
func (c *ConnectionContext) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

// ClearSessionID detaches the connection if it is attached to id
func (c *ConnectionContext) ClearSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == id {
		c.sessionID = ""
	}
}

// Touch records activity on the connection
func (c *ConnectionContext) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = now
}

// LastActivity returns the last recorded activity timestamp
func (c *ConnectionContext) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// SetReserved records whether a connection quota slot is held
func (c *ConnectionContext) SetReserved(reserved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved = reserved
}

// TakeReservation returns whether a slot was held and clears it
func (c *ConnectionContext) TakeReservation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.reserved
	c.reserved = false
	return held
}

// AttachedChannel is a channel attached through a connection
type AttachedChannel struct {
	Key     string
	Counted bool
}

// HasChannel reports whether key is attached
func (c *ConnectionContext) HasChannel(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[key]
	return ok
}

// AddChannel records a channel attached through this connection.
// counted is whether a channel quota slot is held for it. The caller keeps
// ownership of that slot when an error is returned.
func (c *ConnectionContext) AddChannel(key string, counted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return ErrConnectionClosed
	}
	if _, ok := c.channels[key]; ok {
		return ErrChannelAttached
	}
	c.channels[key] = counted
	return nil
}

// DetachChannels returns and clears all attached channels. Later calls to
// AddChannel fail with ErrConnectionClosed.
func (c *ConnectionContext) DetachChannels() []AttachedChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AttachedChannel, 0, len(c.channels))
	for k, counted := range c.channels {
		out = append(out, AttachedChannel{Key: k, Counted: counted})
	}
	c.channels = make(map[string]bool)
	c.detached = true
	return out
}

// ChannelConnect represents a channel.connect payload
type ChannelConnect struct {
	ChannelType string         `json:"channel_type" validate:"required,max=64"`
	ChannelID   string         `json:"channel_id" validate:"required,max=255"`
	Config      map[string]any `json:"config,omitempty"`
}
