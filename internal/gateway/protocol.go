package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
)

// Inbound is a client-to-server event frame
type Inbound struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server-to-client event frame
type Outbound struct {
	Event     string `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload is the data of an error event
type ErrorPayload struct {
	Code      domain.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
	Timestamp time.Time        `json:"timestamp"`
	Details   any              `json:"details,omitempty"`
	Event     string           `json:"event,omitempty"`
}

// envelope carries a room emission between instances
type envelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Exclude string          `json:"exclude,omitempty"`
	Message json.RawMessage `json:"message"`
}

func encode(event, requestID string, data any, now time.Time) ([]byte, error) {
	return json.Marshal(Outbound{
		Event:     event,
		RequestID: requestID,
		Data:      data,
		Timestamp: now.UnixMilli(),
	})
}

// errorPayload converts err into the client error shape. Untyped errors
// are reported as internal errors without leaking their text.
func errorPayload(event string, err error) ErrorPayload {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		derr = domain.NewError(domain.CodeInternal, "internal error", true)
	}
	return ErrorPayload{
		Code:      derr.Code,
		Message:   derr.Message,
		Retryable: derr.Retryable,
		Timestamp: derr.Timestamp,
		Details:   derr.Details,
		Event:     event,
	}
}
