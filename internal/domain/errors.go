package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies errors reported to clients
type ErrorCode string

const (
	CodeAuthentication     ErrorCode = "AUTHENTICATION_ERROR"
	CodeValidation         ErrorCode = "VALIDATION_ERROR"
	CodeQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	CodeSkillNotFound      ErrorCode = "SKILL_NOT_FOUND"
	CodeExecution          ErrorCode = "EXECUTION_ERROR"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"
	CodeStore              ErrorCode = "STORE_ERROR"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionExpired     ErrorCode = "SESSION_EXPIRED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeInvalidEvent       ErrorCode = "INVALID_EVENT"
	CodeInvalidPayload     ErrorCode = "INVALID_PAYLOAD"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

var (
	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when a bearer credential is missing or invalid
	ErrUnauthorized = errors.New("authentication required")

	// ErrConnectionClosed is returned when state is attached to a connection
	// that has already been torn down
	ErrConnectionClosed = errors.New("connection closed")

	// ErrChannelAttached is returned when a channel is attached twice
	ErrChannelAttached = errors.New("channel already attached")
)

// Error is the typed error carried back to clients
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	Details   any       `json:"details,omitempty"`

	cause error
}

// NewError creates a new typed error
func NewError(code ErrorCode, message string, retryable bool) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// WrapError creates a typed error that unwraps to cause
func WrapError(code ErrorCode, retryable bool, cause error, format string, args ...any) *Error {
	e := NewError(code, fmt.Sprintf(format, args...), retryable)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetails attaches structured details and returns the error
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// NewStoreError wraps a durable-store failure; such failures are retryable.
func NewStoreError(op string, err error) *Error {
	return WrapError(CodeStore, true, err, "failed to %s", op)
}

// AsError extracts a typed error from err. Untyped errors become retryable
// execution errors, matching how delegated skill failures are classified.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	wrapped := NewError(CodeExecution, err.Error(), true)
	wrapped.cause = err
	return wrapped
}

// IsRetryable reports whether err may succeed if attempted again
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return err != nil
}
