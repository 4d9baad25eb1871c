package domain

import (
	"context"
	"encoding/json"
	"time"
)

// SkillExecutionRequest represents a single skill invocation
type SkillExecutionRequest struct {
	SkillName string          `json:"skill" validate:"required,max=128"`
	Params    json.RawMessage `json:"params,omitempty"`
	TenantID  string          `json:"-"`
	UserID    string          `json:"-"`
	Tier      Tier            `json:"-"`
	SessionID string          `json:"session_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// SkillExecutionResult is either successful with Data or failed with Error
type SkillExecutionResult struct {
	Success         bool   `json:"success"`
	Data            any    `json:"data,omitempty"`
	Error           *Error `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Attempts        int    `json:"attempts"`
}

// SucceededResult builds a successful result
func SucceededResult(data any, elapsed time.Duration, attempts int) *SkillExecutionResult {
	return &SkillExecutionResult{
		Success:         true,
		Data:            data,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Attempts:        attempts,
	}
}

// FailedResult builds a failed result; err must be non-nil
func FailedResult(err *Error, elapsed time.Duration, attempts int) *SkillExecutionResult {
	return &SkillExecutionResult{
		Success:         false,
		Error:           err,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Attempts:        attempts,
	}
}

// ProgressStage identifies a point in the execution pipeline
type ProgressStage string

const (
	StageStarting  ProgressStage = "starting"
	StageProgress  ProgressStage = "progress"
	StageRetrying  ProgressStage = "retrying"
	StageCompleted ProgressStage = "completed"
	StageError     ProgressStage = "error"
)

// ProgressEvent is reported through the optional progress side channel
type ProgressEvent struct {
	Skill     string        `json:"skill"`
	Stage     ProgressStage `json:"stage"`
	Attempt   int           `json:"attempt,omitempty"`
	Progress  int           `json:"progress,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     *Error        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ProgressFunc receives progress events
type ProgressFunc func(ProgressEvent)

// SkillExecutionRecord is a row in the durable statistics log
type SkillExecutionRecord struct {
	SkillName       string    `json:"skill_name"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	Success         bool      `json:"success"`
	ErrorCode       ErrorCode `json:"error_code,omitempty"`
	Attempts        int       `json:"attempts"`
	CreatedAt       time.Time `json:"created_at"`
}

// SkillExecutionRepository defines the durable statistics log
type SkillExecutionRepository interface {
	Record(ctx context.Context, record *SkillExecutionRecord) error
}
