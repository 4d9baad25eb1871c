// Package skill holds the catalog of executable skills and the contract
// every skill implementation satisfies.
package skill

import (
	"context"
	"encoding/json"
)

// Metadata describes a skill for discovery
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags,omitempty"`
	Version     string   `json:"version,omitempty"`
}

// FieldError is one failed parameter constraint
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating skill parameters
type ValidationResult struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// ExecContext carries caller identity into a skill execution
type ExecContext struct {
	TenantID  string
	UserID    string
	SessionID string

	// Progress reports intermediate progress; it is never nil during execution
	Progress func(percent int, message string)
}

// Skill is an externally delegated unit of work
type Skill interface {
	// Metadata returns the skill's discovery information
	Metadata() Metadata

	// Validate checks params before any execution attempt
	Validate(params json.RawMessage) ValidationResult

	// Execute performs one attempt. Returning a *domain.Error controls
	// whether the engine retries; any other error is retried.
	Execute(ctx context.Context, params json.RawMessage, ec ExecContext) (any, error)
}
