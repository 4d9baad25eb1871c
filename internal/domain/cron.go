package domain

import (
	"encoding/json"
	"time"
)

// CronJob is a recurring skill execution owned by a user
type CronJob struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Schedule  string          `json:"schedule"`
	SkillName string          `json:"skill"`
	Params    json.RawMessage `json:"params,omitempty"`
	TenantID  string          `json:"tenant_id"`
	UserID    string          `json:"user_id"`
	Tier      Tier            `json:"tier"`
	SessionID string          `json:"session_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	NextRunAt time.Time       `json:"next_run_at"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`

	// Reserved is true when a cron_jobs quota slot is held for the job
	Reserved bool `json:"-"`
}

// CronCreate represents a cron.create payload
type CronCreate struct {
	Name      string          `json:"name" validate:"required,max=255"`
	Schedule  string          `json:"schedule" validate:"required,max=128"`
	SkillName string          `json:"skill" validate:"required,max=128"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// CronDelete represents a cron.delete payload
type CronDelete struct {
	JobID string `json:"job_id" validate:"required"`
}
