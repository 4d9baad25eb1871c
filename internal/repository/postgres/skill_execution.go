package postgres

import (
	"context"
	"fmt"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SkillExecutionRepository implements domain.SkillExecutionRepository
type SkillExecutionRepository struct {
	pool *pgxpool.Pool
}

// NewSkillExecutionRepository creates a new skill execution log repository
func NewSkillExecutionRepository(pool *pgxpool.Pool) *SkillExecutionRepository {
	return &SkillExecutionRepository{pool: pool}
}

// Record appends one execution row
func (r *SkillExecutionRepository) Record(ctx context.Context, rec *domain.SkillExecutionRecord) error {
	query := `
		INSERT INTO skill_executions
			(skill_name, tenant_id, user_id, session_id, execution_time_ms, success, error_code, attempts, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.SkillName,
		rec.TenantID,
		rec.UserID,
		rec.SessionID,
		rec.ExecutionTimeMs,
		rec.Success,
		string(rec.ErrorCode),
		rec.Attempts,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record skill execution: %w", err)
	}
	return nil
}
