package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, tenant_id, user_id, tier, metadata, status, ttl_seconds, created_at, updated_at, expires_at`

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	metadataJSON, err := marshalMetadata(session.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		session.ID,
		session.TenantID,
		session.UserID,
		session.Tier,
		metadataJSON,
		session.Status,
		session.TTLSeconds,
		session.CreatedAt,
		session.UpdatedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// Update merges metadata keys, optionally changes status, and pushes the
// expiry out by the session's stored TTL. Expired rows are left untouched
// and reported as domain.ErrNotFound.
func (r *SessionRepository) Update(ctx context.Context, id string, patch domain.SessionPatch, now time.Time) (*domain.Session, error) {
	var metadataJSON []byte
	if patch.Metadata != nil {
		var err error
		metadataJSON, err = marshalMetadata(patch.Metadata)
		if err != nil {
			return nil, err
		}
	}

	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	query := `
		UPDATE sessions
		SET metadata = CASE WHEN $2::jsonb IS NULL THEN metadata ELSE metadata || $2::jsonb END,
		    status = COALESCE($3, status),
		    updated_at = $4,
		    expires_at = $4 + ttl_seconds * interval '1 second'
		WHERE id = $1 AND status <> 'expired' AND expires_at > $4
		RETURNING ` + sessionColumns

	s, err := scanSession(r.pool.QueryRow(ctx, query, id, metadataJSON, status, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return s, nil
}

// Touch pushes the expiry out by the session's stored TTL
func (r *SessionRepository) Touch(ctx context.Context, id string, now time.Time) (*domain.Session, error) {
	query := `
		UPDATE sessions
		SET updated_at = $2,
		    expires_at = $2 + ttl_seconds * interval '1 second'
		WHERE id = $1 AND status <> 'expired' AND expires_at > $2
		RETURNING ` + sessionColumns

	s, err := scanSession(r.pool.QueryRow(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	return s, nil
}

// Delete removes the session and, via cascade, its messages
func (r *SessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExpireStale marks every non-expired session past its expiry as expired
// and returns the rows it changed
func (r *SessionRepository) ExpireStale(ctx context.Context, now time.Time) ([]domain.ExpiredSession, error) {
	query := `
		UPDATE sessions
		SET status = 'expired', updated_at = $1
		WHERE status IN ('active', 'inactive') AND expires_at < $1
		RETURNING id, tenant_id
	`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire sessions: %w", err)
	}
	defer rows.Close()

	var expired []domain.ExpiredSession
	for rows.Next() {
		var e domain.ExpiredSession
		if err := rows.Scan(&e.ID, &e.TenantID); err != nil {
			return nil, fmt.Errorf("failed to scan expired session: %w", err)
		}
		expired = append(expired, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return expired, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var tier, status string
	var metadataJSON []byte

	if err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.UserID,
		&tier,
		&metadataJSON,
		&status,
		&s.TTLSeconds,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.ExpiresAt,
	); err != nil {
		return nil, err
	}

	s.Tier = domain.Tier(tier)
	s.Status = domain.SessionStatus(status)
	if err := unmarshalMetadata(metadataJSON, &s.Metadata); err != nil {
		return nil, err
	}
	return &s, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte, dst *map[string]any) error {
	if len(data) == 0 {
		*dst = map[string]any{}
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if *dst == nil {
		*dst = map[string]any{}
	}
	return nil
}
