package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// QuotaReleaser returns held admission units
type QuotaReleaser interface {
	Release(ctx context.Context, tenantID string, resource domain.QuotaResource) error
}

// SessionService keeps sessions and messages consistent across the cache
// and the durable store. The durable store is the source of truth.
type SessionService struct {
	sessions   domain.SessionRepository
	messages   domain.MessageRepository
	cache      domain.SessionCache
	quota      QuotaReleaser
	defaultTTL time.Duration
	maxTTL     time.Duration
	cacheLimit int
	now        func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(
	sessions domain.SessionRepository,
	messages domain.MessageRepository,
	cache domain.SessionCache,
	quota QuotaReleaser,
	cfg config.SessionConfig,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		messages:   messages,
		cache:      cache,
		quota:      quota,
		defaultTTL: cfg.DefaultTTL,
		maxTTL:     cfg.MaxTTL,
		cacheLimit: cfg.MessageCacheLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionService) ttlFor(ttlSeconds int) time.Duration {
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	if s.maxTTL > 0 && ttl > s.maxTTL {
		ttl = s.maxTTL
	}
	return ttl
}

// CreateSession persists a new active session expiring at now + ttl
func (s *SessionService) CreateSession(ctx context.Context, tenantID, userID string, tier domain.Tier, metadata map[string]any, ttlSeconds int) (*domain.Session, error) {
	if tenantID == "" || userID == "" {
		return nil, domain.NewError(domain.CodeValidation, "tenant and user are required", false)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := s.now()
	ttl := s.ttlFor(ttlSeconds)
	session := &domain.Session{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		UserID:     userID,
		Tier:       tier,
		Metadata:   metadata,
		Status:     domain.SessionStatusActive,
		TTLSeconds: int(ttl / time.Second),
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	return writeThrough(ctx, session.ID,
		func(ctx context.Context) (*domain.Session, error) {
			if err := s.sessions.Create(ctx, session); err != nil {
				return nil, domain.NewStoreError("create session", err)
			}
			return session, nil
		},
		func(ctx context.Context, v *domain.Session) error {
			return s.cache.SetSession(ctx, v, ttl)
		},
		s.evict(session.ID),
	)
}

func (s *SessionService) evict(id string) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.cache.DeleteSession(ctx, id)
	}
}

// GetSession returns the session, or nil if it does not exist
func (s *SessionService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return readThrough(ctx, id,
		func(ctx context.Context) (*domain.Session, error) {
			return s.cache.GetSession(ctx, id)
		},
		func(ctx context.Context) (*domain.Session, error) {
			session, err := s.sessions.Get(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, nil
				}
				return nil, domain.NewStoreError("get session", err)
			}
			return session, nil
		},
		func(ctx context.Context, v *domain.Session) error {
			return s.cache.SetSession(ctx, v, v.RemainingTTL(s.now()))
		},
	)
}

// UpdateSession merges the patch and refreshes the TTL. It returns nil if the
// session does not exist and SESSION_EXPIRED if it has expired.
func (s *SessionService) UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) (*domain.Session, error) {
	if patch.Status != nil && *patch.Status == domain.SessionStatusExpired {
		return nil, domain.NewError(domain.CodeValidation, "status must be active or inactive", false)
	}

	now := s.now()
	session, err := writeThrough(ctx, id,
		func(ctx context.Context) (*domain.Session, error) {
			updated, err := s.sessions.Update(ctx, id, patch, now)
			if err != nil {
				return nil, s.classifyWriteError(ctx, id, "update session", err)
			}
			return updated, nil
		},
		func(ctx context.Context, v *domain.Session) error {
			return s.cache.SetSession(ctx, v, v.RemainingTTL(now))
		},
		s.evict(id),
	)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return session, err
}

// DeleteSession removes the session and its messages and releases its quota
func (s *SessionService) DeleteSession(ctx context.Context, id string) (bool, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, domain.NewStoreError("get session", err)
	}

	deleted, err := s.sessions.Delete(ctx, id)
	if err != nil {
		return false, domain.NewStoreError("delete session", err)
	}
	if !deleted {
		return false, nil
	}

	if err := s.cache.DeleteSession(ctx, id); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("failed to evict session from cache")
	}

	// expired sessions were already released by the sweep
	if session.Status != domain.SessionStatusExpired {
		if err := s.quota.Release(ctx, session.TenantID, domain.ResourceSessions); err != nil {
			log.Warn().Err(err).Str("tenant_id", session.TenantID).Msg("failed to release session quota")
		}
	}
	return true, nil
}

// AddMessage appends an immutable message and refreshes the session TTL
func (s *SessionService) AddMessage(ctx context.Context, sessionID string, role domain.MessageRole, content string, metadata map[string]any) (*domain.Message, error) {
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, domain.NewError(domain.CodeValidation, fmt.Sprintf("invalid role: %s", role), false)
	}
	if content == "" {
		return nil, domain.NewError(domain.CodeValidation, "content is required", false)
	}

	now := s.now()
	var session *domain.Session
	msg, err := writeThrough(ctx, sessionID,
		func(ctx context.Context) (*domain.Message, error) {
			touched, err := s.sessions.Touch(ctx, sessionID, now)
			if err != nil {
				return nil, s.classifyWriteError(ctx, sessionID, "touch session", err)
			}
			session = touched

			m := &domain.Message{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Role:      role,
				Content:   content,
				Metadata:  metadata,
				CreatedAt: now,
			}
			if err := s.messages.Create(ctx, m); err != nil {
				return nil, domain.NewStoreError("create message", err)
			}
			return m, nil
		},
		func(ctx context.Context, m *domain.Message) error {
			ttl := session.RemainingTTL(now)
			if err := s.cache.SetSession(ctx, session, ttl); err != nil {
				return err
			}
			return s.cache.AppendMessage(ctx, sessionID, m, ttl)
		},
		s.evict(sessionID),
	)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.CodeSessionNotFound, "session not found", false)
	}
	return msg, err
}

// GetMessages returns a page of the session's messages, oldest first
func (s *SessionService) GetMessages(ctx context.Context, sessionID string, limit, offset int) ([]domain.Message, error) {
	offset = max(offset, 0)

	cached, ok, err := s.cache.GetMessages(ctx, sessionID, limit, offset)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("cache read failed, using durable store")
	} else if ok {
		return cached, nil
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.NewError(domain.CodeSessionNotFound, "session not found", false)
	}

	if s.cacheLimit <= 0 {
		return s.listMessages(ctx, sessionID, limit, offset)
	}

	// The version is read before the durable load so an append landing in
	// between makes the fill a no-op instead of caching a stale history.
	version, err := s.cache.MessagesVersion(ctx, sessionID)
	fill := err == nil
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("cache version read failed, skipping fill")
	}

	// Small histories are loaded whole so the cache can serve every page.
	history, err := s.messages.ListBySession(ctx, sessionID, s.cacheLimit+1, 0)
	if err != nil {
		return nil, domain.NewStoreError("list messages", err)
	}
	if len(history) > s.cacheLimit {
		return s.listMessages(ctx, sessionID, limit, offset)
	}

	if ttl := session.RemainingTTL(s.now()); fill && ttl > 0 {
		stored, err := s.cache.SetMessages(ctx, sessionID, version, history, ttl)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("cache fill failed")
		} else if !stored {
			log.Debug().Str("session_id", sessionID).Msg("cache fill skipped")
		}
	}
	return paginate(history, limit, offset), nil
}

func (s *SessionService) listMessages(ctx context.Context, sessionID string, limit, offset int) ([]domain.Message, error) {
	msgs, err := s.messages.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, domain.NewStoreError("list messages", err)
	}
	return msgs, nil
}

func paginate(msgs []domain.Message, limit, offset int) []domain.Message {
	if offset >= len(msgs) {
		return []domain.Message{}
	}
	msgs = msgs[offset:]
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[:limit]
	}
	return msgs
}

// ExpireOldSessions marks active and inactive sessions past their expiry as expired,
// evicts them from the cache, and releases their quota. Running it again
// with no intervening writes affects nothing.
func (s *SessionService) ExpireOldSessions(ctx context.Context) (int, error) {
	expired, err := s.sessions.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, domain.NewStoreError("expire sessions", err)
	}

	for _, e := range expired {
		if err := s.cache.DeleteSession(ctx, e.ID); err != nil {
			log.Warn().Err(err).Str("session_id", e.ID).Msg("failed to evict expired session")
		}
		if err := s.quota.Release(ctx, e.TenantID, domain.ResourceSessions); err != nil {
			log.Warn().Err(err).Str("tenant_id", e.TenantID).Msg("failed to release session quota")
		}
	}

	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("expired stale sessions")
	}
	return len(expired), nil
}

// RunExpirySweeper calls ExpireOldSessions every interval until ctx is done
func (s *SessionService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireOldSessions(ctx); err != nil {
				log.Error().Err(err).Msg("session expiry sweep failed")
			}
		}
	}
}

// classifyWriteError distinguishes a missing session from an expired one
// after a conditional write matched no row.
func (s *SessionService) classifyWriteError(ctx context.Context, id, op string, err error) error {
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.NewStoreError(op, err)
	}

	session, getErr := s.sessions.Get(ctx, id)
	if getErr != nil {
		if errors.Is(getErr, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.NewStoreError("get session", getErr)
	}
	if session.IsExpired(s.now()) {
		return domain.NewError(domain.CodeSessionExpired, "session has expired", false)
	}
	return domain.NewStoreError(op, err)
}
