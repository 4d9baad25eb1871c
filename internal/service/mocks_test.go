package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/skill"
	"github.com/stretchr/testify/mock"
)

// memorySessionRepo is an in-memory domain.SessionRepository
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	failErr  error
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]domain.Session)}
}

func (r *memorySessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.sessions[s.ID] = cloneSession(*s)
	return nil
}

func (r *memorySessionRepo) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := cloneSession(s)
	return &c, nil
}

func (r *memorySessionRepo) Update(_ context.Context, id string, patch domain.SessionPatch, now time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	s, ok := r.sessions[id]
	if !ok || s.Status == domain.SessionStatusExpired || !s.ExpiresAt.After(now) {
		return nil, domain.ErrNotFound
	}
	for k, v := range patch.Metadata {
		s.Metadata[k] = v
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(s.TTL())
	r.sessions[id] = s
	c := cloneSession(s)
	return &c, nil
}

func (r *memorySessionRepo) Touch(ctx context.Context, id string, now time.Time) (*domain.Session, error) {
	return r.Update(ctx, id, domain.SessionPatch{}, now)
}

func (r *memorySessionRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return false, r.failErr
	}
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok, nil
}

func (r *memorySessionRepo) ExpireStale(_ context.Context, now time.Time) ([]domain.ExpiredSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return nil, r.failErr
	}
	var expired []domain.ExpiredSession
	for id, s := range r.sessions {
		if s.Status != domain.SessionStatusExpired && s.ExpiresAt.Before(now) {
			s.Status = domain.SessionStatusExpired
			r.sessions[id] = s
			expired = append(expired, domain.ExpiredSession{ID: id, TenantID: s.TenantID})
		}
	}
	return expired, nil
}

func cloneSession(s domain.Session) domain.Session {
	md := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		md[k] = v
	}
	s.Metadata = md
	return s
}

// memoryMessageRepo is an in-memory domain.MessageRepository
type memoryMessageRepo struct {
	mu       sync.Mutex
	messages []domain.Message
	lists    int
	failErr  error

	// afterList runs once, after the next ListBySession has read its rows
	afterList func()
}

func (r *memoryMessageRepo) Create(_ context.Context, m *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.messages = append(r.messages, *m)
	return nil
}

func (r *memoryMessageRepo) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]domain.Message, error) {
	r.mu.Lock()
	r.lists++
	if r.failErr != nil {
		r.mu.Unlock()
		return nil, r.failErr
	}
	var out []domain.Message
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	hook := r.afterList
	r.afterList = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (r *memoryMessageRepo) listCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

// memoryCache is an in-memory domain.SessionCache with failure injection
type memoryCache struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	ttls     map[string]time.Duration
	messages map[string][]domain.Message
	versions map[string]string
	failErr  error
	setErr   error // fails SetSession only
	writes   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		sessions: make(map[string]domain.Session),
		ttls:     make(map[string]time.Duration),
		messages: make(map[string][]domain.Message),
		versions: make(map[string]string),
	}
}

func (c *memoryCache) GetSession(_ context.Context, id string) (*domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, c.failErr
	}
	s, ok := c.sessions[id]
	if !ok {
		return nil, nil
	}
	cl := cloneSession(s)
	return &cl, nil
}

func (c *memoryCache) SetSession(_ context.Context, s *domain.Session, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.failErr != nil {
		return c.failErr
	}
	if c.setErr != nil {
		return c.setErr
	}
	if ttl <= 0 {
		return nil
	}
	c.sessions[s.ID] = cloneSession(*s)
	c.ttls[s.ID] = ttl
	return nil
}

func (c *memoryCache) DeleteSession(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	delete(c.sessions, id)
	delete(c.ttls, id)
	delete(c.messages, id)
	delete(c.versions, id)
	return nil
}

func (c *memoryCache) GetMessages(_ context.Context, sessionID string, limit, offset int) ([]domain.Message, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, false, c.failErr
	}
	msgs, ok := c.messages[sessionID]
	if !ok || len(msgs) == 0 {
		return nil, false, nil
	}
	return paginate(append([]domain.Message(nil), msgs...), limit, offset), true, nil
}

func (c *memoryCache) MessagesVersion(_ context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return "", c.failErr
	}
	return c.versions[sessionID], nil
}

func (c *memoryCache) SetMessages(_ context.Context, sessionID, version string, msgs []domain.Message, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.failErr != nil {
		return false, c.failErr
	}
	if ttl <= 0 || len(msgs) == 0 || c.versions[sessionID] != version {
		return false, nil
	}
	c.messages[sessionID] = append([]domain.Message(nil), msgs...)
	return true, nil
}

func (c *memoryCache) AppendMessage(_ context.Context, sessionID string, m *domain.Message, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.failErr != nil {
		return c.failErr
	}
	c.versions[sessionID] = m.ID
	if msgs, ok := c.messages[sessionID]; ok {
		c.messages[sessionID] = append(msgs, *m)
	}
	return nil
}

func (c *memoryCache) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// memoryCounter is an in-memory CounterStore; windows are ignored
type memoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	failErr error
}

func newMemoryCounter() *memoryCounter {
	return &memoryCounter{counts: make(map[string]int64)}
}

func counterKey(tenantID string, r domain.QuotaResource) string {
	return tenantID + ":" + string(r)
}

func (m *memoryCounter) Admit(_ context.Context, tenantID string, r domain.QuotaResource, limit int, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, 0, m.failErr
	}
	k := counterKey(tenantID, r)
	if m.counts[k] >= int64(limit) {
		return false, m.counts[k], nil
	}
	m.counts[k]++
	return true, m.counts[k], nil
}

func (m *memoryCounter) Release(_ context.Context, tenantID string, r domain.QuotaResource) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	k := counterKey(tenantID, r)
	if m.counts[k] > 0 {
		m.counts[k]--
	}
	return m.counts[k], nil
}

func (m *memoryCounter) Get(_ context.Context, tenantID string, r domain.QuotaResource) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[counterKey(tenantID, r)], nil
}

// MockQuotaReleaser mocks the QuotaReleaser interface
type MockQuotaReleaser struct {
	mock.Mock
}

func (m *MockQuotaReleaser) Release(ctx context.Context, tenantID string, resource domain.QuotaResource) error {
	args := m.Called(ctx, tenantID, resource)
	return args.Error(0)
}

// MockSkillExecutionRepository mocks the SkillExecutionRepository interface
type MockSkillExecutionRepository struct {
	mock.Mock
}

func (m *MockSkillExecutionRepository) Record(ctx context.Context, rec *domain.SkillExecutionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// MockSkillAdmitter mocks the SkillAdmitter interface
type MockSkillAdmitter struct {
	mock.Mock
}

func (m *MockSkillAdmitter) AdmitSkill(ctx context.Context, tenantID string, tier domain.Tier) (domain.QuotaDecision, error) {
	args := m.Called(ctx, tenantID, tier)
	return args.Get(0).(domain.QuotaDecision), args.Error(1)
}

// scriptedSkill returns the scripted outcome for each call in order
type scriptedSkill struct {
	name     string
	invalid  []skill.FieldError
	outcomes []func(ctx context.Context, ec skill.ExecContext) (any, error)

	mu    sync.Mutex
	calls []time.Time
}

func (s *scriptedSkill) Metadata() skill.Metadata {
	return skill.Metadata{Name: s.name, Category: "test", Description: "scripted test skill"}
}

func (s *scriptedSkill) Validate(json.RawMessage) skill.ValidationResult {
	if len(s.invalid) > 0 {
		return skill.ValidationResult{Errors: s.invalid}
	}
	return skill.ValidationResult{Valid: true}
}

func (s *scriptedSkill) Execute(ctx context.Context, _ json.RawMessage, ec skill.ExecContext) (any, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, time.Now())
	s.mu.Unlock()

	if len(s.outcomes) == 0 {
		return "ok", nil
	}
	if n >= len(s.outcomes) {
		n = len(s.outcomes) - 1
	}
	return s.outcomes[n](ctx, ec)
}

func (s *scriptedSkill) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func succeed(data any) func(context.Context, skill.ExecContext) (any, error) {
	return func(context.Context, skill.ExecContext) (any, error) { return data, nil }
}

func fail(err error) func(context.Context, skill.ExecContext) (any, error) {
	return func(context.Context, skill.ExecContext) (any, error) { return nil, err }
}

func block() func(context.Context, skill.ExecContext) (any, error) {
	return func(ctx context.Context, _ skill.ExecContext) (any, error) {
		<-ctx.Done()
		return nil, errors.New("abandoned")
	}
}
