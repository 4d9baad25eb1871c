package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/rs/zerolog/log"
)

// quotaWindow is the fixed window for per-minute counters
const quotaWindow = time.Minute

// CounterStore is the shared, atomic counter backend of the admission layer
type CounterStore interface {
	// Admit increments the counter only if it is below limit
	Admit(ctx context.Context, tenantID string, resource domain.QuotaResource, limit int, window time.Duration) (bool, int64, error)
	Release(ctx context.Context, tenantID string, resource domain.QuotaResource) (int64, error)
	Get(ctx context.Context, tenantID string, resource domain.QuotaResource) (int64, error)
}

// QuotaService makes per-tenant admission decisions against tier limits
type QuotaService struct {
	store            CounterStore
	tiers            map[domain.Tier]domain.TierLimits
	defaultTier      domain.Tier
	warningThreshold float64
}

// NewQuotaService creates a new quota service
func NewQuotaService(store CounterStore, cfg config.QuotaConfig) *QuotaService {
	tiers := make(map[domain.Tier]domain.TierLimits, len(cfg.Tiers))
	for name, limits := range cfg.Tiers {
		tiers[domain.Tier(name)] = limits
	}
	return &QuotaService{
		store:            store,
		tiers:            tiers,
		defaultTier:      domain.Tier(cfg.DefaultTier),
		warningThreshold: cfg.WarningThreshold,
	}
}

// Limits returns the limits of tier, falling back to the default tier
func (s *QuotaService) Limits(tier domain.Tier) domain.TierLimits {
	if limits, ok := s.tiers[tier]; ok {
		return limits
	}
	return s.tiers[s.defaultTier]
}

// Check admits one unit of resource for the tenant. The counter is
// incremented only on admission. Unlimited tiers admit without counting.
// A failing counter store admits without counting.
func (s *QuotaService) Check(ctx context.Context, tenantID string, tier domain.Tier, resource domain.QuotaResource) (domain.QuotaDecision, error) {
	if tenantID == "" {
		return domain.QuotaDecision{Resource: resource}, fmt.Errorf("tenant id is required")
	}

	limit := s.Limits(tier).Limit(resource)
	decision := domain.QuotaDecision{Resource: resource, Limit: limit}
	if limit == domain.Unlimited {
		decision.Allowed = true
		return decision, nil
	}

	var window time.Duration
	if resource.Windowed() {
		window = quotaWindow
	}

	allowed, used, err := s.store.Admit(ctx, tenantID, resource, limit, window)
	if err != nil {
		log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("resource", string(resource)).
			Msg("quota store unavailable, admitting")
		decision.Allowed = true
		return decision, nil
	}

	decision.Allowed = allowed
	decision.Used = used
	decision.Counted = allowed
	return decision, nil
}

// CheckConnectionQuota admits a concurrent connection
func (s *QuotaService) CheckConnectionQuota(ctx context.Context, tenantID string, tier domain.Tier) (bool, error) {
	return s.allowed(s.Check(ctx, tenantID, tier, domain.ResourceConnections))
}

// CheckSessionQuota admits an active session
func (s *QuotaService) CheckSessionQuota(ctx context.Context, tenantID string, tier domain.Tier) (bool, error) {
	return s.allowed(s.Check(ctx, tenantID, tier, domain.ResourceSessions))
}

// CheckSkillQuota admits a skill execution in the current minute
func (s *QuotaService) CheckSkillQuota(ctx context.Context, tenantID string, tier domain.Tier) (bool, error) {
	return s.allowed(s.Check(ctx, tenantID, tier, domain.ResourceSkills))
}

// AdmitSkill is CheckSkillQuota returning the full decision
func (s *QuotaService) AdmitSkill(ctx context.Context, tenantID string, tier domain.Tier) (domain.QuotaDecision, error) {
	return s.Check(ctx, tenantID, tier, domain.ResourceSkills)
}

// CheckMessageRate admits a message in the current minute
func (s *QuotaService) CheckMessageRate(ctx context.Context, tenantID string, tier domain.Tier) (bool, error) {
	return s.allowed(s.Check(ctx, tenantID, tier, domain.ResourceMessages))
}

// CheckChannelQuota admits a connected channel
func (s *QuotaService) CheckChannelQuota(ctx context.Context, tenantID string, tier domain.Tier) (bool, error) {
	return s.allowed(s.Check(ctx, tenantID, tier, domain.ResourceChannels))
}

// CheckCronQuota admits a scheduled job
func (s *QuotaService) CheckCronQuota(ctx context.Context, tenantID string, tier domain.Tier) (bool, error) {
	return s.allowed(s.Check(ctx, tenantID, tier, domain.ResourceCronJobs))
}

func (s *QuotaService) allowed(d domain.QuotaDecision, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Release returns one unit of a held resource. Windowed resources are
// never released; their counters expire.
func (s *QuotaService) Release(ctx context.Context, tenantID string, resource domain.QuotaResource) error {
	if resource.Windowed() {
		return nil
	}
	if _, err := s.store.Release(ctx, tenantID, resource); err != nil {
		return fmt.Errorf("failed to release %s: %w", resource, err)
	}
	return nil
}

// ShouldWarn reports whether an admitted decision is at or past the warning threshold
func (s *QuotaService) ShouldWarn(d domain.QuotaDecision) bool {
	if !d.Allowed || !d.Counted || d.Limit <= 0 || s.warningThreshold <= 0 {
		return false
	}
	return float64(d.Used)/float64(d.Limit) >= s.warningThreshold
}

var quotaResources = []domain.QuotaResource{
	domain.ResourceConnections,
	domain.ResourceSessions,
	domain.ResourceSkills,
	domain.ResourceMessages,
	domain.ResourceChannels,
	domain.ResourceCronJobs,
}

// Usage returns a snapshot of every counter of the tenant
func (s *QuotaService) Usage(ctx context.Context, tenantID string, tier domain.Tier) (*domain.TenantQuotaState, error) {
	state := &domain.TenantQuotaState{
		TenantID: tenantID,
		Tier:     tier,
		Usage:    make(map[domain.QuotaResource]int64, len(quotaResources)),
		Limits:   s.Limits(tier),
	}
	for _, r := range quotaResources {
		n, err := s.store.Get(ctx, tenantID, r)
		if err != nil {
			return nil, fmt.Errorf("failed to read quota usage: %w", err)
		}
		state.Usage[r] = n
	}
	return state, nil
}
