package domain

// Tier is a named quota profile
type Tier string

const (
	TierOpenSource Tier = "open_source"
	TierTeams      Tier = "teams"
	TierGovernment Tier = "government"
	TierEnterprise Tier = "enterprise"
)

// Unlimited is the sentinel limit value that always admits
const Unlimited = -1

// TierLimits holds the numeric limits of a tier
type TierLimits struct {
	MaxSessions          int `mapstructure:"max_sessions" json:"max_sessions"`
	MaxSkillsPerMinute   int `mapstructure:"max_skills_per_minute" json:"max_skills_per_minute"`
	MaxChannels          int `mapstructure:"max_channels" json:"max_channels"`
	MaxCronJobs          int `mapstructure:"max_cron_jobs" json:"max_cron_jobs"`
	MaxMessagesPerMinute int `mapstructure:"max_messages_per_minute" json:"max_messages_per_minute"`
}

// QuotaResource identifies a counter guarded by the admission layer
type QuotaResource string

const (
	ResourceConnections QuotaResource = "connections"
	ResourceSessions    QuotaResource = "sessions"
	ResourceSkills      QuotaResource = "skill_executions"
	ResourceMessages    QuotaResource = "messages"
	ResourceChannels    QuotaResource = "channels"
	ResourceCronJobs    QuotaResource = "cron_jobs"
)

// Windowed reports whether the resource resets on a fixed per-minute window
// instead of being released explicitly.
func (r QuotaResource) Windowed() bool {
	return r == ResourceSkills || r == ResourceMessages
}

// Limit returns the tier limit that applies to the resource
func (l TierLimits) Limit(r QuotaResource) int {
	switch r {
	case ResourceConnections, ResourceSessions:
		return l.MaxSessions
	case ResourceSkills:
		return l.MaxSkillsPerMinute
	case ResourceMessages:
		return l.MaxMessagesPerMinute
	case ResourceChannels:
		return l.MaxChannels
	case ResourceCronJobs:
		return l.MaxCronJobs
	}
	return 0
}

// QuotaDecision is the outcome of a single admission check
type QuotaDecision struct {
	Resource QuotaResource `json:"resource"`
	Allowed  bool          `json:"allowed"`
	Used     int64         `json:"used"`
	Limit    int           `json:"limit"`

	// Counted is true when the admission incremented a bounded counter
	Counted bool `json:"-"`
}

// Unlimited reports whether the decision was made against the unlimited sentinel
func (d QuotaDecision) Unlimited() bool {
	return d.Limit == Unlimited
}

// TenantQuotaState is a snapshot of a tenant's usage counters
type TenantQuotaState struct {
	TenantID string                  `json:"tenant_id"`
	Tier     Tier                    `json:"tier"`
	Usage    map[QuotaResource]int64 `json:"usage"`
	Limits   TierLimits              `json:"limits"`
}
