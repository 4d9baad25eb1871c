package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Skills.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Skills.Timeout)
	assert.Equal(t, time.Second, cfg.Skills.BaseRetryDelay)
	assert.Equal(t, "gateway:events", cfg.Gateway.BusChannel)
	assert.Equal(t, string(domain.TierOpenSource), cfg.Quota.DefaultTier)

	open := cfg.Quota.Tiers[string(domain.TierOpenSource)]
	assert.Equal(t, 10, open.MaxSessions)
	assert.Equal(t, 10, open.MaxSkillsPerMinute)

	enterprise := cfg.Quota.Tiers[string(domain.TierEnterprise)]
	assert.Equal(t, domain.Unlimited, enterprise.MaxSessions)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
session:
  default_ttl: 2h
skills:
  max_attempts: 5
  definitions:
    - name: web-search
      endpoint: http://search.internal/execute
      category: research
      tags: [search, web]
      required: [query]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Session.DefaultTTL)
	assert.Equal(t, 5, cfg.Skills.MaxAttempts)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	require.Len(t, cfg.Skills.Definitions, 1)
	assert.Equal(t, "web-search", cfg.Skills.Definitions[0].Name)
	assert.Equal(t, []string{"query"}, cfg.Skills.Definitions[0].Required)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Session: SessionConfig{DefaultTTL: time.Hour},
			Skills:  SkillsConfig{MaxAttempts: 3},
			Quota: QuotaConfig{
				DefaultTier: "open_source",
				Tiers:       map[string]domain.TierLimits{"open_source": {MaxSessions: 1}},
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("unknown default tier", func(t *testing.T) {
		cfg := base()
		cfg.Quota.DefaultTier = "gold"
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate skill", func(t *testing.T) {
		cfg := base()
		cfg.Skills.Definitions = []SkillDefinition{
			{Name: "a", Endpoint: "http://x"},
			{Name: "a", Endpoint: "http://y"},
		}
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero attempts", func(t *testing.T) {
		cfg := base()
		cfg.Skills.MaxAttempts = 0
		assert.Error(t, cfg.Validate())
	})
}
