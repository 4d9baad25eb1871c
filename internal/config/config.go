package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Session  SessionConfig  `mapstructure:"session"`
	Skills   SkillsConfig   `mapstructure:"skills"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`

	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// GatewayConfig configures the real-time gateway and its websocket transport
type GatewayConfig struct {
	InstanceID     string        `mapstructure:"instance_id"`
	BusChannel     string        `mapstructure:"bus_channel"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

type SessionConfig struct {
	DefaultTTL        time.Duration `mapstructure:"default_ttl"`
	MaxTTL            time.Duration `mapstructure:"max_ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	MessageCacheLimit int           `mapstructure:"message_cache_limit"`
}

// SkillsConfig holds engine defaults and the delegated skill registration list
type SkillsConfig struct {
	Timeout        time.Duration     `mapstructure:"timeout"`
	MaxAttempts    int               `mapstructure:"max_attempts"`
	BaseRetryDelay time.Duration     `mapstructure:"base_retry_delay"`
	TrackStats     bool              `mapstructure:"track_stats"`
	HTTPTimeout    time.Duration     `mapstructure:"http_timeout"`
	Definitions    []SkillDefinition `mapstructure:"definitions"`
}

// SkillDefinition describes one delegated HTTP skill
type SkillDefinition struct {
	Name        string        `mapstructure:"name"`
	Description string        `mapstructure:"description"`
	Category    string        `mapstructure:"category"`
	Tags        []string      `mapstructure:"tags"`
	Endpoint    string        `mapstructure:"endpoint"`
	Method      string        `mapstructure:"method"`
	Required    []string      `mapstructure:"required"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Disabled    bool          `mapstructure:"disabled"`
}

type QuotaConfig struct {
	DefaultTier      string                       `mapstructure:"default_tier"`
	WarningThreshold float64                      `mapstructure:"warning_threshold"`
	Tiers            map[string]domain.TierLimits `mapstructure:"tiers"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *fs.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee
func (c *Config) Validate() error {
	if _, ok := c.Quota.Tiers[c.Quota.DefaultTier]; !ok {
		return fmt.Errorf("quota.default_tier %q has no limits in quota.tiers", c.Quota.DefaultTier)
	}
	if c.Skills.MaxAttempts < 1 {
		return fmt.Errorf("skills.max_attempts must be at least 1")
	}
	if c.Session.DefaultTTL <= 0 {
		return fmt.Errorf("session.default_ttl must be positive")
	}
	seen := make(map[string]bool, len(c.Skills.Definitions))
	for _, d := range c.Skills.Definitions {
		if d.Name == "" || d.Endpoint == "" {
			return fmt.Errorf("skill definitions require name and endpoint")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate skill definition: %s", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "openclaw")
	v.SetDefault("database.database", "openclaw")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.issuer", "nexus-openclaw")
	v.SetDefault("auth.access_token_ttl", "1h")

	// Gateway
	v.SetDefault("gateway.bus_channel", "gateway:events")
	v.SetDefault("gateway.max_message_size", 1<<20)
	v.SetDefault("gateway.send_buffer", 256)
	v.SetDefault("gateway.ping_interval", "25s")
	v.SetDefault("gateway.pong_wait", "60s")
	v.SetDefault("gateway.write_timeout", "10s")
	v.SetDefault("gateway.handler_timeout", "6m")

	// Session
	v.SetDefault("session.default_ttl", "24h")
	v.SetDefault("session.max_ttl", "720h")
	v.SetDefault("session.sweep_interval", "1m")
	v.SetDefault("session.message_cache_limit", 500)

	// Skills
	v.SetDefault("skills.timeout", "5m")
	v.SetDefault("skills.max_attempts", 3)
	v.SetDefault("skills.base_retry_delay", "1s")
	v.SetDefault("skills.track_stats", true)
	v.SetDefault("skills.http_timeout", "5m")

	// Quota
	v.SetDefault("quota.default_tier", string(domain.TierOpenSource))
	v.SetDefault("quota.warning_threshold", 0.8)
	v.SetDefault("quota.tiers", map[string]any{
		string(domain.TierOpenSource): tierDefaults(10, 10, 3, 5, 60),
		string(domain.TierTeams):      tierDefaults(100, 100, 20, 50, 600),
		string(domain.TierGovernment): tierDefaults(domain.Unlimited, 1000, domain.Unlimited, domain.Unlimited, domain.Unlimited),
		string(domain.TierEnterprise): tierDefaults(domain.Unlimited, domain.Unlimited, domain.Unlimited, domain.Unlimited, domain.Unlimited),
	})

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")
}

func tierDefaults(sessions, skillsPerMinute, channels, cronJobs, messagesPerMinute int) map[string]any {
	return map[string]any{
		"max_sessions":            sessions,
		"max_skills_per_minute":   skillsPerMinute,
		"max_channels":            channels,
		"max_cron_jobs":           cronJobs,
		"max_messages_per_minute": messagesPerMinute,
	}
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Gateway
	v.BindEnv("gateway.instance_id", "INSTANCE_ID", "HOSTNAME")
}
