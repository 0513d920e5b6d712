package domain

import (
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines defaults for storage, cache, and bus backends.
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Delegate is the external scoring capability.
	Delegate DelegateConfig `yaml:"delegate"`

	// Scoring holds the engine settings.
	Scoring ScoringConfig `yaml:"scoring"`

	// RateLimit bounds requests per principal.
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// DelegateConfig holds the external scoring delegate settings. An empty
// BaseURL disables the delegate entirely: all scoring is local.
type DelegateConfig struct {
	BaseURL string `yaml:"baseUrl"`

	// Distinct timeouts for single versus batch calls. Never infinite:
	// zero values fall back to the defaults below.
	SingleTimeout time.Duration `yaml:"singleTimeout"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
}

// Delegate timeout defaults.
const (
	DefaultSingleTimeout = 3 * time.Second
	DefaultBatchTimeout  = 30 * time.Second
)

// ScoringConfig holds engine settings.
type ScoringConfig struct {
	// Thresholds is the score-to-status boundary set. Hot-reloadable
	// from the config file.
	Thresholds Thresholds `yaml:"thresholds"`

	// BatchWorkers bounds concurrent per-item scoring in a batch.
	BatchWorkers int `yaml:"batchWorkers"`
}

// RateLimitConfig bounds requests per principal per minute. Zero disables.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Delegate: DelegateConfig{
			SingleTimeout: DefaultSingleTimeout,
			BatchTimeout:  DefaultBatchTimeout,
		},
		Scoring: ScoringConfig{
			Thresholds:   DefaultThresholds(),
			BatchWorkers: 8,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
