package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. Supports two-phase
// caching: local LRU (Community) + Redis (Pro). All methods require
// principalID for strict isolation.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, principalID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, principalID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, principalID string, key string) error

	// IncrementCounter atomically increments a windowed counter and
	// returns the new value. Used for request rate limiting.
	IncrementCounter(ctx context.Context, principalID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `yaml:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTtl"`

	// Redis settings (Pro tier)
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
