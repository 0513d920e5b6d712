// Package domain defines the core types and contracts for Kestrel.
package domain

import (
	"context"
	"time"
)

// RuleStore holds the rule set per owning principal. Pure data access;
// evaluation never mutates a rule. All methods require principalID for
// strict isolation: a foreign-owned id behaves like a miss.
type RuleStore interface {
	ListRules(ctx context.Context, principalID string) ([]*Rule, error)
	GetRule(ctx context.Context, principalID string, ruleID string) (*Rule, error)
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, principalID string, ruleID string, patch *RulePatch) (*Rule, error)
	DeleteRule(ctx context.Context, principalID string, ruleID string) error
}

// RecordStore persists one immutable evaluation record per scored
// transaction and serves the history and aggregation queries.
type RecordStore interface {
	// SaveRecord persists one record. Fails with ErrDuplicateTransaction
	// when the transaction id already exists for the principal.
	SaveRecord(ctx context.Context, rec *EvaluationRecord) error

	// SaveRecords is the best-effort bulk variant: each record is
	// inserted independently and per-item failures are returned. A
	// failed item never aborts the rest of the batch.
	SaveRecords(ctx context.Context, recs []*EvaluationRecord) []RecordFailure

	GetRecord(ctx context.Context, principalID string, txID string) (*EvaluationRecord, error)
	QueryRecords(ctx context.Context, principalID string, q RecordQuery) (*RecordPage, error)

	// History queries consumed by the scoring predicates.
	RecentRecords(ctx context.Context, principalID string, since time.Time) ([]*EvaluationRecord, error)
	AverageAmount(ctx context.Context, principalID string) (avg float64, count int64, err error)
	LocationSeen(ctx context.Context, principalID string, location string) (bool, error)
	CategorySeen(ctx context.Context, principalID string, category string) (bool, error)
	DeviceSeen(ctx context.Context, principalID string, deviceID string) (bool, error)

	// Stats aggregates the principal's records, including the trailing
	// 7-day daily trend.
	Stats(ctx context.Context, principalID string) (*Stats, error)
}

// Repository is the full persistence contract.
type Repository interface {
	RuleStore
	RecordStore

	Ping(ctx context.Context) error
	Close() error
}

// History is the lookup interface consumed by the velocity, geo, amount,
// category, and device predicates. Implementations must tolerate empty
// history; a lookup error makes the predicate degrade to not-triggered.
type History interface {
	RecentTransactions(ctx context.Context, principalID string, since time.Time) ([]*EvaluationRecord, error)
	AverageAmount(ctx context.Context, principalID string) (avg float64, count int64, err error)
	LocationSeen(ctx context.Context, principalID string, location string) (bool, error)
	CategorySeen(ctx context.Context, principalID string, category string) (bool, error)
	DeviceSeen(ctx context.Context, principalID string, deviceID string) (bool, error)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
