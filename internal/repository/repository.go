// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidInput marks malformed store arguments.
var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rule store

// CreateRule validates, clamps, and persists a rule for its principal.
func (r *SQLRepository) CreateRule(ctx context.Context, rule *domain.Rule) error {
	if rule.PrincipalID == "" {
		return fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.Score = domain.ClampScore(rule.Score)

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to encode rule config: %w", err)
	}

	query := `
		INSERT INTO rules (
			id, principal_id, name, description, enabled, score, type, config, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.PrincipalID, rule.Name, rule.Description,
		boolToInt(rule.Enabled), rule.Score, string(rule.Type), string(config),
		rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a rule by id with principal isolation.
func (r *SQLRepository) GetRule(ctx context.Context, principalID string, ruleID string) (*domain.Rule, error) {
	if principalID == "" {
		return nil, fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, principal_id, name, description, enabled, score, type, config, created_at, updated_at
		FROM rules
		WHERE principal_id = ? AND id = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), principalID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all rules for a principal, enabled and disabled,
// in creation order. Evaluation iterates the same order.
func (r *SQLRepository) ListRules(ctx context.Context, principalID string) ([]*domain.Rule, error) {
	if principalID == "" {
		return nil, fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, principal_id, name, description, enabled, score, type, config, created_at, updated_at
		FROM rules
		WHERE principal_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// UpdateRule applies a partial update. Absent patch fields keep prior
// values; the merged rule is re-validated before writing.
func (r *SQLRepository) UpdateRule(ctx context.Context, principalID string, ruleID string, patch *domain.RulePatch) (*domain.Rule, error) {
	rule, err := r.GetRule(ctx, principalID, ruleID)
	if err != nil {
		return nil, err
	}

	if err := patch.Apply(rule); err != nil {
		return nil, err
	}
	rule.Score = domain.ClampScore(rule.Score)
	rule.UpdatedAt = time.Now().UTC()

	config, err := json.Marshal(rule.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule config: %w", err)
	}

	query := `
		UPDATE rules
		SET name = ?, description = ?, enabled = ?, score = ?, type = ?, config = ?, updated_at = ?
		WHERE principal_id = ? AND id = ?
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, boolToInt(rule.Enabled), rule.Score,
		string(rule.Type), string(config), rule.UpdatedAt,
		principalID, ruleID,
	)
	if err != nil {
		return nil, err
	}

	return rule, nil
}

// DeleteRule removes a rule with principal isolation.
func (r *SQLRepository) DeleteRule(ctx context.Context, principalID string, ruleID string) error {
	if principalID == "" {
		return fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	query := `DELETE FROM rules WHERE principal_id = ? AND id = ?`

	res, err := r.db.ExecContext(ctx, r.rebind(query), principalID, ruleID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Evaluation record store

// SaveRecord persists one evaluation record. A (principal, transaction)
// collision maps to ErrDuplicateTransaction; the first record stays.
func (r *SQLRepository) SaveRecord(ctx context.Context, rec *domain.EvaluationRecord) error {
	if rec.PrincipalID == "" {
		return fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}
	if rec.TransactionID == "" {
		return fmt.Errorf("%w: transactionID is required", ErrInvalidInput)
	}

	rulesTriggered, _ := json.Marshal(rec.RulesTriggered)
	rawData, _ := json.Marshal(rec.RawData)

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO evaluations (
			transaction_id, principal_id, amount, type, location, device_id,
			fraud_score, is_fraudulent, rules_triggered, status, raw_data, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.TransactionID, rec.PrincipalID, rec.Amount, rec.Type, rec.Location, rec.DeviceID,
		rec.FraudScore, boolToInt(rec.IsFraudulent), string(rulesTriggered), rec.Status,
		string(rawData), rec.CreatedAt,
	)
	if err != nil && r.isDuplicate(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, rec.TransactionID)
	}
	return err
}

// SaveRecords bulk-persists records best-effort: every record is
// attempted and per-item failures are reported back, so one bad item
// never discards the computed scores of the rest.
func (r *SQLRepository) SaveRecords(ctx context.Context, recs []*domain.EvaluationRecord) []domain.RecordFailure {
	var failures []domain.RecordFailure
	for _, rec := range recs {
		if err := r.SaveRecord(ctx, rec); err != nil {
			failures = append(failures, domain.RecordFailure{
				TransactionID: rec.TransactionID,
				Error:         err.Error(),
			})
		}
	}
	return failures
}

const recordColumns = `transaction_id, principal_id, amount, type, location, device_id,
	fraud_score, is_fraudulent, rules_triggered, status, raw_data, created_at`

// GetRecord retrieves one record by transaction id with principal isolation.
func (r *SQLRepository) GetRecord(ctx context.Context, principalID string, txID string) (*domain.EvaluationRecord, error) {
	if principalID == "" {
		return nil, fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	query := `SELECT ` + recordColumns + ` FROM evaluations WHERE principal_id = ? AND transaction_id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.rebind(query), principalID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

// QueryRecords filters and paginates a principal's records, newest first.
func (r *SQLRepository) QueryRecords(ctx context.Context, principalID string, q domain.RecordQuery) (*domain.RecordPage, error) {
	if principalID == "" {
		return nil, fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = 10
	}

	where := "WHERE principal_id = ?"
	args := []any{principalID}

	switch q.Status {
	case "fraudulent":
		where += " AND is_fraudulent = 1"
	case "legitimate":
		where += " AND is_fraudulent = 0"
	}

	if q.Search != "" {
		where += " AND (lower(transaction_id) LIKE ? OR lower(type) LIKE ? OR lower(location) LIKE ?)"
		term := "%" + strings.ToLower(q.Search) + "%"
		args = append(args, term, term, term)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM evaluations " + where
	if err := r.db.QueryRowContext(ctx, r.rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, err
	}

	listQuery := `SELECT ` + recordColumns + ` FROM evaluations ` + where +
		` ORDER BY created_at DESC, transaction_id LIMIT ? OFFSET ?`
	listArgs := append(args, limit, (page-1)*limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(listQuery), listArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.EvaluationRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.RecordPage{
		Records: records,
		Total:   total,
		Page:    page,
		Limit:   limit,
		Pages:   (total + limit - 1) / limit,
	}, nil
}

// RecentRecords returns the principal's records since the given time,
// newest first. Consumed by the velocity predicate.
func (r *SQLRepository) RecentRecords(ctx context.Context, principalID string, since time.Time) ([]*domain.EvaluationRecord, error) {
	if principalID == "" {
		return nil, fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	query := `SELECT ` + recordColumns + ` FROM evaluations
		WHERE principal_id = ? AND created_at >= ?
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), principalID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.EvaluationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AverageAmount returns the mean transaction amount and record count for
// a principal. An empty history yields (0, 0, nil).
func (r *SQLRepository) AverageAmount(ctx context.Context, principalID string) (float64, int64, error) {
	if principalID == "" {
		return 0, 0, fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	query := `SELECT COALESCE(AVG(amount), 0), COUNT(*) FROM evaluations WHERE principal_id = ?`

	var avg float64
	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), principalID).Scan(&avg, &count)
	return avg, count, err
}

// LocationSeen reports whether the principal has a prior record at the location.
func (r *SQLRepository) LocationSeen(ctx context.Context, principalID string, location string) (bool, error) {
	return r.exists(ctx, principalID, "location", location)
}

// CategorySeen reports whether the principal has a prior record in the category.
func (r *SQLRepository) CategorySeen(ctx context.Context, principalID string, category string) (bool, error) {
	return r.exists(ctx, principalID, "type", category)
}

// DeviceSeen reports whether the principal has a prior record from the device.
func (r *SQLRepository) DeviceSeen(ctx context.Context, principalID string, deviceID string) (bool, error) {
	return r.exists(ctx, principalID, "device_id", deviceID)
}

func (r *SQLRepository) exists(ctx context.Context, principalID, column, value string) (bool, error) {
	if principalID == "" {
		return false, fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	query := `SELECT EXISTS (SELECT 1 FROM evaluations WHERE principal_id = ? AND ` + column + ` = ?)`

	var seen bool
	err := r.db.QueryRowContext(ctx, r.rebind(query), principalID, value).Scan(&seen)
	return seen, err
}

// ---------------------------------------------------------------------------
// Statistics

// Stats aggregates a principal's records: totals, fraud rate, total
// amount, average risk score, and the trailing 7-day daily trend (UTC
// calendar days, ascending, zero days omitted). Rates and averages are
// rounded to 2 decimals and are 0 on an empty record set.
func (r *SQLRepository) Stats(ctx context.Context, principalID string) (*domain.Stats, error) {
	if principalID == "" {
		return nil, fmt.Errorf("%w: principalID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(is_fraudulent), 0),
			   COALESCE(SUM(amount), 0),
			   COALESCE(AVG(fraud_score), 0)
		FROM evaluations
		WHERE principal_id = ?
	`

	stats := &domain.Stats{DailyTrend: []domain.TrendPoint{}}
	var avgScore float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), principalID).Scan(
		&stats.TotalTransactions,
		&stats.FraudulentTransactions,
		&stats.TotalAmount,
		&avgScore,
	)
	if err != nil {
		return nil, err
	}

	stats.LegitimateTransactions = stats.TotalTransactions - stats.FraudulentTransactions
	if stats.TotalTransactions > 0 {
		stats.FraudRate = round2(float64(stats.FraudulentTransactions) / float64(stats.TotalTransactions) * 100)
		stats.AvgRiskScore = round2(avgScore)
	}

	trend, err := r.dailyTrend(ctx, principalID, 7)
	if err != nil {
		return nil, err
	}
	stats.DailyTrend = trend

	return stats, nil
}

// dailyTrend groups the trailing N days of records by UTC calendar day.
func (r *SQLRepository) dailyTrend(ctx context.Context, principalID string, days int) ([]domain.TrendPoint, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)

	// SQLite stores timestamps as text with a YYYY-MM-DD prefix.
	dateExpr := `substr(created_at, 1, 10)`
	if r.driver == "postgres" {
		dateExpr = `to_char(created_at, 'YYYY-MM-DD')`
	}

	query := `
		SELECT ` + dateExpr + ` AS day,
			   COUNT(*),
			   COALESCE(SUM(is_fraudulent), 0)
		FROM evaluations
		WHERE principal_id = ? AND created_at >= ?
		GROUP BY day
		ORDER BY day
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), principalID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trend := []domain.TrendPoint{}
	for rows.Next() {
		var p domain.TrendPoint
		if err := rows.Scan(&p.Date, &p.Count, &p.FraudCount); err != nil {
			return nil, err
		}
		trend = append(trend, p)
	}
	return trend, rows.Err()
}

// ---------------------------------------------------------------------------
// Lifecycle and helpers

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// isDuplicate reports whether err is a primary key collision.
func (r *SQLRepository) isDuplicate(err error) bool {
	if r.driver == "postgres" {
		return isPostgresDuplicate(err)
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var enabled int
	var ruleType, config string

	err := row.Scan(
		&rule.ID, &rule.PrincipalID, &rule.Name, &rule.Description,
		&enabled, &rule.Score, &ruleType, &config,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	rule.Type = domain.RuleType(ruleType)
	if err := json.Unmarshal([]byte(config), &rule.Config); err != nil {
		return nil, fmt.Errorf("failed to decode rule config: %w", err)
	}
	return &rule, nil
}

func scanRecord(row rowScanner) (*domain.EvaluationRecord, error) {
	var rec domain.EvaluationRecord
	var isFraudulent int
	var rulesTriggered, rawData sql.NullString

	err := row.Scan(
		&rec.TransactionID, &rec.PrincipalID, &rec.Amount, &rec.Type, &rec.Location, &rec.DeviceID,
		&rec.FraudScore, &isFraudulent, &rulesTriggered, &rec.Status, &rawData, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.IsFraudulent = isFraudulent == 1
	if rulesTriggered.Valid && rulesTriggered.String != "" {
		json.Unmarshal([]byte(rulesTriggered.String), &rec.RulesTriggered)
	}
	if rec.RulesTriggered == nil {
		rec.RulesTriggered = []string{}
	}
	if rawData.Valid && rawData.String != "" && rawData.String != "null" {
		json.Unmarshal([]byte(rawData.String), &rec.RawData)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
