package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// errNoHistory marks predicates that need history lookups when no
// history collaborator is wired.
var errNoHistory = fmt.Errorf("history lookup unavailable")

// applyPredicate dispatches a rule to its type-specific predicate. The
// returned error means the predicate could not consult required history
// and must degrade to not-triggered.
func (e *Engine) applyPredicate(ctx context.Context, rule *domain.Rule, tx *domain.Transaction) (bool, error) {
	switch rule.Type {
	case domain.RuleVelocity:
		return e.velocityTriggered(ctx, rule.Config.Velocity, tx)
	case domain.RuleGeo:
		return e.geoTriggered(ctx, tx)
	case domain.RuleAmount:
		return e.amountTriggered(ctx, rule.Config.Amount, tx)
	case domain.RuleTime:
		return timeTriggered(rule.Config.Time, tx)
	case domain.RuleCategory:
		return e.categoryTriggered(ctx, rule.Config.Category, tx)
	case domain.RuleDevice:
		return e.deviceTriggered(ctx, rule.Config.Device, tx)
	case domain.RuleCustom:
		return e.evalCustom(rule, tx)
	}
	// Unknown types are rejected at write time; reaching here means a
	// store bypassed validation.
	return false, fmt.Errorf("unknown rule type %q", rule.Type)
}

// velocityTriggered fires when the principal's transaction count within
// the trailing window meets or exceeds the configured count.
func (e *Engine) velocityTriggered(ctx context.Context, cfg *domain.VelocityConfig, tx *domain.Transaction) (bool, error) {
	if e.history == nil {
		return false, errNoHistory
	}
	since := time.Now().UTC().Add(-time.Duration(cfg.TimeWindowMinutes) * time.Minute)
	recent, err := e.history.RecentTransactions(ctx, tx.PrincipalID, since)
	if err != nil {
		return false, err
	}
	return len(recent) >= cfg.TransactionCount, nil
}

// geoTriggered fires on a first-occurrence location anomaly.
func (e *Engine) geoTriggered(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if e.history == nil {
		return false, errNoHistory
	}
	seen, err := e.history.LocationSeen(ctx, tx.PrincipalID, tx.Location)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// amountTriggered fires when the amount exceeds the configured multiple
// of the historical average. Insufficient history is not an error: the
// predicate never triggers until MinHistory prior records exist.
func (e *Engine) amountTriggered(ctx context.Context, cfg *domain.AmountConfig, tx *domain.Transaction) (bool, error) {
	if e.history == nil {
		return false, errNoHistory
	}
	avg, count, err := e.history.AverageAmount(ctx, tx.PrincipalID)
	if err != nil {
		return false, err
	}
	if count < int64(cfg.MinHistory) {
		return false, nil
	}
	return tx.Amount > cfg.ThresholdMultiplier*avg, nil
}

// timeTriggered fires when the transaction's hour-of-day, in the rule's
// reference time zone (default UTC), is a member of the high-risk set.
func timeTriggered(cfg *domain.TimeConfig, tx *domain.Transaction) (bool, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return false, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	hour := tx.Timestamp.In(loc).Hour()
	return slices.Contains(cfg.HighRiskHours, hour), nil
}

// categoryTriggered fires on the principal's first transaction in a
// high-risk category.
func (e *Engine) categoryTriggered(ctx context.Context, cfg *domain.CategoryConfig, tx *domain.Transaction) (bool, error) {
	if !slices.Contains(cfg.HighRiskCategories, tx.Type) {
		return false, nil
	}
	if e.history == nil {
		return false, errNoHistory
	}
	seen, err := e.history.CategorySeen(ctx, tx.PrincipalID, tx.Type)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// deviceTriggered fires on a first-seen device outside the trusted list.
// Transactions without a device id never trigger.
func (e *Engine) deviceTriggered(ctx context.Context, cfg *domain.DeviceConfig, tx *domain.Transaction) (bool, error) {
	if tx.DeviceID == "" {
		return false, nil
	}
	if slices.Contains(cfg.TrustedDevices, tx.DeviceID) {
		return false, nil
	}
	if e.history == nil {
		return false, errNoHistory
	}
	seen, err := e.history.DeviceSeen(ctx, tx.PrincipalID, tx.DeviceID)
	if err != nil {
		return false, err
	}
	return !seen, nil
}
