// Package engine implements the rule-based fraud scoring engine.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Engine evaluates a transaction against a principal's rule set. It is
// pure over (transaction, rules, thresholds) apart from history lookups;
// a failed lookup degrades the predicate to not-triggered rather than
// erroring the evaluation.
type Engine struct {
	history domain.History
	bus     domain.EventBus // optional observability sink

	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program // keyed by expression
}

// New creates a scoring engine. history and bus may be nil: without
// history every history-dependent predicate degrades to not-triggered.
func New(history domain.History, bus domain.EventBus) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("hour", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		history:  history,
		bus:      bus,
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate scores one transaction against the full rule set. Disabled
// rules are skipped; triggered rule names are collected in rule order;
// the summed score is clamped to [0,100] before status derivation.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction, rules []*domain.Rule, th domain.Thresholds) *domain.ScoreResult {
	total := 0
	triggered := []string{}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		fired, err := e.applyPredicate(ctx, rule, tx)
		if err != nil {
			e.degrade(ctx, rule, tx, err)
			continue
		}
		if fired {
			total += domain.ClampScore(rule.Score)
			triggered = append(triggered, rule.Name)
		}
	}

	total = domain.ClampScore(total)

	return &domain.ScoreResult{
		TransactionID:  tx.ID,
		Score:          total,
		IsFraudulent:   th.IsFraudulent(total),
		Status:         th.Status(total),
		RulesTriggered: triggered,
		EvaluatedAt:    time.Now().UTC(),
	}
}

// ValidateRule performs write-time validation beyond the structural
// config checks: custom rules must carry a compilable CEL expression
// returning bool.
func (e *Engine) ValidateRule(rule *domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Type == domain.RuleCustom {
		if _, err := e.program(rule.Config.Custom.Expression); err != nil {
			return domain.NewValidationError("config.custom.expression", "%v", err)
		}
	}
	return nil
}

// degrade records a predicate that could not consult history. This is a
// warning-level observability event, not a caller-visible error.
func (e *Engine) degrade(ctx context.Context, rule *domain.Rule, tx *domain.Transaction, err error) {
	slog.Warn("predicate degraded to not-triggered",
		"rule_id", rule.ID,
		"rule_type", rule.Type,
		"tx_id", tx.ID,
		"error", err,
	)
	metrics.DegradedPredicates.WithLabelValues(string(rule.Type)).Inc()

	if e.bus != nil {
		payload, _ := json.Marshal(map[string]string{
			"ruleId":        rule.ID,
			"ruleType":      string(rule.Type),
			"transactionId": tx.ID,
			"reason":        err.Error(),
		})
		_ = e.bus.Publish(ctx, tx.PrincipalID, domain.TopicPredicateDegraded, payload)
	}
}

// program compiles (or returns a cached) CEL program for an expression.
func (e *Engine) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = prg
	e.mu.Unlock()

	return prg, nil
}

// evalCustom runs a custom rule's CEL expression against the transaction.
func (e *Engine) evalCustom(rule *domain.Rule, tx *domain.Transaction) (bool, error) {
	prg, err := e.program(rule.Config.Custom.Expression)
	if err != nil {
		return false, err
	}

	raw := tx.Raw
	if raw == nil {
		raw = map[string]any{}
	}

	out, _, err := prg.Eval(map[string]any{
		"tx":        raw,
		"amount":    tx.Amount,
		"tx_type":   tx.Type,
		"location":  tx.Location,
		"device_id": tx.DeviceID,
		"hour":      int64(tx.Timestamp.UTC().Hour()),
	})
	if err != nil {
		return false, fmt.Errorf("expression evaluation: %w", err)
	}

	if b, ok := out.(types.Bool); ok {
		return bool(b), nil
	}
	return false, fmt.Errorf("expression returned non-bool value")
}
