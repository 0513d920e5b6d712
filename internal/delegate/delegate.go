// Package delegate reaches the external scoring capability and owns the
// timeout/fallback policy for degraded operation.
package delegate

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Scorer is the strategy point between remote delegate and local rule
// scoring. Remote implementations ignore the rule set; local ones ignore
// nothing. Both must honor ctx cancellation.
type Scorer interface {
	ScoreOne(ctx context.Context, tx *domain.Transaction, rules []*domain.Rule, th domain.Thresholds) (*domain.ScoreResult, error)
	ScoreBatch(ctx context.Context, txs []*domain.Transaction, rules []*domain.Rule, th domain.Thresholds) (*domain.BatchResult, error)
}

// LocalScorer scores with the rule engine and the batch processor. It is
// functionally complete on its own and never fails.
type LocalScorer struct {
	engine *engine.Engine
	batch  *batch.Processor
}

// NewLocalScorer creates the local scoring strategy.
func NewLocalScorer(eng *engine.Engine, proc *batch.Processor) *LocalScorer {
	return &LocalScorer{engine: eng, batch: proc}
}

// ScoreOne evaluates a single transaction against the rule set.
func (s *LocalScorer) ScoreOne(ctx context.Context, tx *domain.Transaction, rules []*domain.Rule, th domain.Thresholds) (*domain.ScoreResult, error) {
	return s.engine.Evaluate(ctx, tx, rules, th), nil
}

// ScoreBatch fans the batch out to the bounded worker pool.
func (s *LocalScorer) ScoreBatch(ctx context.Context, txs []*domain.Transaction, rules []*domain.Rule, th domain.Thresholds) (*domain.BatchResult, error) {
	return s.batch.ScoreBatch(ctx, txs, rules, th), nil
}
