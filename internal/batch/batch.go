// Package batch implements the local batch scorer used when the external
// delegate is unreachable or when a caller requests local-only scoring.
package batch

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Processor fans a batch out to the scoring engine with a bounded worker
// pool. Items share only the read-only rule slice; results are
// reassembled in input order regardless of completion order.
type Processor struct {
	engine  *engine.Engine
	workers int
}

// NewProcessor creates a batch processor. workers bounds concurrent
// per-item scoring; non-positive values default to 8.
func NewProcessor(eng *engine.Engine, workers int) *Processor {
	if workers <= 0 {
		workers = 8
	}
	return &Processor{engine: eng, workers: workers}
}

// ScoreBatch scores every transaction against the rule set and computes
// batch insights. With an empty rule set the batch is scored under the
// placeholder policy and flagged degraded.
func (p *Processor) ScoreBatch(ctx context.Context, txs []*domain.Transaction, rules []*domain.Rule, th domain.Thresholds) *domain.BatchResult {
	start := time.Now()
	metrics.BatchSize.Observe(float64(len(txs)))

	degraded := len(rules) == 0
	results := make([]domain.ScoreResult, len(txs))

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.workers)

	for i, tx := range txs {
		wg.Add(1)
		go func(idx int, t *domain.Transaction) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if degraded {
				results[idx] = placeholderResult(t, th)
				return
			}
			results[idx] = *p.engine.Evaluate(ctx, t, rules, th)
		}(i, tx)
	}

	wg.Wait()

	elapsed := time.Since(start)
	metrics.BatchDuration.Observe(float64(elapsed.Milliseconds()))

	return &domain.BatchResult{
		Results:  results,
		Insights: domain.ComputeInsights(results, elapsed),
		Degraded: degraded,
	}
}

// placeholderResult produces the named degraded-mode score: an FNV hash
// of the transaction id mapped onto [0,100]. Deterministic so repeated
// submissions classify identically, and flagged so callers can tell it
// apart from genuine rule-based scoring.
func placeholderResult(tx *domain.Transaction, th domain.Thresholds) domain.ScoreResult {
	h := fnv.New32a()
	h.Write([]byte(tx.ID))
	score := int(h.Sum32() % 101)

	return domain.ScoreResult{
		TransactionID:  tx.ID,
		Score:          score,
		IsFraudulent:   th.IsFraudulent(score),
		Status:         th.Status(score),
		RulesTriggered: []string{},
		Degraded:       true,
		EvaluatedAt:    time.Now().UTC(),
	}
}
