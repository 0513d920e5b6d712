package delegate

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Gateway owns the try-delegate-then-fallback policy so call sites never
// scatter it. The remote result, when available within its timeout, is
// authoritative; on any transport failure the local scorer takes over.
// The fallback path is functionally complete: Gateway methods never
// return an error for delegate unavailability.
type Gateway struct {
	remote Scorer // nil when no delegate is configured
	local  Scorer
	bus    domain.EventBus // optional observability sink
}

// NewGateway creates a gateway. remote may be nil for local-only scoring.
func NewGateway(remote, local Scorer, bus domain.EventBus) *Gateway {
	return &Gateway{remote: remote, local: local, bus: bus}
}

// ScoreOne scores a single transaction, preferring the delegate.
func (g *Gateway) ScoreOne(ctx context.Context, tx *domain.Transaction, rules []*domain.Rule, th domain.Thresholds) *domain.ScoreResult {
	if g.remote != nil {
		result, err := g.remote.ScoreOne(ctx, tx, rules, th)
		if err == nil {
			metrics.EvaluationsTotal.WithLabelValues(result.Status, "delegate").Inc()
			return result
		}
		g.fallback(ctx, tx.PrincipalID, "single", err)
	}

	result, _ := g.local.ScoreOne(ctx, tx, rules, th)
	metrics.EvaluationsTotal.WithLabelValues(result.Status, "local").Inc()
	return result
}

// ScoreBatch scores a batch, preferring the delegate's batch endpoint.
func (g *Gateway) ScoreBatch(ctx context.Context, txs []*domain.Transaction, rules []*domain.Rule, th domain.Thresholds) *domain.BatchResult {
	principalID := ""
	if len(txs) > 0 {
		principalID = txs[0].PrincipalID
	}

	if g.remote != nil {
		result, err := g.remote.ScoreBatch(ctx, txs, rules, th)
		if err == nil {
			for _, r := range result.Results {
				metrics.EvaluationsTotal.WithLabelValues(r.Status, "delegate").Inc()
			}
			return result
		}
		g.fallback(ctx, principalID, "batch", err)
	}

	result, _ := g.local.ScoreBatch(ctx, txs, rules, th)
	for _, r := range result.Results {
		metrics.EvaluationsTotal.WithLabelValues(r.Status, "local").Inc()
	}
	return result
}

// fallback records a delegate failure. One attempt, then local: no
// retries, so tail latency stays bounded.
func (g *Gateway) fallback(ctx context.Context, principalID, mode string, err error) {
	slog.Warn("scoring delegate unavailable, falling back to local rules",
		"mode", mode,
		"error", err,
	)
	metrics.DelegateFallbacks.WithLabelValues(mode).Inc()

	if g.bus != nil && principalID != "" {
		payload, _ := json.Marshal(map[string]string{
			"mode":   mode,
			"reason": err.Error(),
		})
		_ = g.bus.Publish(ctx, principalID, domain.TopicFallback, payload)
	}
}
