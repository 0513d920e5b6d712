package domain

import (
	"time"
)

// Transaction status values derived from the fraud score.
const (
	StatusFraudulent  = "Fraudulent"
	StatusUnderReview = "Under Review"
	StatusLegitimate  = "Legitimate"
)

// Thresholds is the score-to-status boundary set. It is passed
// explicitly into every evaluation rather than read from a global, so
// concurrent evaluations under different settings remain correct.
type Thresholds struct {
	// FraudScore is the inclusive cutoff for Fraudulent.
	FraudScore int `json:"fraudScore" yaml:"fraudScore"`

	// ReviewScore is the exclusive lower bound of the Under Review band.
	ReviewScore int `json:"reviewScore" yaml:"reviewScore"`
}

// DefaultThresholds returns the standard boundary set: score >= 80 is
// Fraudulent, 50 < score < 80 is Under Review, everything else Legitimate.
func DefaultThresholds() Thresholds {
	return Thresholds{FraudScore: 80, ReviewScore: 50}
}

// Status derives the status string for a score.
func (t Thresholds) Status(score int) string {
	switch {
	case score >= t.FraudScore:
		return StatusFraudulent
	case score > t.ReviewScore:
		return StatusUnderReview
	default:
		return StatusLegitimate
	}
}

// IsFraudulent reports whether a score meets the fraud cutoff.
func (t Thresholds) IsFraudulent(score int) bool {
	return score >= t.FraudScore
}

// ScoreResult is the outcome of scoring one transaction.
type ScoreResult struct {
	TransactionID  string    `json:"transactionId"`
	Score          int       `json:"fraudScore"`
	IsFraudulent   bool      `json:"isFraudulent"`
	Status         string    `json:"status"`
	RulesTriggered []string  `json:"rulesTriggered"`

	// Degraded marks a result produced without genuine rule-based or
	// delegate scoring (the named placeholder policy).
	Degraded bool `json:"degraded,omitempty"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// BatchInsights summarizes a scored batch.
type BatchInsights struct {
	TotalTransactions      int     `json:"totalTransactions"`
	FraudulentTransactions int     `json:"fraudulentTransactions"`
	LegitimateTransactions int     `json:"legitimateTransactions"`
	FraudRate              float64 `json:"fraudRate"`
	AvgFraudProbability    float64 `json:"avgFraudProbability"`
	ProcessingTimeMs       int64   `json:"processingTimeMs"`
}

// BatchResult holds per-item results in input order plus batch insights.
type BatchResult struct {
	Results  []ScoreResult `json:"results"`
	Insights BatchInsights `json:"insights"`

	// Degraded marks a batch scored under the placeholder policy.
	Degraded bool `json:"degraded,omitempty"`
}

// ComputeInsights derives batch insights from per-item results.
// Status counting is binary: Under Review counts as non-fraudulent.
func ComputeInsights(results []ScoreResult, elapsed time.Duration) BatchInsights {
	insights := BatchInsights{
		TotalTransactions: len(results),
		ProcessingTimeMs:  elapsed.Milliseconds(),
	}

	var scoreSum int
	for _, r := range results {
		if r.Status == StatusFraudulent {
			insights.FraudulentTransactions++
		}
		scoreSum += r.Score
	}
	insights.LegitimateTransactions = insights.TotalTransactions - insights.FraudulentTransactions

	if insights.TotalTransactions > 0 {
		insights.FraudRate = float64(insights.FraudulentTransactions) / float64(insights.TotalTransactions) * 100
		insights.AvgFraudProbability = float64(scoreSum) / float64(insights.TotalTransactions)
	}

	return insights
}
