package domain

import (
	"time"
)

// EvaluationRecord is the immutable persisted outcome of scoring one
// transaction. TransactionID is unique within a principal's record set;
// there is no update path.
type EvaluationRecord struct {
	TransactionID  string         `json:"transactionId"`
	PrincipalID    string         `json:"principalId"`
	Amount         float64        `json:"amount"`
	Type           string         `json:"type"`
	Location       string         `json:"location"`
	DeviceID       string         `json:"deviceId,omitempty"`
	FraudScore     int            `json:"fraudScore"`
	IsFraudulent   bool           `json:"isFraudulent"`
	RulesTriggered []string       `json:"rulesTriggered"`
	Status         string         `json:"status"`
	RawData        map[string]any `json:"rawData,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// NewRecord captures a score result and its input transaction as a record.
func NewRecord(tx *Transaction, res *ScoreResult) *EvaluationRecord {
	return &EvaluationRecord{
		TransactionID:  res.TransactionID,
		PrincipalID:    tx.PrincipalID,
		Amount:         tx.Amount,
		Type:           tx.Type,
		Location:       tx.Location,
		DeviceID:       tx.DeviceID,
		FraudScore:     res.Score,
		IsFraudulent:   res.IsFraudulent,
		RulesTriggered: res.RulesTriggered,
		Status:         res.Status,
		RawData:        tx.Raw,
		CreatedAt:      time.Now().UTC(),
	}
}

// RecordQuery filters and paginates a principal's records.
type RecordQuery struct {
	// Status filters by fraud classification: "fraudulent", "legitimate",
	// or empty for all.
	Status string

	// Search is a case-insensitive substring match over transaction id,
	// type, and location.
	Search string

	Page  int // 1-based; defaults to 1
	Limit int // defaults to 10
}

// RecordPage is one page of query results, newest first.
type RecordPage struct {
	Records []*EvaluationRecord `json:"transactions"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
	Pages   int                 `json:"pages"`
}

// RecordFailure reports one record that could not be persisted during a
// best-effort bulk save.
type RecordFailure struct {
	TransactionID string `json:"transactionId"`
	Error         string `json:"error"`
}

// TrendPoint is one day of the daily trend, grouped by UTC calendar day.
type TrendPoint struct {
	Date       string `json:"date"` // YYYY-MM-DD
	Count      int    `json:"count"`
	FraudCount int    `json:"fraudCount"`
}

// Stats summarizes a principal's stored evaluation records. Under Review
// counts as non-fraudulent in the binary fraud/legitimate split.
type Stats struct {
	TotalTransactions      int          `json:"totalTransactions"`
	FraudulentTransactions int          `json:"fraudulentTransactions"`
	LegitimateTransactions int          `json:"legitimateTransactions"`
	FraudRate              float64      `json:"fraudRate"`
	TotalAmount            float64      `json:"totalAmount"`
	AvgRiskScore           float64      `json:"avgRiskScore"`
	DailyTrend             []TrendPoint `json:"dailyTrend"`
}
