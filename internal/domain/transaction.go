package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is an incoming transaction to be scored. It is never
// persisted on its own; the full raw payload is captured inside the
// resulting EvaluationRecord.
type Transaction struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principalId"`
	Amount      float64   `json:"amount"`
	Type        string    `json:"type"`
	Location    string    `json:"location"`
	DeviceID    string    `json:"deviceId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// Raw is the original input payload, preserved verbatim.
	Raw map[string]any `json:"-"`
}

// TransactionFromRaw builds a Transaction from an arbitrary JSON payload.
// Known fields are extracted under both their canonical and legacy keys;
// everything else is preserved in Raw. A missing id is generated.
func TransactionFromRaw(principalID string, raw map[string]any) *Transaction {
	tx := &Transaction{
		PrincipalID: principalID,
		Timestamp:   time.Now().UTC(),
		Raw:         raw,
	}

	tx.ID = rawString(raw, "id", "transactionId", "transaction_id")
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.Type = rawString(raw, "type", "transaction_type")
	if tx.Type == "" {
		tx.Type = "unknown"
	}
	tx.Location = rawString(raw, "location", "location_country")
	if tx.Location == "" {
		tx.Location = "unknown"
	}
	tx.DeviceID = rawString(raw, "deviceId", "device_id")

	if v, ok := raw["amount"]; ok {
		if f, ok := toFloat(v); ok {
			tx.Amount = f
		}
	}
	if s := rawString(raw, "timestamp"); s != "" {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			tx.Timestamp = ts.UTC()
		}
	}

	return tx
}

// Validate checks the transaction input.
func (t *Transaction) Validate() error {
	if t.Amount < 0 {
		return NewValidationError("amount", "must be non-negative, got %v", t.Amount)
	}
	return nil
}

func rawString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
