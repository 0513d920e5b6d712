package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RemoteDelegate calls the external scoring capability over HTTP. It
// makes exactly one attempt per call with a bounded timeout; every
// transport failure maps to ErrDelegateUnavailable so the gateway can
// fall back without inspecting causes.
type RemoteDelegate struct {
	baseURL string
	single  *http.Client
	batch   *http.Client
}

// NewRemoteDelegate creates a delegate client. Zero timeouts fall back
// to the package defaults; timeouts are never infinite.
func NewRemoteDelegate(cfg domain.DelegateConfig) *RemoteDelegate {
	singleTimeout := cfg.SingleTimeout
	if singleTimeout <= 0 {
		singleTimeout = domain.DefaultSingleTimeout
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = domain.DefaultBatchTimeout
	}

	return &RemoteDelegate{
		baseURL: cfg.BaseURL,
		single:  &http.Client{Timeout: singleTimeout},
		batch:   &http.Client{Timeout: batchTimeout},
	}
}

// singleResponse is the delegate's single-scoring wire format.
type singleResponse struct {
	TransactionID  string   `json:"transaction_id"`
	FraudScore     int      `json:"fraud_score"`
	IsFraudulent   bool     `json:"is_fraudulent"`
	RulesTriggered []string `json:"rules_triggered"`
	EvaluationTime string   `json:"evaluation_time"`
}

// batchResponse is the delegate's batch wire format.
type batchResponse struct {
	Results []struct {
		TransactionID    string  `json:"transaction_id"`
		FraudProbability float64 `json:"fraud_probability"`
		Status           string  `json:"status"`
	} `json:"results"`
	Insights struct {
		TotalTransactions      int     `json:"total_transactions"`
		FraudulentTransactions int     `json:"fraudulent_transactions"`
		LegitimateTransactions int     `json:"legitimate_transactions"`
		FraudRate              float64 `json:"fraud_rate"`
		AvgFraudProbability    float64 `json:"avg_fraud_probability"`
		ProcessingTimeMs       int64   `json:"processing_time_ms"`
	} `json:"batch_insights"`
}

// ScoreOne posts the transaction to the delegate's /evaluate endpoint.
// A successful response is authoritative and used as-is.
func (d *RemoteDelegate) ScoreOne(ctx context.Context, tx *domain.Transaction, _ []*domain.Rule, th domain.Thresholds) (*domain.ScoreResult, error) {
	body, err := d.post(ctx, d.single, "/evaluate", txPayload(tx))
	if err != nil {
		return nil, err
	}

	var resp singleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", domain.ErrDelegateUnavailable, err)
	}

	score := domain.ClampScore(resp.FraudScore)
	result := &domain.ScoreResult{
		TransactionID:  resp.TransactionID,
		Score:          score,
		IsFraudulent:   resp.IsFraudulent,
		Status:         th.Status(score),
		RulesTriggered: resp.RulesTriggered,
		EvaluatedAt:    time.Now().UTC(),
	}
	if result.TransactionID == "" {
		result.TransactionID = tx.ID
	}
	if result.RulesTriggered == nil {
		result.RulesTriggered = []string{}
	}
	if ts, err := time.Parse(time.RFC3339, resp.EvaluationTime); err == nil {
		result.EvaluatedAt = ts.UTC()
	}
	return result, nil
}

// ScoreBatch posts the batch to the delegate's /batch_predict endpoint.
// Result order mirrors the submitted order.
func (d *RemoteDelegate) ScoreBatch(ctx context.Context, txs []*domain.Transaction, _ []*domain.Rule, th domain.Thresholds) (*domain.BatchResult, error) {
	payloads := make([]map[string]any, len(txs))
	for i, tx := range txs {
		payloads[i] = txPayload(tx)
	}

	body, err := d.post(ctx, d.batch, "/batch_predict", map[string]any{"transactions": payloads})
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", domain.ErrDelegateUnavailable, err)
	}
	if len(resp.Results) != len(txs) {
		return nil, fmt.Errorf("%w: expected %d results, got %d", domain.ErrDelegateUnavailable, len(txs), len(resp.Results))
	}

	results := make([]domain.ScoreResult, len(txs))
	for i, r := range resp.Results {
		score := domain.ClampScore(int(r.FraudProbability))
		status := r.Status
		if status == "" {
			status = th.Status(score)
		}
		txID := r.TransactionID
		if txID == "" {
			txID = txs[i].ID
		}
		results[i] = domain.ScoreResult{
			TransactionID:  txID,
			Score:          score,
			IsFraudulent:   status == domain.StatusFraudulent,
			Status:         status,
			RulesTriggered: []string{},
			EvaluatedAt:    time.Now().UTC(),
		}
	}

	return &domain.BatchResult{
		Results: results,
		Insights: domain.BatchInsights{
			TotalTransactions:      resp.Insights.TotalTransactions,
			FraudulentTransactions: resp.Insights.FraudulentTransactions,
			LegitimateTransactions: resp.Insights.LegitimateTransactions,
			FraudRate:              resp.Insights.FraudRate,
			AvgFraudProbability:    resp.Insights.AvgFraudProbability,
			ProcessingTimeMs:       resp.Insights.ProcessingTimeMs,
		},
	}, nil
}

func (d *RemoteDelegate) post(ctx context.Context, client *http.Client, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDelegateUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDelegateUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDelegateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: delegate returned status %d", domain.ErrDelegateUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDelegateUnavailable, err)
	}
	return data, nil
}

// txPayload is the transaction representation sent to the delegate: the
// raw payload enriched with the resolved identity fields.
func txPayload(tx *domain.Transaction) map[string]any {
	payload := make(map[string]any, len(tx.Raw)+4)
	for k, v := range tx.Raw {
		payload[k] = v
	}
	payload["id"] = tx.ID
	payload["user_id"] = tx.PrincipalID
	payload["amount"] = tx.Amount
	payload["transaction_type"] = tx.Type
	payload["location"] = tx.Location
	return payload
}
