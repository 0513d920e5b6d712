package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/delegate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	engine     *engine.Engine
	gateway    *delegate.Gateway
	thresholds func() domain.Thresholds
	version    string
}

// NewHandler creates a new API handler. thresholds is read per request so
// config hot-reloads take effect without restart.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, gateway *delegate.Gateway, thresholds func() domain.Thresholds, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		engine:     eng,
		gateway:    gateway,
		thresholds: thresholds,
		version:    version,
	}
}

// EvaluateResponse is the response for POST /evaluate. Saved is false when
// scoring succeeded but the record could not be persisted.
type EvaluateResponse struct {
	domain.ScoreResult
	Saved bool `json:"saved"`
}

// Evaluate handles POST /evaluate requests. The body is the raw
// transaction payload; unknown fields are preserved in the stored record.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := domain.TransactionFromRaw(principalID, raw)
	if err := tx.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	rules, err := h.repo.ListRules(ctx, principalID)
	if err != nil {
		slog.Error("failed to list rules", "principal_id", principalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	result := h.gateway.ScoreOne(ctx, tx, rules, h.thresholds())

	saved := true
	record := domain.NewRecord(tx, result)
	if err := h.repo.SaveRecord(ctx, record); err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			metrics.DuplicatesRejected.Inc()
			h.publish(ctx, principalID, domain.TopicDuplicateRejected, map[string]string{
				"transactionId": tx.ID,
			})
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":         "transaction id already evaluated",
				"transactionId": tx.ID,
			})
			return
		}
		// Scoring succeeded; report the result with saved=false rather
		// than discarding it.
		slog.Error("failed to save evaluation record",
			"transaction_id", tx.ID,
			"principal_id", principalID,
			"error", err,
		)
		saved = false
	}

	if result.IsFraudulent {
		h.publish(ctx, principalID, domain.TopicAlert, map[string]any{
			"transactionId":  result.TransactionID,
			"fraudScore":     result.Score,
			"rulesTriggered": result.RulesTriggered,
		})
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		ScoreResult: *result,
		Saved:       saved,
	})
}

// BatchRequest is the request body for POST /batch.
type BatchRequest struct {
	Transactions []map[string]any `json:"transactions"`
}

// BatchResponse is the response for POST /batch. SaveFailures lists
// records that scored but could not be persisted.
type BatchResponse struct {
	Results      []domain.ScoreResult   `json:"results"`
	Insights     domain.BatchInsights   `json:"insights"`
	Degraded     bool                   `json:"degraded,omitempty"`
	SaveFailures []domain.RecordFailure `json:"saveFailures,omitempty"`
}

// Batch handles POST /batch requests.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions must be a non-empty array",
		})
		return
	}

	txs := make([]*domain.Transaction, len(req.Transactions))
	for i, raw := range req.Transactions {
		tx := domain.TransactionFromRaw(principalID, raw)
		if err := tx.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "transactions[" + strconv.Itoa(i) + "]: " + err.Error(),
			})
			return
		}
		txs[i] = tx
	}

	rules, err := h.repo.ListRules(ctx, principalID)
	if err != nil {
		slog.Error("failed to list rules", "principal_id", principalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	batch := h.gateway.ScoreBatch(ctx, txs, rules, h.thresholds())

	records := make([]*domain.EvaluationRecord, len(batch.Results))
	for i := range batch.Results {
		records[i] = domain.NewRecord(txs[i], &batch.Results[i])
	}
	failures := h.repo.SaveRecords(ctx, records)
	if len(failures) > 0 {
		slog.Warn("batch persisted with failures",
			"principal_id", principalID,
			"total", len(records),
			"failed", len(failures),
		)
	}

	writeJSON(w, http.StatusOK, BatchResponse{
		Results:      batch.Results,
		Insights:     batch.Insights,
		Degraded:     batch.Degraded,
		SaveFailures: failures,
	})
}

// QueryTransactions handles GET /transactions with status, search, page,
// and limit query parameters.
func (h *Handler) QueryTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)

	q := domain.RecordQuery{
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("page"); v != "" {
		q.Page, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}

	page, err := h.repo.QueryRecords(ctx, principalID, q)
	if err != nil {
		slog.Error("failed to query records", "principal_id", principalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to query transactions",
		})
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)
	txID := chi.URLParam(r, "id")

	rec, err := h.repo.GetRecord(ctx, principalID, txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get record", "transaction_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetStats handles GET /stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)

	stats, err := h.repo.Stats(ctx, principalID)
	if err != nil {
		slog.Error("failed to aggregate stats", "principal_id", principalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute statistics",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)

	rules, err := h.repo.ListRules(ctx, principalID)
	if err != nil {
		slog.Error("failed to list rules", "principal_id", principalID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetRule(ctx, principalID, ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "rule_id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Score       int               `json:"score"`
	Type        domain.RuleType   `json:"type"`
	Config      domain.RuleConfig `json:"config"`
}

// CreateRule handles POST /rules. The rule's config variant must match
// its type; custom rules must carry a compilable CEL expression.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule := &domain.Rule{
		PrincipalID: principalID,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     enabled,
		Score:       req.Score,
		Type:        req.Type,
		Config:      req.Config,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.CreateRule(ctx, rule); err != nil {
		if domain.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to create rule", "name", req.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create rule",
		})
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name, "type", rule.Type)
	writeJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /rules/{id}. Absent fields keep prior values.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)
	ruleID := chi.URLParam(r, "id")

	var patch domain.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	rule, err := h.repo.UpdateRule(ctx, principalID, ruleID, &patch)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
		case domain.IsValidation(err):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("failed to update rule", "rule_id", ruleID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to update rule",
			})
		}
		return
	}

	slog.Info("rule updated", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := GetPrincipalID(ctx)
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteRule(ctx, principalID, ruleID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to delete rule", "rule_id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete rule",
		})
		return
	}

	slog.Info("rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deleted",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// publish sends a bus event, logging but otherwise ignoring failures. The
// bus is an observability sink; it never affects the request outcome.
func (h *Handler) publish(ctx context.Context, principalID, topic string, payload any) {
	if h.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, principalID, topic, data); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
