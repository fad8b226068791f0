package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/food-market/api/internal/platform/httpx"
	"github.com/food-market/api/internal/platform/metrics"
	"github.com/food-market/api/internal/repositories"
	"github.com/food-market/api/internal/services"
)

// InternalHandlers exposes operational endpoints for trusted internal callers.
// The router mounts these behind the service-token middleware.
type InternalHandlers struct {
	stats  services.StatsService
	system services.SystemService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(stats services.StatsService, system services.SystemService) *InternalHandlers {
	return &InternalHandlers{
		stats:  stats,
		system: system,
	}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stats:reconcile", h.reconcileStats)
	r.Post("/counters/{counterID}:next", h.nextCounter)
}

func (h *InternalHandlers) reconcileStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "stats service unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	result, err := h.stats.Reconcile(ctx, limit)
	if err != nil {
		writeStatsError(ctx, w, err)
		return
	}
	metrics.RecordStatsCommit("reconciled")

	writeJSONResponse(w, http.StatusOK, reconcileResponse{
		Scanned:   result.Scanned,
		Committed: result.Committed,
		Failed:    result.Failed,
	})
}

func (h *InternalHandlers) nextCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service unavailable", http.StatusServiceUnavailable))
		return
	}

	counterID := strings.TrimSpace(chi.URLParam(r, "counterID"))
	if counterID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "counter id is required", http.StatusBadRequest))
		return
	}

	var step int64
	if raw := strings.TrimSpace(r.URL.Query().Get("step")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "step must be a positive integer", http.StatusBadRequest))
			return
		}
		step = parsed
	}

	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{
		CounterID: counterID,
		Step:      step,
	})
	if err != nil {
		writeCounterError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"counter_id": counterID,
		"value":      value,
	})
}

type reconcileResponse struct {
	Scanned   int `json:"scanned"`
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
}

func writeCounterError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		case repositories.CounterErrorExhausted:
			httpx.WriteError(ctx, w, httpx.NewError("counter_exhausted", err.Error(), http.StatusConflict))
			return
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError("counter_error", "failed to advance counter", http.StatusInternalServerError))
}
