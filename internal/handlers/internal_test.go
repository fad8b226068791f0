package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/food-market/api/internal/repositories"
	"github.com/food-market/api/internal/services"
)

func newInternalRouter(stats services.StatsService, system services.SystemService) http.Handler {
	return mountRoutes("/internal", NewInternalHandlers(stats, system).Routes)
}

func TestReconcileStatsEndpoint(t *testing.T) {
	var gotLimit int
	stats := &stubStatsService{
		reconcile: func(_ context.Context, limit int) (services.ReconcileResult, error) {
			gotLimit = limit
			return services.ReconcileResult{Scanned: 8, Committed: 6, Failed: 1}, nil
		},
	}
	router := newInternalRouter(stats, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/stats:reconcile?limit=50", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotLimit != 50 {
		t.Errorf("limit not forwarded, got %d", gotLimit)
	}
	var resp reconcileResponse
	decodeResponse(t, rec, &resp)
	if resp.Scanned != 8 || resp.Committed != 6 || resp.Failed != 1 {
		t.Fatalf("unexpected payload %+v", resp)
	}
}

func TestReconcileStatsDefaultsLimit(t *testing.T) {
	var gotLimit int
	stats := &stubStatsService{
		reconcile: func(_ context.Context, limit int) (services.ReconcileResult, error) {
			gotLimit = limit
			return services.ReconcileResult{}, nil
		},
	}
	router := newInternalRouter(stats, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/stats:reconcile", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotLimit != 0 {
		t.Errorf("expected zero limit when omitted, got %d", gotLimit)
	}
}

func TestReconcileStatsRejectsBadLimit(t *testing.T) {
	router := newInternalRouter(&stubStatsService{}, nil)

	for _, raw := range []string{"-1", "many"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/stats:reconcile?limit="+raw, nil))

		assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
	}
}

func TestNextCounterEndpoint(t *testing.T) {
	var gotCmd services.CounterCommand
	system := &stubSystemService{
		nextCounter: func(_ context.Context, cmd services.CounterCommand) (int64, error) {
			gotCmd = cmd
			return 43, nil
		},
	}
	router := newInternalRouter(nil, system)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/counters/orders-2026:next?step=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotCmd.CounterID != "orders-2026" || gotCmd.Step != 2 {
		t.Errorf("unexpected command %+v", gotCmd)
	}
	var resp map[string]any
	decodeResponse(t, rec, &resp)
	if resp["counter_id"] != "orders-2026" {
		t.Errorf("unexpected counter id %v", resp["counter_id"])
	}
	if resp["value"] != float64(43) {
		t.Errorf("unexpected value %v", resp["value"])
	}
}

func TestNextCounterRejectsBadStep(t *testing.T) {
	router := newInternalRouter(nil, &stubSystemService{})

	for _, raw := range []string{"0", "-3", "two"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/counters/orders-2026:next?step="+raw, nil))

		assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
	}
}

func TestNextCounterErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			"invalid input",
			repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil),
			http.StatusBadRequest,
			"invalid_request",
		},
		{
			"exhausted",
			repositories.NewCounterError(repositories.CounterErrorExhausted, "counter orders-2026 exceeded max value", nil),
			http.StatusConflict,
			"counter_exhausted",
		},
		{
			"internal",
			context.DeadlineExceeded,
			http.StatusInternalServerError,
			"counter_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			system := &stubSystemService{
				nextCounter: func(context.Context, services.CounterCommand) (int64, error) {
					return 0, tc.err
				},
			}
			router := newInternalRouter(nil, system)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/counters/orders-2026:next", nil))

			assertErrorCode(t, rec, tc.wantStatus, tc.wantCode)
		})
	}
}
