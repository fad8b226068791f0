package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsRequestsByRoutePattern(t *testing.T) {
	router := chi.NewRouter()
	router.Use(Middleware)
	router.Get("/markets/{marketID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/markets/{marketID}", "200"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets/mkt_1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/markets/{marketID}", "200"))
	if after != before+1 {
		t.Fatalf("expected counter labelled with the route pattern to increment, got %v -> %v", before, after)
	}
}

func TestRecordOrderOperation(t *testing.T) {
	before := testutil.ToFloat64(orderOperations.WithLabelValues("create", "error"))
	RecordOrderOperation("create", false)
	after := testutil.ToFloat64(orderOperations.WithLabelValues("create", "error"))
	if after != before+1 {
		t.Fatalf("expected error outcome to increment, got %v -> %v", before, after)
	}
}
