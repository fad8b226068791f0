package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/food-market/api/internal/platform/auth"
	"github.com/food-market/api/internal/platform/httpx"
	"github.com/food-market/api/internal/services"
)

// StatsHandlers exposes platform-wide aggregates to platform admins.
type StatsHandlers struct {
	authn *auth.Authenticator
	stats services.StatsService
}

// NewStatsHandlers constructs a new StatsHandlers instance.
func NewStatsHandlers(authn *auth.Authenticator, stats services.StatsService) *StatsHandlers {
	return &StatsHandlers{
		authn: authn,
		stats: stats,
	}
}

// Routes registers the /stats endpoints.
func (h *StatsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleSuperAdmin))
	}
	r.Get("/platform", h.platformStats)
}

func (h *StatsHandlers) platformStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "stats service unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	stats, err := h.stats.PlatformStats(ctx)
	if err != nil {
		writeStatsError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, platformStatsPayload{
		TotalMarkets:   stats.TotalMarkets,
		TotalOrders:    stats.TotalOrders,
		TotalItemsSold: stats.TotalItemsSold,
		TotalRevenue:   stats.TotalRevenue,
		GeneratedAt:    formatTime(stats.GeneratedAt),
	})
}

type platformStatsPayload struct {
	TotalMarkets   int64  `json:"total_markets"`
	TotalOrders    int64  `json:"total_orders"`
	TotalItemsSold int64  `json:"total_items_sold"`
	TotalRevenue   int64  `json:"total_revenue"`
	GeneratedAt    string `json:"generated_at"`
}
