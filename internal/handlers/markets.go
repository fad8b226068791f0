package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/food-market/api/internal/platform/auth"
	"github.com/food-market/api/internal/platform/httpx"
	"github.com/food-market/api/internal/platform/pagination"
	"github.com/food-market/api/internal/services"
)

const (
	defaultMarketPageSize = 20
	maxMarketPageSize     = 100
	maxMarketBodySize     = 64 * 1024
)

type upsertMarketRequest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Address      string            `json:"address"`
	City         string            `json:"city"`
	Phone        string            `json:"phone"`
	Email        string            `json:"email"`
	OpeningHours map[string]string `json:"opening_hours"`
	Tags         []string          `json:"tags"`
	Active       *bool             `json:"active"`
	Verified     *bool             `json:"verified"`
	OwnerID      string            `json:"owner_id"`
}

// MarketHandlers exposes market catalog endpoints.
type MarketHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
	stats   services.StatsService
}

// NewMarketHandlers constructs a new MarketHandlers instance.
func NewMarketHandlers(authn *auth.Authenticator, catalog services.CatalogService, stats services.StatsService) *MarketHandlers {
	return &MarketHandlers{
		authn:   authn,
		catalog: catalog,
		stats:   stats,
	}
}

// Routes registers the /markets endpoints. Reads are public; writes require a
// market admin identity.
func (h *MarketHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listMarkets)
	r.Get("/{marketID}", h.getMarket)

	if h.authn != nil {
		r.Group(func(protected chi.Router) {
			protected.Use(h.authn.RequireFirebaseAuth(auth.RoleMarketAdmin, auth.RoleSuperAdmin))
			protected.Post("/", h.createMarket)
			protected.Put("/{marketID}", h.updateMarket)
			protected.Get("/{marketID}/stats", h.marketStats)
		})
	}
}

func (h *MarketHandlers) listMarkets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := pagination.ParsePageSize(query.Get("page_size"), defaultMarketPageSize, maxMarketPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.MarketListFilter{
		City:         strings.TrimSpace(query.Get("city")),
		Tags:         parseFilterValues(query["tag"]),
		ActiveOnly:   query.Get("include_inactive") == "",
		VerifiedOnly: query.Get("verified") == "true",
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	page, err := h.catalog.ListMarkets(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]marketPayload, 0, len(page.Items))
	for _, market := range page.Items {
		items = append(items, buildMarketPayload(market))
	}
	writeJSONResponse(w, http.StatusOK, marketListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *MarketHandlers) getMarket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	marketID := strings.TrimSpace(chi.URLParam(r, "marketID"))
	if marketID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "market id is required", http.StatusBadRequest))
		return
	}

	market, err := h.catalog.GetMarket(ctx, marketID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, marketResponse{Market: buildMarketPayload(market)})
}

func (h *MarketHandlers) createMarket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req upsertMarketRequest
	if err := decodeJSONBody(r, maxMarketBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	market, err := h.catalog.CreateMarket(ctx, services.UpsertMarketCommand{
		Market: marketFromRequest(req, "", true),
		Actor:  actorFromIdentity(identity),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, marketResponse{Market: buildMarketPayload(market)})
}

func (h *MarketHandlers) updateMarket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	marketID := strings.TrimSpace(chi.URLParam(r, "marketID"))
	if marketID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "market id is required", http.StatusBadRequest))
		return
	}

	var req upsertMarketRequest
	if err := decodeJSONBody(r, maxMarketBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	market, err := h.catalog.UpdateMarket(ctx, services.UpsertMarketCommand{
		Market: marketFromRequest(req, marketID, true),
		Actor:  actorFromIdentity(identity),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, marketResponse{Market: buildMarketPayload(market)})
}

func (h *MarketHandlers) marketStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "stats service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	marketID := strings.TrimSpace(chi.URLParam(r, "marketID"))
	if marketID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "market id is required", http.StatusBadRequest))
		return
	}

	topProducts := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("top_products")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "top_products must be a non-negative integer", http.StatusBadRequest))
			return
		}
		topProducts = parsed
	}

	stats, err := h.stats.MarketStats(ctx, services.MarketStatsQuery{
		MarketID:    marketID,
		TopProducts: topProducts,
		Actor:       actorFromIdentity(identity),
	})
	if err != nil {
		writeStatsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMarketStatsPayload(stats))
}

// Payloads -------------------------------------------------------------------

type marketListResponse struct {
	Items         []marketPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type marketResponse struct {
	Market marketPayload `json:"market"`
}

type marketPayload struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Address      string            `json:"address,omitempty"`
	City         string            `json:"city,omitempty"`
	OwnerID      string            `json:"owner_id,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Email        string            `json:"email,omitempty"`
	OpeningHours map[string]string `json:"opening_hours,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	Active       bool              `json:"active"`
	Verified     bool              `json:"verified"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at,omitempty"`
}

func buildMarketPayload(market services.Market) marketPayload {
	return marketPayload{
		ID:           strings.TrimSpace(market.ID),
		Name:         market.Name,
		Description:  market.Description,
		Address:      market.Address,
		City:         market.City,
		OwnerID:      strings.TrimSpace(market.OwnerID),
		Phone:        market.Phone,
		Email:        market.Email,
		OpeningHours: market.OpeningHours,
		Tags:         market.Tags,
		Active:       market.Active,
		Verified:     market.Verified,
		CreatedAt:    formatTime(market.CreatedAt),
		UpdatedAt:    formatTime(market.UpdatedAt),
	}
}

func marketFromRequest(req upsertMarketRequest, marketID string, defaultActive bool) services.Market {
	market := services.Market{
		ID:           marketID,
		Name:         req.Name,
		Description:  req.Description,
		Address:      req.Address,
		City:         req.City,
		Phone:        req.Phone,
		Email:        req.Email,
		OpeningHours: req.OpeningHours,
		Tags:         req.Tags,
		OwnerID:      strings.TrimSpace(req.OwnerID),
		Active:       defaultActive,
	}
	if req.Active != nil {
		market.Active = *req.Active
	}
	if req.Verified != nil {
		market.Verified = *req.Verified
	}
	return market
}

type marketStatsPayload struct {
	MarketID       string                `json:"market_id"`
	MarketName     string                `json:"market_name"`
	TotalOrders    int64                 `json:"total_orders"`
	TotalItemsSold int64                 `json:"total_items_sold"`
	TotalRevenue   int64                 `json:"total_revenue"`
	Currency       string                `json:"currency,omitempty"`
	TopProducts    []productSalesPayload `json:"top_products"`
	GeneratedAt    string                `json:"generated_at"`
}

type productSalesPayload struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	TotalSold    int64  `json:"total_sold"`
	TotalRevenue int64  `json:"total_revenue"`
}

func buildMarketStatsPayload(stats services.MarketStats) marketStatsPayload {
	payload := marketStatsPayload{
		MarketID:       stats.MarketID,
		MarketName:     stats.MarketName,
		TotalOrders:    stats.TotalOrders,
		TotalItemsSold: stats.TotalItemsSold,
		TotalRevenue:   stats.TotalRevenue,
		Currency:       stats.Currency,
		TopProducts:    make([]productSalesPayload, 0, len(stats.TopProducts)),
		GeneratedAt:    formatTime(stats.GeneratedAt),
	}
	for _, product := range stats.TopProducts {
		payload.TopProducts = append(payload.TopProducts, productSalesPayload{
			ProductID:    product.ProductID,
			ProductName:  product.ProductName,
			TotalSold:    product.TotalSold,
			TotalRevenue: product.TotalRevenue,
		})
	}
	return payload
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to manage this resource", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}

func writeStatsError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrStatsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStatsNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStatsConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStatsForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to read these stats", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("stats_error", "failed to process stats request", http.StatusInternalServerError))
	}
}
