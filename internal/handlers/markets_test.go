package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/food-market/api/internal/domain"
	"github.com/food-market/api/internal/services"
)

func sampleMarket() services.Market {
	return services.Market{
		ID:        "mkt_1",
		Name:      "Halles de Lyon",
		City:      "Lyon",
		OwnerID:   "owner-1",
		Email:     "contact@halles.example",
		Tags:      []string{"cheese", "produce"},
		Active:    true,
		Verified:  true,
		CreatedAt: handlerTestTime.Add(-24 * time.Hour),
		UpdatedAt: handlerTestTime,
	}
}

func newMarketRouter(catalog services.CatalogService, stats services.StatsService) http.Handler {
	h := NewMarketHandlers(nil, catalog, stats)
	return mountRoutes("/markets", h.Routes)
}

func TestListMarketsDefaultsToActiveOnly(t *testing.T) {
	var gotFilter services.MarketListFilter
	catalog := &stubCatalogService{
		listMarkets: func(_ context.Context, filter services.MarketListFilter) (domain.CursorPage[services.Market], error) {
			gotFilter = filter
			return domain.CursorPage[services.Market]{
				Items:         []services.Market{sampleMarket()},
				NextPageToken: "tok-2",
			}, nil
		},
	}
	router := newMarketRouter(catalog, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if !gotFilter.ActiveOnly {
		t.Error("default listing should exclude inactive markets")
	}
	if gotFilter.VerifiedOnly {
		t.Error("verified filter should be off by default")
	}
	if gotFilter.Pagination.PageSize != defaultMarketPageSize {
		t.Errorf("unexpected page size %d", gotFilter.Pagination.PageSize)
	}

	var resp marketListResponse
	decodeResponse(t, rec, &resp)
	if len(resp.Items) != 1 || resp.Items[0].ID != "mkt_1" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.NextPageToken != "tok-2" {
		t.Errorf("unexpected next page token %q", resp.NextPageToken)
	}
}

func TestListMarketsMapsQueryFilters(t *testing.T) {
	var gotFilter services.MarketListFilter
	catalog := &stubCatalogService{
		listMarkets: func(_ context.Context, filter services.MarketListFilter) (domain.CursorPage[services.Market], error) {
			gotFilter = filter
			return domain.CursorPage[services.Market]{}, nil
		},
	}
	router := newMarketRouter(catalog, nil)

	rec := httptest.NewRecorder()
	target := "/markets?city=Lyon&tag=Cheese,produce&tag=cheese&include_inactive=true&verified=true&page_size=5&page_token=tok-1"
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotFilter.City != "Lyon" {
		t.Errorf("unexpected city %q", gotFilter.City)
	}
	if len(gotFilter.Tags) != 2 || gotFilter.Tags[0] != "cheese" || gotFilter.Tags[1] != "produce" {
		t.Errorf("tags not normalised: %v", gotFilter.Tags)
	}
	if gotFilter.ActiveOnly {
		t.Error("include_inactive should disable the active filter")
	}
	if !gotFilter.VerifiedOnly {
		t.Error("verified=true should enable the verified filter")
	}
	if gotFilter.Pagination.PageSize != 5 || gotFilter.Pagination.PageToken != "tok-1" {
		t.Errorf("unexpected pagination %+v", gotFilter.Pagination)
	}
}

func TestListMarketsRejectsBadPageSize(t *testing.T) {
	router := newMarketRouter(&stubCatalogService{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets?page_size=lots", nil))

	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestGetMarketEndpoint(t *testing.T) {
	catalog := &stubCatalogService{
		getMarket: func(_ context.Context, marketID string) (services.Market, error) {
			if marketID != "mkt_1" {
				t.Fatalf("unexpected market id %q", marketID)
			}
			return sampleMarket(), nil
		},
	}
	router := newMarketRouter(catalog, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets/mkt_1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	var resp marketResponse
	decodeResponse(t, rec, &resp)
	if resp.Market.ID != "mkt_1" || resp.Market.Name != "Halles de Lyon" {
		t.Fatalf("unexpected market %+v", resp.Market)
	}
	if !resp.Market.Verified || !resp.Market.Active {
		t.Errorf("flags dropped from payload: %+v", resp.Market)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getMarket: func(context.Context, string) (services.Market, error) {
			return services.Market{}, services.ErrCatalogNotFound
		},
	}
	router := newMarketRouter(catalog, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markets/mkt_missing", nil))

	assertErrorCode(t, rec, http.StatusNotFound, "not_found")
}

func TestCreateMarketEndpoint(t *testing.T) {
	var gotCmd services.UpsertMarketCommand
	catalog := &stubCatalogService{
		createMarket: func(_ context.Context, cmd services.UpsertMarketCommand) (services.Market, error) {
			gotCmd = cmd
			return sampleMarket(), nil
		},
	}
	h := NewMarketHandlers(nil, catalog, nil)

	body := strings.NewReader(`{
		"name": "Halles de Lyon",
		"city": "Lyon",
		"email": "contact@halles.example",
		"tags": ["cheese"]
	}`)
	req := authedRequest(http.MethodPost, "/markets", body, testIdentity("owner-1", "market_admin"))
	rec := httptest.NewRecorder()
	h.createMarket(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotCmd.Actor.ID != "owner-1" {
		t.Errorf("actor not forwarded: %+v", gotCmd.Actor)
	}
	if gotCmd.Market.ID != "" {
		t.Errorf("create must not carry a market id, got %q", gotCmd.Market.ID)
	}
	if !gotCmd.Market.Active {
		t.Error("new markets should default to active")
	}
	if gotCmd.Market.Verified {
		t.Error("new markets must not default to verified")
	}
	if gotCmd.Market.Name != "Halles de Lyon" || gotCmd.Market.City != "Lyon" {
		t.Errorf("unexpected market %+v", gotCmd.Market)
	}
}

func TestCreateMarketRequiresIdentity(t *testing.T) {
	h := NewMarketHandlers(nil, &stubCatalogService{}, nil)

	req := authedRequest(http.MethodPost, "/markets", strings.NewReader(`{"name":"x"}`), nil)
	rec := httptest.NewRecorder()
	h.createMarket(rec, req)

	assertErrorCode(t, rec, http.StatusUnauthorized, "unauthenticated")
}

func TestCreateMarketRejectsMalformedBody(t *testing.T) {
	h := NewMarketHandlers(nil, &stubCatalogService{}, nil)

	req := authedRequest(http.MethodPost, "/markets", strings.NewReader("{nope"), testIdentity("owner-1", "market_admin"))
	rec := httptest.NewRecorder()
	h.createMarket(rec, req)

	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestCreateMarketErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", services.ErrCatalogInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"forbidden", services.ErrCatalogForbidden, http.StatusForbidden, "forbidden"},
		{"conflict", services.ErrCatalogConflict, http.StatusConflict, "conflict"},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError, "catalog_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			catalog := &stubCatalogService{
				createMarket: func(context.Context, services.UpsertMarketCommand) (services.Market, error) {
					return services.Market{}, tc.err
				},
			}
			h := NewMarketHandlers(nil, catalog, nil)

			req := authedRequest(http.MethodPost, "/markets", strings.NewReader(`{"name":"x"}`), testIdentity("owner-1", "market_admin"))
			rec := httptest.NewRecorder()
			h.createMarket(rec, req)

			assertErrorCode(t, rec, tc.wantStatus, tc.wantCode)
		})
	}
}

func TestUpdateMarketEndpoint(t *testing.T) {
	var gotCmd services.UpsertMarketCommand
	catalog := &stubCatalogService{
		updateMarket: func(_ context.Context, cmd services.UpsertMarketCommand) (services.Market, error) {
			gotCmd = cmd
			return sampleMarket(), nil
		},
	}
	h := NewMarketHandlers(nil, catalog, nil)

	body := strings.NewReader(`{"name": "Halles de Lyon", "active": false, "verified": true}`)
	req := authedRequest(http.MethodPut, "/markets/mkt_1", body, testIdentity("admin-1", "super_admin"))
	req = withURLParam(req, "marketID", "mkt_1")
	rec := httptest.NewRecorder()
	h.updateMarket(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotCmd.Market.ID != "mkt_1" {
		t.Errorf("market id not taken from path: %q", gotCmd.Market.ID)
	}
	if gotCmd.Market.Active {
		t.Error("explicit active=false should override the default")
	}
	if !gotCmd.Market.Verified {
		t.Error("explicit verified flag dropped")
	}
}

func TestUpdateMarketRequiresMarketID(t *testing.T) {
	h := NewMarketHandlers(nil, &stubCatalogService{}, nil)

	req := authedRequest(http.MethodPut, "/markets/", strings.NewReader(`{"name":"x"}`), testIdentity("admin-1", "super_admin"))
	req = withURLParam(req, "marketID", "  ")
	rec := httptest.NewRecorder()
	h.updateMarket(rec, req)

	assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestMarketStatsEndpoint(t *testing.T) {
	var gotQuery services.MarketStatsQuery
	stats := &stubStatsService{
		marketStats: func(_ context.Context, query services.MarketStatsQuery) (services.MarketStats, error) {
			gotQuery = query
			return services.MarketStats{
				MarketID:       "mkt_1",
				MarketName:     "Halles de Lyon",
				TotalOrders:    12,
				TotalItemsSold: 48,
				TotalRevenue:   96000,
				Currency:       "EUR",
				TopProducts: []services.ProductSales{
					{ProductID: "prd_1", ProductName: "Comte", TotalSold: 30, TotalRevenue: 60000},
				},
				GeneratedAt: handlerTestTime,
			}, nil
		},
	}
	h := NewMarketHandlers(nil, &stubCatalogService{}, stats)

	req := authedRequest(http.MethodGet, "/markets/mkt_1/stats?top_products=3", nil, testIdentity("owner-1", "market_admin"))
	req = withURLParam(req, "marketID", "mkt_1")
	rec := httptest.NewRecorder()
	h.marketStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotQuery.MarketID != "mkt_1" || gotQuery.TopProducts != 3 {
		t.Errorf("unexpected query %+v", gotQuery)
	}
	if gotQuery.Actor.ID != "owner-1" {
		t.Errorf("actor not forwarded: %+v", gotQuery.Actor)
	}

	var resp marketStatsPayload
	decodeResponse(t, rec, &resp)
	if resp.TotalOrders != 12 || resp.TotalRevenue != 96000 {
		t.Errorf("unexpected totals %+v", resp)
	}
	if len(resp.TopProducts) != 1 || resp.TopProducts[0].ProductID != "prd_1" {
		t.Errorf("unexpected top products %+v", resp.TopProducts)
	}
	if resp.GeneratedAt != handlerTestTime.Format(time.RFC3339Nano) {
		t.Errorf("unexpected generated_at %q", resp.GeneratedAt)
	}
}

func TestMarketStatsRejectsBadTopProducts(t *testing.T) {
	h := NewMarketHandlers(nil, &stubCatalogService{}, &stubStatsService{})

	for _, raw := range []string{"-1", "many"} {
		req := authedRequest(http.MethodGet, "/markets/mkt_1/stats?top_products="+raw, nil, testIdentity("owner-1", "market_admin"))
		req = withURLParam(req, "marketID", "mkt_1")
		rec := httptest.NewRecorder()
		h.marketStats(rec, req)

		assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
	}
}

func TestMarketStatsErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"forbidden", services.ErrStatsForbidden, http.StatusForbidden, "forbidden"},
		{"not found", services.ErrStatsNotFound, http.StatusNotFound, "not_found"},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError, "stats_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stats := &stubStatsService{
				marketStats: func(context.Context, services.MarketStatsQuery) (services.MarketStats, error) {
					return services.MarketStats{}, tc.err
				},
			}
			h := NewMarketHandlers(nil, &stubCatalogService{}, stats)

			req := authedRequest(http.MethodGet, "/markets/mkt_1/stats", nil, testIdentity("owner-2", "market_admin"))
			req = withURLParam(req, "marketID", "mkt_1")
			rec := httptest.NewRecorder()
			h.marketStats(rec, req)

			assertErrorCode(t, rec, tc.wantStatus, tc.wantCode)
		})
	}
}
