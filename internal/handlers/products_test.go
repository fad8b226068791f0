package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/food-market/api/internal/domain"
	"github.com/food-market/api/internal/repositories"
	"github.com/food-market/api/internal/services"
)

func sampleProduct() services.Product {
	return services.Product{
		ID:            "prd_1",
		MarketID:      "mkt_1",
		Name:          "Comte 18 mois",
		Category:      domain.CategoryDairy,
		Unit:          "kg",
		UnitPrice:     2400,
		Currency:      "EUR",
		StockQuantity: 18,
		Organic:       false,
		Active:        true,
		CreatedAt:     handlerTestTime.Add(-48 * time.Hour),
		UpdatedAt:     handlerTestTime,
	}
}

func newProductRouter(catalog services.CatalogService, inventory services.InventoryService) http.Handler {
	h := NewProductHandlers(nil, catalog, inventory)
	return mountRoutes("/products", h.Routes)
}

func TestListProductsMapsQueryFilters(t *testing.T) {
	var gotFilter services.ProductListFilter
	catalog := &stubCatalogService{
		listProducts: func(_ context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
			gotFilter = filter
			return domain.CursorPage[services.Product]{
				Items: []services.Product{sampleProduct()},
			}, nil
		},
	}
	router := newProductRouter(catalog, nil)

	rec := httptest.NewRecorder()
	target := "/products?market_id=mkt_1&category=Dairy&organic=true&max_price=2500&include_inactive=1&page_size=10"
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotFilter.MarketID != "mkt_1" {
		t.Errorf("unexpected market id %q", gotFilter.MarketID)
	}
	if gotFilter.Category == nil || *gotFilter.Category != domain.CategoryDairy {
		t.Errorf("category not normalised: %v", gotFilter.Category)
	}
	if gotFilter.Organic == nil || !*gotFilter.Organic {
		t.Errorf("organic filter dropped: %v", gotFilter.Organic)
	}
	if gotFilter.MaxPrice == nil || *gotFilter.MaxPrice != 2500 {
		t.Errorf("max price filter dropped: %v", gotFilter.MaxPrice)
	}
	if gotFilter.ActiveOnly {
		t.Error("include_inactive should disable the active filter")
	}
	if gotFilter.Pagination.PageSize != 10 {
		t.Errorf("unexpected page size %d", gotFilter.Pagination.PageSize)
	}

	var resp productListResponse
	decodeResponse(t, rec, &resp)
	if len(resp.Items) != 1 || resp.Items[0].ID != "prd_1" {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
	if resp.Items[0].Stock != 18 {
		t.Errorf("stock not surfaced: %+v", resp.Items[0])
	}
}

func TestListProductsRejectsBadFilters(t *testing.T) {
	cases := []struct {
		name   string
		target string
	}{
		{"unknown category", "/products?category=electronics"},
		{"non boolean organic", "/products?organic=sometimes"},
		{"zero max price", "/products?max_price=0"},
		{"non numeric max price", "/products?max_price=cheap"},
		{"non numeric page size", "/products?page_size=lots"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newProductRouter(&stubCatalogService{}, nil)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))

			assertErrorCode(t, rec, http.StatusBadRequest, "invalid_request")
		})
	}
}

func TestGetProductEndpoint(t *testing.T) {
	catalog := &stubCatalogService{
		getProduct: func(_ context.Context, productID string) (services.Product, error) {
			if productID != "prd_1" {
				t.Fatalf("unexpected product id %q", productID)
			}
			return sampleProduct(), nil
		},
	}
	router := newProductRouter(catalog, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/prd_1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	var resp productResponse
	decodeResponse(t, rec, &resp)
	if resp.Product.ID != "prd_1" || resp.Product.Category != "dairy" {
		t.Fatalf("unexpected product %+v", resp.Product)
	}
	if resp.Product.UnitPrice != 2400 || resp.Product.Currency != "EUR" {
		t.Errorf("pricing fields dropped: %+v", resp.Product)
	}
}

func TestGetProductNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getProduct: func(context.Context, string) (services.Product, error) {
			return services.Product{}, services.ErrCatalogNotFound
		},
	}
	router := newProductRouter(catalog, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/prd_missing", nil))

	assertErrorCode(t, rec, http.StatusNotFound, "not_found")
}

func TestCreateProductEndpoint(t *testing.T) {
	var gotCmd services.UpsertProductCommand
	catalog := &stubCatalogService{
		createProduct: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			gotCmd = cmd
			return sampleProduct(), nil
		},
	}
	h := NewProductHandlers(nil, catalog, nil)

	body := strings.NewReader(`{
		"market_id": "mkt_1",
		"name": "Comte 18 mois",
		"category": "DAIRY",
		"unit": "kg",
		"unit_price": 2400,
		"currency": "EUR",
		"stock": 18
	}`)
	req := authedRequest(http.MethodPost, "/products", body, testIdentity("owner-1", "market_admin"))
	rec := httptest.NewRecorder()
	h.createProduct(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotCmd.Product.ID != "" {
		t.Errorf("create must not carry a product id, got %q", gotCmd.Product.ID)
	}
	if gotCmd.Product.Category != domain.CategoryDairy {
		t.Errorf("category not lowercased: %q", gotCmd.Product.Category)
	}
	if gotCmd.Product.MarketID != "mkt_1" || gotCmd.Product.StockQuantity != 18 {
		t.Errorf("unexpected product %+v", gotCmd.Product)
	}
	if gotCmd.Actor.ID != "owner-1" {
		t.Errorf("actor not forwarded: %+v", gotCmd.Actor)
	}
}

func TestCreateProductRequiresIdentity(t *testing.T) {
	h := NewProductHandlers(nil, &stubCatalogService{}, nil)

	req := authedRequest(http.MethodPost, "/products", strings.NewReader(`{"name":"x"}`), nil)
	rec := httptest.NewRecorder()
	h.createProduct(rec, req)

	assertErrorCode(t, rec, http.StatusUnauthorized, "unauthenticated")
}

func TestUpdateProductEndpoint(t *testing.T) {
	var gotCmd services.UpsertProductCommand
	catalog := &stubCatalogService{
		updateProduct: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			gotCmd = cmd
			return sampleProduct(), nil
		},
	}
	h := NewProductHandlers(nil, catalog, nil)

	body := strings.NewReader(`{"market_id": "mkt_1", "name": "Comte 24 mois", "unit_price": 2600}`)
	req := authedRequest(http.MethodPut, "/products/prd_1", body, testIdentity("owner-1", "market_admin"))
	req = withURLParam(req, "productID", "prd_1")
	rec := httptest.NewRecorder()
	h.updateProduct(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotCmd.Product.ID != "prd_1" {
		t.Errorf("product id not taken from path: %q", gotCmd.Product.ID)
	}
	if gotCmd.Product.Name != "Comte 24 mois" || gotCmd.Product.UnitPrice != 2600 {
		t.Errorf("unexpected product %+v", gotCmd.Product)
	}
}

func TestSetActiveEndpoints(t *testing.T) {
	for _, active := range []bool{true, false} {
		var gotCmd services.SetProductActiveCommand
		catalog := &stubCatalogService{
			setProductActive: func(_ context.Context, cmd services.SetProductActiveCommand) error {
				gotCmd = cmd
				return nil
			},
		}
		h := NewProductHandlers(nil, catalog, nil)

		req := authedRequest(http.MethodPost, "/products/prd_1:activate", nil, testIdentity("owner-1", "market_admin"))
		req = withURLParam(req, "productID", "prd_1")
		rec := httptest.NewRecorder()
		h.setActive(active)(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
		}
		if gotCmd.ProductID != "prd_1" || gotCmd.Active != active {
			t.Errorf("unexpected command %+v", gotCmd)
		}

		var resp map[string]any
		decodeResponse(t, rec, &resp)
		if resp["active"] != active {
			t.Errorf("payload does not echo the new state: %v", resp)
		}
	}
}

func TestSetActiveForbiddenForNonOwner(t *testing.T) {
	catalog := &stubCatalogService{
		setProductActive: func(context.Context, services.SetProductActiveCommand) error {
			return services.ErrCatalogForbidden
		},
	}
	h := NewProductHandlers(nil, catalog, nil)

	req := authedRequest(http.MethodPost, "/products/prd_1:deactivate", nil, testIdentity("owner-2", "market_admin"))
	req = withURLParam(req, "productID", "prd_1")
	rec := httptest.NewRecorder()
	h.setActive(false)(rec, req)

	assertErrorCode(t, rec, http.StatusForbidden, "forbidden")
}

func TestRestockEndpointSkipsOwnershipForPlatformAdmin(t *testing.T) {
	var gotCmd services.RestockCommand
	inventory := &stubInventoryService{
		restock: func(_ context.Context, cmd services.RestockCommand) (services.Product, error) {
			gotCmd = cmd
			product := sampleProduct()
			product.StockQuantity = 30
			return product, nil
		},
	}
	// No catalog lookups are stubbed: a platform admin must not trigger the
	// ownership check at all.
	h := NewProductHandlers(nil, &stubCatalogService{}, inventory)

	body := strings.NewReader(`{"quantity": 12}`)
	req := authedRequest(http.MethodPost, "/products/prd_1:restock", body, testIdentity("admin-1", "super_admin"))
	req = withURLParam(req, "productID", "prd_1")
	rec := httptest.NewRecorder()
	h.restock(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotCmd.ProductID != "prd_1" || gotCmd.Quantity != 12 || gotCmd.ActorID != "admin-1" {
		t.Errorf("unexpected command %+v", gotCmd)
	}

	var resp productResponse
	decodeResponse(t, rec, &resp)
	if resp.Product.Stock != 30 {
		t.Errorf("updated stock not surfaced: %+v", resp.Product)
	}
}

func TestRestockChecksMarketOwnership(t *testing.T) {
	catalog := &stubCatalogService{
		getProduct: func(context.Context, string) (services.Product, error) {
			return sampleProduct(), nil
		},
		getMarket: func(context.Context, string) (services.Market, error) {
			return services.Market{ID: "mkt_1", OwnerID: "owner-1"}, nil
		},
	}
	inventory := &stubInventoryService{
		restock: func(_ context.Context, cmd services.RestockCommand) (services.Product, error) {
			return sampleProduct(), nil
		},
	}
	h := NewProductHandlers(nil, catalog, inventory)

	// Owning market admin passes the check.
	req := authedRequest(http.MethodPost, "/products/prd_1:restock", strings.NewReader(`{"quantity": 5}`), testIdentity("owner-1", "market_admin"))
	req = withURLParam(req, "productID", "prd_1")
	rec := httptest.NewRecorder()
	h.restock(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d (body %s)", rec.Code, rec.Body.String())
	}

	// A market admin for another market is rejected before the service runs.
	req = authedRequest(http.MethodPost, "/products/prd_1:restock", strings.NewReader(`{"quantity": 5}`), testIdentity("owner-2", "market_admin"))
	req = withURLParam(req, "productID", "prd_1")
	rec = httptest.NewRecorder()
	h.restock(rec, req)
	assertErrorCode(t, rec, http.StatusForbidden, "forbidden")
}

func TestRestockErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			"insufficient stock",
			repositories.NewStockError(repositories.StockErrorInsufficient, "prd_1", "stock would go negative", nil),
			http.StatusConflict,
			"insufficient_stock",
		},
		{
			"missing product",
			repositories.NewStockError(repositories.StockErrorProductNotFound, "prd_1", "", nil),
			http.StatusNotFound,
			"not_found",
		},
		{
			"inactive product",
			repositories.NewStockError(repositories.StockErrorProductInactive, "prd_1", "product is deactivated", nil),
			http.StatusBadRequest,
			"invalid_request",
		},
		{
			"validation",
			services.ErrInventoryInvalidInput,
			http.StatusBadRequest,
			"invalid_request",
		},
		{
			"internal",
			context.DeadlineExceeded,
			http.StatusInternalServerError,
			"inventory_error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inventory := &stubInventoryService{
				restock: func(context.Context, services.RestockCommand) (services.Product, error) {
					return services.Product{}, tc.err
				},
			}
			h := NewProductHandlers(nil, &stubCatalogService{}, inventory)

			req := authedRequest(http.MethodPost, "/products/prd_1:restock", strings.NewReader(`{"quantity": 5}`), testIdentity("admin-1", "super_admin"))
			req = withURLParam(req, "productID", "prd_1")
			rec := httptest.NewRecorder()
			h.restock(rec, req)

			assertErrorCode(t, rec, tc.wantStatus, tc.wantCode)
		})
	}
}

func TestIssueImageUploadEndpoint(t *testing.T) {
	var gotCmd services.ProductImageUploadCommand
	catalog := &stubCatalogService{
		issueProductImage: func(_ context.Context, cmd services.ProductImageUploadCommand) (services.SignedUploadResponse, error) {
			gotCmd = cmd
			return services.SignedUploadResponse{
				URL:       "https://storage.example/signed",
				Method:    http.MethodPut,
				Headers:   map[string]string{"Content-Type": "image/jpeg"},
				ObjectKey: "markets/mkt_1/products/prd_1/abc-photo.jpg",
				ExpiresAt: handlerTestTime.Add(15 * time.Minute),
			}, nil
		},
	}
	h := NewProductHandlers(nil, catalog, nil)

	body := strings.NewReader(`{"file_name": "photo.jpg", "content_type": "image/jpeg", "size_bytes": 204800}`)
	req := authedRequest(http.MethodPost, "/products/prd_1:upload-image", body, testIdentity("owner-1", "market_admin"))
	req = withURLParam(req, "productID", "prd_1")
	rec := httptest.NewRecorder()
	h.issueImageUpload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if gotCmd.ProductID != "prd_1" || gotCmd.FileName != "photo.jpg" || gotCmd.SizeBytes != 204800 {
		t.Errorf("unexpected command %+v", gotCmd)
	}

	var resp imageUploadResponse
	decodeResponse(t, rec, &resp)
	if resp.URL != "https://storage.example/signed" || resp.Method != http.MethodPut {
		t.Errorf("unexpected upload response %+v", resp)
	}
	if resp.ObjectKey != "markets/mkt_1/products/prd_1/abc-photo.jpg" {
		t.Errorf("unexpected object key %q", resp.ObjectKey)
	}
	if resp.ExpiresAt != handlerTestTime.Add(15*time.Minute).Format(time.RFC3339Nano) {
		t.Errorf("unexpected expiry %q", resp.ExpiresAt)
	}
}

func TestIssueImageUploadErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"oversize file", services.ErrCatalogInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"non owner", services.ErrCatalogForbidden, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			catalog := &stubCatalogService{
				issueProductImage: func(context.Context, services.ProductImageUploadCommand) (services.SignedUploadResponse, error) {
					return services.SignedUploadResponse{}, tc.err
				},
			}
			h := NewProductHandlers(nil, catalog, nil)

			body := strings.NewReader(`{"file_name": "photo.jpg", "content_type": "image/jpeg", "size_bytes": 1}`)
			req := authedRequest(http.MethodPost, "/products/prd_1:upload-image", body, testIdentity("owner-2", "market_admin"))
			req = withURLParam(req, "productID", "prd_1")
			rec := httptest.NewRecorder()
			h.issueImageUpload(rec, req)

			assertErrorCode(t, rec, tc.wantStatus, tc.wantCode)
		})
	}
}
