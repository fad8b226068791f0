package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/food-market/api/internal/domain"
	"github.com/food-market/api/internal/platform/auth"
	"github.com/food-market/api/internal/services"
)

var handlerTestTime = time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)

var errStubUnexpectedCall = errors.New("unexpected service call")

type stubOrderService struct {
	create     func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	list       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	get        func(ctx context.Context, orderID string, actor services.Actor) (services.Order, error)
	transition func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	cancel     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

var _ services.OrderService = (*stubOrderService)(nil)

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.create == nil {
		return services.Order{}, errStubUnexpectedCall
	}
	return s.create(ctx, cmd)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.list == nil {
		return domain.CursorPage[services.Order]{}, errStubUnexpectedCall
	}
	return s.list(ctx, filter)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.Order, error) {
	if s.get == nil {
		return services.Order{}, errStubUnexpectedCall
	}
	return s.get(ctx, orderID, actor)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transition == nil {
		return services.Order{}, errStubUnexpectedCall
	}
	return s.transition(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancel == nil {
		return services.Order{}, errStubUnexpectedCall
	}
	return s.cancel(ctx, cmd)
}

type stubCatalogService struct {
	createMarket      func(ctx context.Context, cmd services.UpsertMarketCommand) (services.Market, error)
	updateMarket      func(ctx context.Context, cmd services.UpsertMarketCommand) (services.Market, error)
	getMarket         func(ctx context.Context, marketID string) (services.Market, error)
	listMarkets       func(ctx context.Context, filter services.MarketListFilter) (domain.CursorPage[services.Market], error)
	createProduct     func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error)
	updateProduct     func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error)
	getProduct        func(ctx context.Context, productID string) (services.Product, error)
	listProducts      func(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error)
	setProductActive  func(ctx context.Context, cmd services.SetProductActiveCommand) error
	issueProductImage func(ctx context.Context, cmd services.ProductImageUploadCommand) (services.SignedUploadResponse, error)
}

var _ services.CatalogService = (*stubCatalogService)(nil)

func (s *stubCatalogService) CreateMarket(ctx context.Context, cmd services.UpsertMarketCommand) (services.Market, error) {
	if s.createMarket == nil {
		return services.Market{}, errStubUnexpectedCall
	}
	return s.createMarket(ctx, cmd)
}

func (s *stubCatalogService) UpdateMarket(ctx context.Context, cmd services.UpsertMarketCommand) (services.Market, error) {
	if s.updateMarket == nil {
		return services.Market{}, errStubUnexpectedCall
	}
	return s.updateMarket(ctx, cmd)
}

func (s *stubCatalogService) GetMarket(ctx context.Context, marketID string) (services.Market, error) {
	if s.getMarket == nil {
		return services.Market{}, errStubUnexpectedCall
	}
	return s.getMarket(ctx, marketID)
}

func (s *stubCatalogService) ListMarkets(ctx context.Context, filter services.MarketListFilter) (domain.CursorPage[services.Market], error) {
	if s.listMarkets == nil {
		return domain.CursorPage[services.Market]{}, errStubUnexpectedCall
	}
	return s.listMarkets(ctx, filter)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.createProduct == nil {
		return services.Product{}, errStubUnexpectedCall
	}
	return s.createProduct(ctx, cmd)
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.updateProduct == nil {
		return services.Product{}, errStubUnexpectedCall
	}
	return s.updateProduct(ctx, cmd)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getProduct == nil {
		return services.Product{}, errStubUnexpectedCall
	}
	return s.getProduct(ctx, productID)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductListFilter) (domain.CursorPage[services.Product], error) {
	if s.listProducts == nil {
		return domain.CursorPage[services.Product]{}, errStubUnexpectedCall
	}
	return s.listProducts(ctx, filter)
}

func (s *stubCatalogService) SetProductActive(ctx context.Context, cmd services.SetProductActiveCommand) error {
	if s.setProductActive == nil {
		return errStubUnexpectedCall
	}
	return s.setProductActive(ctx, cmd)
}

func (s *stubCatalogService) IssueProductImageUpload(ctx context.Context, cmd services.ProductImageUploadCommand) (services.SignedUploadResponse, error) {
	if s.issueProductImage == nil {
		return services.SignedUploadResponse{}, errStubUnexpectedCall
	}
	return s.issueProductImage(ctx, cmd)
}

type stubStatsService struct {
	commitDelivered func(ctx context.Context, orderID string) (bool, error)
	reconcile       func(ctx context.Context, limit int) (services.ReconcileResult, error)
	marketStats     func(ctx context.Context, query services.MarketStatsQuery) (services.MarketStats, error)
	platformStats   func(ctx context.Context) (services.PlatformStats, error)
}

var _ services.StatsService = (*stubStatsService)(nil)

func (s *stubStatsService) CommitDelivered(ctx context.Context, orderID string) (bool, error) {
	if s.commitDelivered == nil {
		return false, errStubUnexpectedCall
	}
	return s.commitDelivered(ctx, orderID)
}

func (s *stubStatsService) Reconcile(ctx context.Context, limit int) (services.ReconcileResult, error) {
	if s.reconcile == nil {
		return services.ReconcileResult{}, errStubUnexpectedCall
	}
	return s.reconcile(ctx, limit)
}

func (s *stubStatsService) MarketStats(ctx context.Context, query services.MarketStatsQuery) (services.MarketStats, error) {
	if s.marketStats == nil {
		return services.MarketStats{}, errStubUnexpectedCall
	}
	return s.marketStats(ctx, query)
}

func (s *stubStatsService) PlatformStats(ctx context.Context) (services.PlatformStats, error) {
	if s.platformStats == nil {
		return services.PlatformStats{}, errStubUnexpectedCall
	}
	return s.platformStats(ctx)
}

type stubInventoryService struct {
	reserve func(ctx context.Context, cmd services.InventoryReserveCommand) (map[string]services.Product, error)
	release func(ctx context.Context, cmd services.InventoryReleaseCommand) (map[string]services.Product, error)
	restock func(ctx context.Context, cmd services.RestockCommand) (services.Product, error)
}

var _ services.InventoryService = (*stubInventoryService)(nil)

func (s *stubInventoryService) Reserve(ctx context.Context, cmd services.InventoryReserveCommand) (map[string]services.Product, error) {
	if s.reserve == nil {
		return nil, errStubUnexpectedCall
	}
	return s.reserve(ctx, cmd)
}

func (s *stubInventoryService) Release(ctx context.Context, cmd services.InventoryReleaseCommand) (map[string]services.Product, error) {
	if s.release == nil {
		return nil, errStubUnexpectedCall
	}
	return s.release(ctx, cmd)
}

func (s *stubInventoryService) Restock(ctx context.Context, cmd services.RestockCommand) (services.Product, error) {
	if s.restock == nil {
		return services.Product{}, errStubUnexpectedCall
	}
	return s.restock(ctx, cmd)
}

type stubSystemService struct {
	healthReport func(ctx context.Context) (services.SystemHealthReport, error)
	nextCounter  func(ctx context.Context, cmd services.CounterCommand) (int64, error)
}

var _ services.SystemService = (*stubSystemService)(nil)

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.healthReport == nil {
		return services.SystemHealthReport{}, errStubUnexpectedCall
	}
	return s.healthReport(ctx)
}

func (s *stubSystemService) NextCounterValue(ctx context.Context, cmd services.CounterCommand) (int64, error) {
	if s.nextCounter == nil {
		return 0, errStubUnexpectedCall
	}
	return s.nextCounter(ctx, cmd)
}

// Request helpers ------------------------------------------------------------

func testIdentity(uid string, roles ...string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: roles}
}

func authedRequest(method, target string, body io.Reader, identity *auth.Identity) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func mountRoutes(prefix string, register func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Route(prefix, register)
	return r
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (body %s)", status, rec.Code, rec.Body.String())
	}
	var payload map[string]any
	decodeResponse(t, rec, &payload)
	if payload["error"] != code {
		t.Fatalf("expected error code %q, got %v", code, payload["error"])
	}
}
