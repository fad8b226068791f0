package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/food-market/api/internal/domain"
	"github.com/food-market/api/internal/platform/auth"
	"github.com/food-market/api/internal/platform/httpx"
	"github.com/food-market/api/internal/platform/metrics"
	"github.com/food-market/api/internal/platform/pagination"
	"github.com/food-market/api/internal/services"
)

const (
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderBodySize      = 64 * 1024
	maxOrderSmallBodySize = 4 * 1024
)

type createOrderRequest struct {
	MarketID     string                   `json:"market_id"`
	Items        []createOrderItemRequest `json:"items"`
	DeliveryType string                   `json:"delivery_type"`
	DeliveryNote string                   `json:"delivery_note"`
	Discount     int64                    `json:"discount"`
	Metadata     map[string]any           `json:"metadata"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type transitionOrderRequest struct {
	Status         string         `json:"status"`
	Reason         string         `json:"reason"`
	ExpectedStatus string         `json:"expected_status"`
	Metadata       map[string]any `json:"metadata"`
}

type cancelOrderRequest struct {
	Reason         string         `json:"reason"`
	ExpectedStatus string         `json:"expected_status"`
	Metadata       map[string]any `json:"metadata"`
}

// OrderHandlers exposes order placement and lifecycle endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	catalog     services.CatalogService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// OrderHandlerOption customises OrderHandlers construction.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderCreateRateLimit throttles order placement per user.
func WithOrderCreateRateLimit(limit int, window time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, catalog services.CatalogService, idempotency func(http.Handler) http.Handler, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:       authn,
		orders:      orders,
		catalog:     catalog,
		idempotency: idempotency,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.createOrder)
	} else {
		r.Post("/", h.createOrder)
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:transition", h.transitionOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many orders, slow down", http.StatusTooManyRequests))
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	items := make([]services.OrderLineInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderLineInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		UserID:         strings.TrimSpace(identity.UID),
		MarketID:       strings.TrimSpace(req.MarketID),
		Items:          items,
		DeliveryType:   domain.DeliveryType(strings.ToLower(strings.TrimSpace(req.DeliveryType))),
		DeliveryNote:   req.DeliveryNote,
		DiscountAmount: req.Discount,
		Metadata:       cloneMap(req.Metadata),
	})
	metrics.RecordOrderOperation("create", err == nil)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	actor := actorFromIdentity(identity)

	query := r.URL.Query()
	statusFilters := parseFilterValues(query["status"])
	for _, status := range statusFilters {
		if !validOrderStatus(status) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown order status", http.StatusBadRequest))
			return
		}
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageSize, err := pagination.ParsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		Status:    statusFilters,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	marketID := strings.TrimSpace(query.Get("market_id"))
	switch {
	case marketID != "":
		if !h.actorMayViewMarketOrders(ctx, actor, marketID) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to list orders for this market", http.StatusForbidden))
			return
		}
		filter.MarketID = marketID
	case actor.HasRole(services.RoleSuperAdmin):
		// Platform admins may list across all users and markets.
	default:
		filter.UserID = actor.ID
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if err := decodeJSONBody(r, maxOrderSmallBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	target, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		Actor:        actorFromIdentity(identity),
		Reason:       strings.TrimSpace(req.Reason),
		Metadata:     cloneMap(req.Metadata),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	metrics.RecordOrderOperation("transition", err == nil)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderSmallBodySize)
	switch {
	case err == nil:
		if unmarshalErr := decodeJSONBytes(body, &req); unmarshalErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// Cancellation without a body is allowed.
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.CancelOrderCommand{
		OrderID:  orderID,
		Actor:    actorFromIdentity(identity),
		Reason:   strings.TrimSpace(req.Reason),
		Metadata: cloneMap(req.Metadata),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.Cancel(ctx, cmd)
	metrics.RecordOrderOperation("cancel", err == nil)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) actorMayViewMarketOrders(ctx context.Context, actor services.Actor, marketID string) bool {
	if actor.HasRole(services.RoleSuperAdmin) {
		return true
	}
	if !actor.HasRole(services.RoleMarketAdmin) || h.catalog == nil {
		return false
	}
	market, err := h.catalog.GetMarket(ctx, marketID)
	if err != nil {
		return false
	}
	return actor.ID != "" && market.OwnerID == actor.ID
}

// Response payloads ----------------------------------------------------------

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	MarketID    string `json:"market_id"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID           string             `json:"id"`
	OrderNumber  string             `json:"order_number"`
	UserID       string             `json:"user_id"`
	MarketID     string             `json:"market_id"`
	Status       string             `json:"status"`
	Currency     string             `json:"currency"`
	Totals       orderTotalsPayload `json:"totals"`
	Items        []orderItemPayload `json:"items"`
	DeliveryType string             `json:"delivery_type"`
	DeliveryNote string             `json:"delivery_note,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at,omitempty"`
	ConfirmedAt  string             `json:"confirmed_at,omitempty"`
	PreparingAt  string             `json:"preparing_at,omitempty"`
	ReadyAt      string             `json:"ready_at,omitempty"`
	DeliveredAt  string             `json:"delivered_at,omitempty"`
	CancelledAt  string             `json:"cancelled_at,omitempty"`
	CancelReason *string            `json:"cancel_reason,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Unit        string `json:"unit"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int64  `json:"quantity"`
	TotalPrice  int64  `json:"total_price"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		MarketID:    strings.TrimSpace(order.MarketID),
		Status:      strings.TrimSpace(string(order.Status)),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Total:       order.Totals.Total,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		MarketID:    strings.TrimSpace(order.MarketID),
		Status:      strings.TrimSpace(string(order.Status)),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal,
			Discount: order.Totals.Discount,
			Tax:      order.Totals.Tax,
			Total:    order.Totals.Total,
		},
		Items:        make([]orderItemPayload, 0, len(order.Items)),
		DeliveryType: string(order.DeliveryType),
		DeliveryNote: strings.TrimSpace(order.DeliveryNote),
		Metadata:     cloneMap(order.Metadata),
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		ConfirmedAt:  formatTime(pointerTime(order.ConfirmedAt)),
		PreparingAt:  formatTime(pointerTime(order.PreparingAt)),
		ReadyAt:      formatTime(pointerTime(order.ReadyAt)),
		DeliveredAt:  formatTime(pointerTime(order.DeliveredAt)),
		CancelledAt:  formatTime(pointerTime(order.CancelledAt)),
		CancelReason: cloneStringPointer(order.CancelReason),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			Unit:        strings.TrimSpace(item.Unit),
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.TotalPrice,
		})
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrInventoryInvalidInput), errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to operate on this order", http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseOrderStatus(raw string) (services.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !validOrderStatus(string(status)) {
		return "", false
	}
	return status, true
}

func validOrderStatus(raw string) bool {
	for _, status := range domain.OrderStatuses() {
		if string(status) == raw {
			return true
		}
	}
	return false
}
