package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/food-market/api/internal/domain"
	"github.com/food-market/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"

	maxOrderLines        = 50
	maxLineQuantity      = 1_000
	orderNumberPrefix    = "ORD"
	orderCounterTemplate = "orders-%04d"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the actor may not operate on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInsufficientStock indicates a requested quantity exceeds availability.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed: {domain.OrderStatusPreparing, domain.OrderStatusCancelled},
	domain.OrderStatusPreparing: {domain.OrderStatusReady, domain.OrderStatusCancelled},
	domain.OrderStatusReady:     {domain.OrderStatusDelivered},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusPreparing,
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	MarketID       string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Markets     repositories.MarketRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	Inventory   InventoryService
	Pricing     PricingService
	Stats       StatsService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// TaxRateBps is the flat tax rate applied to priced orders, in basis points.
	TaxRateBps int64
}

type orderService struct {
	orders     repositories.OrderRepository
	markets    repositories.MarketRepository
	products   repositories.ProductRepository
	counters   repositories.CounterRepository
	inventory  InventoryService
	pricing    PricingService
	stats      StatsService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	taxRateBps int64
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Markets == nil {
		return nil, errors.New("order service: market repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing service is required")
	}
	if deps.TaxRateBps < 0 || deps.TaxRateBps >= domain.BasisPointDenominator {
		return nil, errors.New("order service: tax rate must be within [0, 10000) basis points")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		markets:    deps.Markets,
		products:   deps.Products,
		counters:   deps.Counters,
		inventory:  deps.Inventory,
		pricing:    deps.Pricing,
		stats:      deps.Stats,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		events:     deps.Events,
		logger:     logger,
		taxRateBps: deps.TaxRateBps,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	marketID := strings.TrimSpace(cmd.MarketID)
	if marketID == "" {
		return Order{}, fmt.Errorf("%w: market id is required", ErrOrderInvalidInput)
	}
	lines, err := normaliseOrderLines(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	if cmd.DiscountAmount < 0 {
		return Order{}, fmt.Errorf("%w: discount must not be negative", ErrOrderInvalidInput)
	}
	deliveryType := cmd.DeliveryType
	if deliveryType == "" {
		deliveryType = domain.DeliveryTypePickup
	}
	if deliveryType != domain.DeliveryTypePickup && deliveryType != domain.DeliveryTypeCourier {
		return Order{}, fmt.Errorf("%w: unknown delivery type %q", ErrOrderInvalidInput, deliveryType)
	}

	market, err := s.markets.FindByID(ctx, marketID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !market.Active {
		return Order{}, fmt.Errorf("%w: market %s is not accepting orders", ErrOrderInvalidInput, marketID)
	}

	pricingLines := make([]PricingLine, 0, len(lines))
	currency := ""
	for _, line := range lines {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		if product.MarketID != marketID {
			return Order{}, fmt.Errorf("%w: product %s does not belong to market %s", ErrOrderInvalidInput, line.ProductID, marketID)
		}
		if !product.Active {
			return Order{}, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, line.ProductID)
		}
		if currency == "" {
			currency = product.Currency
		} else if product.Currency != currency {
			return Order{}, fmt.Errorf("%w: products priced in mixed currencies", ErrOrderInvalidInput)
		}
		pricingLines = append(pricingLines, PricingLine{Product: product, Quantity: line.Quantity})
	}

	breakdown, err := s.pricing.Price(ctx, PriceOrderCommand{
		Lines:          pricingLines,
		DiscountAmount: cmd.DiscountAmount,
		TaxRateBps:     s.taxRateBps,
		Currency:       currency,
	})
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		ID:           s.nextOrderID(),
		UserID:       userID,
		MarketID:     marketID,
		Status:       domain.OrderStatusPending,
		Currency:     breakdown.Currency,
		Totals:       breakdown.Totals(),
		Items:        buildOrderItems(breakdown.Items),
		DeliveryType: deliveryType,
		DeliveryNote: sanitiseText(cmd.DeliveryNote),
		Metadata:     cloneMap(cmd.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}
	order.OrderNumber = number

	reserveLines := make([]InventoryLine, len(lines))
	copy(reserveLines, lines)

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.inventory.Reserve(txCtx, InventoryReserveCommand{
			Lines:   reserveLines,
			ActorID: userID,
		}); err != nil {
			return s.mapStockError(err)
		}
		if err := s.orders.Insert(txCtx, domain.Order(order)); err != nil {
			// The reservation already landed; give the stock back before
			// surfacing the failure.
			if _, releaseErr := s.inventory.Release(txCtx, InventoryReleaseCommand{
				Lines:   reserveLines,
				Reason:  "order insert failed",
				ActorID: userID,
			}); releaseErr != nil {
				s.logger(txCtx, "order.create.release.failed", map[string]any{
					"order": order.ID,
					"error": releaseErr.Error(),
				})
			}
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		MarketID:      order.MarketID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata:      maps.Clone(order.Metadata),
	})

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := s.authorizeRead(ctx, order, actor); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if !slices.Contains(domain.OrderStatuses(), target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}
	if target == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: cancellation uses the cancel operation", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	if err := s.authorizeTransition(ctx, order, cmd.Actor); err != nil {
		return Order{}, err
	}

	now := s.now()
	prevStatus := order.Status

	if err := applyStatusTransition(&order, target, now); err != nil {
		return Order{}, err
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		Order:          domain.Order(order),
		PreviousStatus: prevStatus,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order = updated

	if target == domain.OrderStatusDelivered && prevStatus != domain.OrderStatusDelivered && s.stats != nil {
		// The order is durably delivered at this point. A failed stats commit
		// is logged and picked up by reconciliation; it never rolls the order
		// back.
		if _, err := s.stats.CommitDelivered(ctx, order.ID); err != nil {
			s.logger(ctx, "order.stats.commit.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
		}
	}

	metadata := cloneMap(cmd.Metadata)
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata = ensureMap(metadata)
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		MarketID:       order.MarketID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}
	if err := s.authorizeCancel(ctx, order, cmd.Actor); err != nil {
		return Order{}, err
	}

	now := s.now()
	prevStatus := order.Status
	reason := strings.TrimSpace(cmd.Reason)

	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelReason = optionalString(reason)
	order.UpdatedAt = now

	// The stock restore rides in the same compare-and-set write as the status
	// change, so losing the race means neither happens and stock cannot be
	// released twice.
	restore := make([]repositories.StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		restore = append(restore, repositories.StockLine{ProductID: item.ProductID, Delta: item.Quantity})
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		Order:          domain.Order(order),
		PreviousStatus: prevStatus,
		RestoreStock:   restore,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order = updated

	metadata := cloneMap(cmd.Metadata)
	if reason != "" {
		metadata = ensureMap(metadata)
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		MarketID:       order.MarketID,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.Actor.ID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

// Authorization helpers ------------------------------------------------------

func (s *orderService) authorizeRead(ctx context.Context, order Order, actor Actor) error {
	if actor.ID != "" && actor.ID == order.UserID {
		return nil
	}
	if actor.HasRole(RoleSuperAdmin) {
		return nil
	}
	if actor.HasRole(RoleMarketAdmin) {
		owns, err := s.actorOwnsMarket(ctx, order.MarketID, actor)
		if err != nil {
			return err
		}
		if owns {
			return nil
		}
	}
	return fmt.Errorf("%w: actor %s may not view order %s", ErrOrderForbidden, actor.ID, order.ID)
}

func (s *orderService) authorizeTransition(ctx context.Context, order Order, actor Actor) error {
	if actor.HasRole(RoleSuperAdmin) {
		return nil
	}
	if actor.HasRole(RoleMarketAdmin) {
		owns, err := s.actorOwnsMarket(ctx, order.MarketID, actor)
		if err != nil {
			return err
		}
		if owns {
			return nil
		}
	}
	return fmt.Errorf("%w: actor %s may not advance order %s", ErrOrderForbidden, actor.ID, order.ID)
}

func (s *orderService) authorizeCancel(ctx context.Context, order Order, actor Actor) error {
	if actor.ID != "" && actor.ID == order.UserID {
		return nil
	}
	return s.authorizeTransition(ctx, order, actor)
}

func (s *orderService) actorOwnsMarket(ctx context.Context, marketID string, actor Actor) (bool, error) {
	if actor.ID == "" || marketID == "" {
		return false, nil
	}
	market, err := s.markets.FindByID(ctx, marketID)
	if err != nil {
		return false, s.mapRepositoryError(err)
	}
	return market.OwnerID == actor.ID, nil
}

// Internal helpers -----------------------------------------------------------

func applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status

	if current == target {
		// Repeating the current status is an idempotent no-op.
		order.UpdatedAt = now
		return nil
	}

	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusPreparing:
		order.PreparingAt = &now
	case domain.OrderStatusReady:
		order.ReadyAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func normaliseOrderLines(items []OrderLineInput) ([]InventoryLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if len(items) > maxOrderLines {
		return nil, fmt.Errorf("%w: order exceeds %d lines", ErrOrderInvalidInput, maxOrderLines)
	}

	// Duplicate product lines collapse into one so stock accounting sees a
	// single delta per product.
	index := make(map[string]int, len(items))
	lines := make([]InventoryLine, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, productID)
		}
		if item.Quantity > maxLineQuantity {
			return nil, fmt.Errorf("%w: quantity for %s exceeds %d", ErrOrderInvalidInput, productID, maxLineQuantity)
		}
		if at, ok := index[productID]; ok {
			lines[at].Quantity += item.Quantity
			if lines[at].Quantity > maxLineQuantity {
				return nil, fmt.Errorf("%w: quantity for %s exceeds %d", ErrOrderInvalidInput, productID, maxLineQuantity)
			}
			continue
		}
		index[productID] = len(lines)
		lines = append(lines, InventoryLine{ProductID: productID, Quantity: item.Quantity})
	}
	return lines, nil
}

func buildOrderItems(items []ItemPricingBreakdown) []OrderItem {
	built := make([]OrderItem, len(items))
	for i, item := range items {
		built[i] = OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Unit:        item.Unit,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.Subtotal,
		}
	}
	return built
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %v", ErrOrderInsufficientStock, err)
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.StockErrorProductInactive:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	counterID := fmt.Sprintf(orderCounterTemplate, now.Year())
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d-%06d", orderNumberPrefix, now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
