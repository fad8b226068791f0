package services

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/food-market/api/internal/domain"
	"github.com/food-market/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Market               = domain.Market
	Product              = domain.Product
	ProductCategory      = domain.ProductCategory
	Order                = domain.Order
	OrderTotals          = domain.OrderTotals
	OrderItem            = domain.OrderItem
	OrderStatus          = domain.OrderStatus
	DeliveryType         = domain.DeliveryType
	PricingBreakdown     = domain.PricingBreakdown
	ItemPricingBreakdown = domain.ItemPricingBreakdown
	MarketStats          = domain.MarketStats
	PlatformStats        = domain.PlatformStats
	ProductSales         = domain.ProductSales
	SystemHealthReport   = domain.SystemHealthReport
)

// Actor identifies the authenticated principal invoking a service operation.
type Actor struct {
	ID    string
	Roles []string
}

// HasRole reports whether the actor carries the given role (case-insensitive).
func (a Actor) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	return slices.ContainsFunc(a.Roles, func(candidate string) bool {
		return strings.ToLower(strings.TrimSpace(candidate)) == role
	})
}

// Role names understood by the services layer.
const (
	RoleUser        = "user"
	RoleMarketAdmin = "market_admin"
	RoleSuperAdmin  = "super_admin"
)

// OrderService encapsulates order placement, reads, and lifecycle transitions.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// InventoryService centralises stock reservation and release on product listings.
type InventoryService interface {
	Reserve(ctx context.Context, cmd InventoryReserveCommand) (map[string]Product, error)
	Release(ctx context.Context, cmd InventoryReleaseCommand) (map[string]Product, error)
	Restock(ctx context.Context, cmd RestockCommand) (Product, error)
}

// PricingService computes order totals from product snapshots in integer
// minor units.
type PricingService interface {
	Price(ctx context.Context, cmd PriceOrderCommand) (PricingBreakdown, error)
}

// CatalogService manages markets and products for public and admin surfaces.
type CatalogService interface {
	CreateMarket(ctx context.Context, cmd UpsertMarketCommand) (Market, error)
	UpdateMarket(ctx context.Context, cmd UpsertMarketCommand) (Market, error)
	GetMarket(ctx context.Context, marketID string) (Market, error)
	ListMarkets(ctx context.Context, filter MarketListFilter) (domain.CursorPage[Market], error)

	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	SetProductActive(ctx context.Context, cmd SetProductActiveCommand) error
	IssueProductImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (SignedUploadResponse, error)
}

// StatsService owns delivered-order aggregates and their reconciliation.
type StatsService interface {
	CommitDelivered(ctx context.Context, orderID string) (bool, error)
	Reconcile(ctx context.Context, limit int) (ReconcileResult, error)
	MarketStats(ctx context.Context, query MarketStatsQuery) (MarketStats, error)
	PlatformStats(ctx context.Context) (PlatformStats, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter

// OrderLineInput names a product and quantity when placing an order.
type OrderLineInput struct {
	ProductID string
	Quantity  int64
}

type CreateOrderCommand struct {
	UserID         string
	MarketID       string
	Items          []OrderLineInput
	DeliveryType   DeliveryType
	DeliveryNote   string
	DiscountAmount int64
	Metadata       map[string]any
}

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	Actor          Actor
	Reason         string
	ExpectedStatus *OrderStatus
	Metadata       map[string]any
}

type CancelOrderCommand struct {
	OrderID        string
	Actor          Actor
	Reason         string
	ExpectedStatus *OrderStatus
	Metadata       map[string]any
}

type InventoryLine struct {
	ProductID string
	Quantity  int64
}

type InventoryReserveCommand struct {
	Lines   []InventoryLine
	ActorID string
}

type InventoryReleaseCommand struct {
	Lines   []InventoryLine
	Reason  string
	ActorID string
}

type RestockCommand struct {
	ProductID string
	Quantity  int64
	ActorID   string
}

// PricingLine pairs a product snapshot with the requested quantity.
type PricingLine struct {
	Product  Product
	Quantity int64
}

type PriceOrderCommand struct {
	Lines          []PricingLine
	DiscountAmount int64
	TaxRateBps     int64
	Currency       string
}

type MarketListFilter struct {
	City         string
	Tags         []string
	ActiveOnly   bool
	VerifiedOnly bool
	Pagination   Pagination
}

type ProductListFilter struct {
	MarketID   string
	Category   *ProductCategory
	Organic    *bool
	MaxPrice   *int64
	ActiveOnly bool
	Pagination Pagination
}

type UpsertMarketCommand struct {
	Market Market
	Actor  Actor
}

type UpsertProductCommand struct {
	Product Product
	Actor   Actor
}

type SetProductActiveCommand struct {
	ProductID string
	Active    bool
	Actor     Actor
}

type ProductImageUploadCommand struct {
	ProductID   string
	FileName    string
	ContentType string
	SizeBytes   int64
	Actor       Actor
}

// SignedUploadResponse carries a signed URL for direct object upload.
type SignedUploadResponse struct {
	URL       string
	Method    string
	Headers   map[string]string
	ObjectKey string
	ExpiresAt time.Time
}

type MarketStatsQuery struct {
	MarketID    string
	TopProducts int
	Actor       Actor
}

// ReconcileResult summarises a stats reconciliation sweep.
type ReconcileResult struct {
	Scanned   int
	Committed int
	Failed    int
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
