package repositories

import (
	"context"
	"time"

	domain "github.com/food-market/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Markets() MarketRepository
	Products() ProductRepository
	Orders() OrderRepository
	Stats() StatsRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MarketRepository persists market profiles.
type MarketRepository interface {
	Insert(ctx context.Context, market domain.Market) error
	Update(ctx context.Context, market domain.Market) error
	FindByID(ctx context.Context, marketID string) (domain.Market, error)
	List(ctx context.Context, filter MarketListFilter) (domain.CursorPage[domain.Market], error)
}

// ProductRepository persists product listings and owns stock accounting. Stock
// adjustments for a single request are applied in one transaction so
// concurrent orders never observe partial decrements.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	SetActive(ctx context.Context, productID string, active bool, now time.Time) error
	AdjustStock(ctx context.Context, req StockAdjustment) (map[string]domain.Product, error)
}

// StockLine identifies a single product stock delta. Negative deltas reserve
// stock and fail when insufficient; positive deltas restore it.
type StockLine struct {
	ProductID string
	Delta     int64
}

// StockAdjustment applies a set of stock deltas atomically.
type StockAdjustment struct {
	Lines []StockLine
	// RequireActive rejects deltas against deactivated products. Reservations
	// set it; restores do not, so cancelling an order with a retired product
	// still returns its stock.
	RequireActive bool
	Now           time.Time
}

// OrderRepository persists order documents and provides query helpers for
// customers and market admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// UpdateStatus writes the order if and only if the stored status still
	// equals PreviousStatus, optionally restoring product stock in the same
	// transaction. A stale PreviousStatus yields a conflict error.
	UpdateStatus(ctx context.Context, req OrderStatusUpdate) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderStatusUpdate carries a compare-and-set status write.
type OrderStatusUpdate struct {
	Order          domain.Order
	PreviousStatus domain.OrderStatus
	RestoreStock   []StockLine
}

// StatsRepository maintains delivered-order aggregates for markets and products.
type StatsRepository interface {
	// CommitDelivered applies the order's sales counters to its market and
	// products exactly once. It returns false without touching any counter
	// when the order's stats were already committed.
	CommitDelivered(ctx context.Context, orderID string, now time.Time) (bool, error)
	// ListUncommitted returns delivered orders whose stats commit has not
	// landed yet, oldest first.
	ListUncommitted(ctx context.Context, limit int) ([]domain.Order, error)
	MarketStats(ctx context.Context, marketID string, topProducts int) (domain.MarketStats, error)
	PlatformStats(ctx context.Context) (domain.PlatformStats, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type MarketListFilter struct {
	City         string
	Tags         []string
	ActiveOnly   bool
	VerifiedOnly bool
	Pagination   domain.Pagination
}

type ProductListFilter struct {
	MarketID   string
	Category   *domain.ProductCategory
	Organic    *bool
	MaxPrice   *int64
	ActiveOnly bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	MarketID   string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
