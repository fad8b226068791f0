package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Market represents a food market (vendor) selling through the platform.
type Market struct {
	ID           string
	Name         string
	Description  string
	Address      string
	City         string
	OwnerID      string
	Phone        string
	Email        string
	OpeningHours map[string]string
	Tags         []string
	Active       bool
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProductCategory enumerates supported product groupings.
type ProductCategory string

const (
	// CategoryProduce covers fruit and vegetables.
	CategoryProduce ProductCategory = "produce"
	// CategoryDairy covers milk, cheese and eggs.
	CategoryDairy ProductCategory = "dairy"
	// CategoryMeat covers meat and poultry.
	CategoryMeat ProductCategory = "meat"
	// CategorySeafood covers fish and shellfish.
	CategorySeafood ProductCategory = "seafood"
	// CategoryBakery covers bread and baked goods.
	CategoryBakery ProductCategory = "bakery"
	// CategoryPantry covers dry and preserved goods.
	CategoryPantry ProductCategory = "pantry"
	// CategoryBeverages covers drinks.
	CategoryBeverages ProductCategory = "beverages"
	// CategoryOther covers anything outside the named groups.
	CategoryOther ProductCategory = "other"
)

// ProductCategories lists every valid category value.
func ProductCategories() []ProductCategory {
	return []ProductCategory{
		CategoryProduce,
		CategoryDairy,
		CategoryMeat,
		CategorySeafood,
		CategoryBakery,
		CategoryPantry,
		CategoryBeverages,
		CategoryOther,
	}
}

// Product represents a sellable item listed by a market. Monetary amounts are
// stored in the smallest currency unit.
type Product struct {
	ID            string
	MarketID      string
	Name          string
	Description   string
	Category      ProductCategory
	Unit          string
	UnitPrice     int64
	Currency      string
	StockQuantity int64
	ImageURL      string
	Origin        string
	Organic       bool
	Active        bool
	TotalSold     int64
	TotalRevenue  int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is placed but not yet accepted by the market.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the market accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPreparing indicates the market is assembling the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order awaits pickup or courier handoff.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every valid lifecycle state.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusPreparing,
		OrderStatusReady,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Order captures order headers returned to handlers/services.
type Order struct {
	ID             string
	OrderNumber    string
	UserID         string
	MarketID       string
	Status         OrderStatus
	Currency       string
	Totals         OrderTotals
	Items          []OrderItem
	DeliveryType   DeliveryType
	DeliveryNote   string
	Metadata       map[string]any
	StatsCommitted bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ConfirmedAt    *time.Time
	PreparingAt    *time.Time
	ReadyAt        *time.Time
	DeliveredAt    *time.Time
	CancelledAt    *time.Time
	CancelReason   *string
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Tax      int64
	Total    int64
}

// OrderItem snapshots a product line at the time the order was placed.
type OrderItem struct {
	ProductID   string
	ProductName string
	Unit        string
	UnitPrice   int64
	Quantity    int64
	TotalPrice  int64
}

// DeliveryType distinguishes pickup orders from courier deliveries.
type DeliveryType string

const (
	// DeliveryTypePickup indicates the customer collects the order at the market.
	DeliveryTypePickup DeliveryType = "pickup"
	// DeliveryTypeCourier indicates the order is handed to a courier.
	DeliveryTypeCourier DeliveryType = "courier"
)

// ProductSales aggregates lifetime sales counters for a single product.
type ProductSales struct {
	ProductID    string
	ProductName  string
	TotalSold    int64
	TotalRevenue int64
}

// MarketStats aggregates confirmed revenue for a market. Counters only move
// when an order is delivered.
type MarketStats struct {
	MarketID       string
	MarketName     string
	TotalOrders    int64
	TotalItemsSold int64
	TotalRevenue   int64
	Currency       string
	TopProducts    []ProductSales
	GeneratedAt    time.Time
}

// PlatformStats aggregates delivered-order counters across all markets.
type PlatformStats struct {
	TotalMarkets   int64
	TotalOrders    int64
	TotalItemsSold int64
	TotalRevenue   int64
	GeneratedAt    time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
