package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/food-market/api/internal/domain"
	pfirestore "github.com/food-market/api/internal/platform/firestore"
	"github.com/food-market/api/internal/platform/pagination"
	"github.com/food-market/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// Insert creates the order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// UpdateStatus writes the order only while its stored status still matches
// PreviousStatus. Stock restores, when requested, land in the same transaction
// so a cancel can never release stock twice.
func (r *OrderRepository) UpdateStatus(ctx context.Context, req repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.Order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order update status: id is required")
	}

	restores := make([]repositories.StockLine, len(req.RestoreStock))
	copy(restores, req.RestoreStock)
	sort.Slice(restores, func(i, j int) bool { return restores[i].ProductID < restores[j].ProductID })

	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if current.Status != string(req.PreviousStatus) {
			return pfirestore.NewConflict("orders.updateStatus",
				fmt.Errorf("order %s expected status %q but found %q", orderID, req.PreviousStatus, current.Status))
		}

		// Reads before writes: load every product to restore first.
		type pendingRestore struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		writes := make([]pendingRestore, 0, len(restores))
		for _, line := range restores {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" || line.Delta <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, productID, "stock restore requires a positive delta", nil)
			}
			productRef, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			productSnap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var productDoc productDocument
			if err := productSnap.DataTo(&productDoc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			productDoc.StockQuantity += line.Delta
			productDoc.UpdatedAt = req.Order.UpdatedAt.UTC()
			writes = append(writes, pendingRestore{ref: productRef, doc: productDoc})
		}

		next := newOrderDocument(req.Order)
		if err := tx.Set(orderRef, next); err != nil {
			return err
		}
		for _, write := range writes {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		updated = next.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapStockError("orders.updateStatus", err)
	}
	return updated, nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByNumber fetches an order by its public order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order find by number: order number is required")
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFound("orders.findByNumber", fmt.Errorf("order %s not found", orderNumber))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if marketID := strings.TrimSpace(filter.MarketID); marketID != "" {
		query = query.Where("marketId", "==", marketID)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status", "in", filter.Status)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	UserID         string              `firestore:"userId"`
	MarketID       string              `firestore:"marketId"`
	Status         string              `firestore:"status"`
	Currency       string              `firestore:"currency"`
	Totals         orderTotalsDocument `firestore:"totals"`
	Items          []orderItemDocument `firestore:"items"`
	DeliveryType   string              `firestore:"deliveryType"`
	DeliveryNote   string              `firestore:"deliveryNote,omitempty"`
	Metadata       map[string]any      `firestore:"metadata,omitempty"`
	StatsCommitted bool                `firestore:"statsCommitted"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	ConfirmedAt    *time.Time          `firestore:"confirmedAt,omitempty"`
	PreparingAt    *time.Time          `firestore:"preparingAt,omitempty"`
	ReadyAt        *time.Time          `firestore:"readyAt,omitempty"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelReason   *string             `firestore:"cancelReason,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal int64 `firestore:"subtotal"`
	Discount int64 `firestore:"discount"`
	Tax      int64 `firestore:"tax"`
	Total    int64 `firestore:"total"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Unit        string `firestore:"unit,omitempty"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int64  `firestore:"qty"`
	TotalPrice  int64  `firestore:"totalPrice"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			Unit:        strings.TrimSpace(item.Unit),
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.TotalPrice,
		}
	}
	return orderDocument{
		OrderNumber: strings.TrimSpace(o.OrderNumber),
		UserID:      strings.TrimSpace(o.UserID),
		MarketID:    strings.TrimSpace(o.MarketID),
		Status:      string(o.Status),
		Currency:    strings.TrimSpace(o.Currency),
		Totals: orderTotalsDocument{
			Subtotal: o.Totals.Subtotal,
			Discount: o.Totals.Discount,
			Tax:      o.Totals.Tax,
			Total:    o.Totals.Total,
		},
		Items:          items,
		DeliveryType:   string(o.DeliveryType),
		DeliveryNote:   strings.TrimSpace(o.DeliveryNote),
		Metadata:       o.Metadata,
		StatsCommitted: o.StatsCommitted,
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
		ConfirmedAt:    o.ConfirmedAt,
		PreparingAt:    o.PreparingAt,
		ReadyAt:        o.ReadyAt,
		DeliveredAt:    o.DeliveredAt,
		CancelledAt:    o.CancelledAt,
		CancelReason:   o.CancelReason,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			Unit:        strings.TrimSpace(item.Unit),
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.TotalPrice,
		}
	}
	return domain.Order{
		ID:          id,
		OrderNumber: strings.TrimSpace(d.OrderNumber),
		UserID:      strings.TrimSpace(d.UserID),
		MarketID:    strings.TrimSpace(d.MarketID),
		Status:      domain.OrderStatus(d.Status),
		Currency:    strings.TrimSpace(d.Currency),
		Totals: domain.OrderTotals{
			Subtotal: d.Totals.Subtotal,
			Discount: d.Totals.Discount,
			Tax:      d.Totals.Tax,
			Total:    d.Totals.Total,
		},
		Items:          items,
		DeliveryType:   domain.DeliveryType(d.DeliveryType),
		DeliveryNote:   strings.TrimSpace(d.DeliveryNote),
		Metadata:       d.Metadata,
		StatsCommitted: d.StatsCommitted,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		ConfirmedAt:    d.ConfirmedAt,
		PreparingAt:    d.PreparingAt,
		ReadyAt:        d.ReadyAt,
		DeliveredAt:    d.DeliveredAt,
		CancelledAt:    d.CancelledAt,
		CancelReason:   d.CancelReason,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	return pagination.EncodeToken(token)
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	return pagination.DecodeToken[orderPageToken](encoded)
}
