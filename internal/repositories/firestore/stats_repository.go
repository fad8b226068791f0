package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/food-market/api/internal/domain"
	pfirestore "github.com/food-market/api/internal/platform/firestore"
)

const marketStatsCollection = "marketStats"

// StatsRepository maintains delivered-order aggregates. Counters are applied
// with Firestore increments, never read-modify-write, so concurrent commits
// cannot lose updates.
type StatsRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewStatsRepository constructs a Firestore-backed stats repository.
func NewStatsRepository(provider *pfirestore.Provider) (*StatsRepository, error) {
	if provider == nil {
		return nil, errors.New("stats repository requires firestore provider")
	}
	return &StatsRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// CommitDelivered applies the order's sales counters to its market and
// products exactly once. The statsCommitted flag flips in the same transaction
// as the increments, so a retried commit is a no-op that returns false.
func (r *StatsRepository) CommitDelivered(ctx context.Context, orderID string, now time.Time) (bool, error) {
	if r == nil || r.provider == nil {
		return false, errors.New("stats repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, errors.New("stats commit: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, pfirestore.WrapError("stats.commit", err)
	}

	now = now.UTC()
	committed := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var order orderDocument
		if err := snap.DataTo(&order); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if order.Status != string(domain.OrderStatusDelivered) {
			return pfirestore.NewConflict("stats.commit",
				fmt.Errorf("order %s is %q, stats commit requires delivered", orderID, order.Status))
		}
		if order.StatsCommitted {
			committed = false
			return nil
		}

		if err := tx.Update(orderRef, []firestore.Update{
			{Path: "statsCommitted", Value: true},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}

		var itemsSold int64
		for _, item := range order.Items {
			itemsSold += item.Quantity
		}
		marketRef := client.Collection(marketStatsCollection).Doc(order.MarketID)
		if err := tx.Set(marketRef, map[string]any{
			"marketId":       order.MarketID,
			"currency":       order.Currency,
			"totalOrders":    firestore.Increment(1),
			"totalItemsSold": firestore.Increment(itemsSold),
			"totalRevenue":   firestore.Increment(order.Totals.Total),
			"updatedAt":      now,
		}, firestore.MergeAll); err != nil {
			return err
		}

		for _, item := range order.Items {
			productRef := client.Collection(productsCollection).Doc(item.ProductID)
			if err := tx.Update(productRef, []firestore.Update{
				{Path: "totalSold", Value: firestore.Increment(item.Quantity)},
				{Path: "totalRevenue", Value: firestore.Increment(item.TotalPrice)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		committed = true
		return nil
	})
	if err != nil {
		return false, pfirestore.WrapError("stats.commit", err)
	}
	return committed, nil
}

// ListUncommitted returns delivered orders whose stats commit has not landed
// yet, oldest delivery first.
func (r *StatsRepository) ListUncommitted(ctx context.Context, limit int) ([]domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("stats repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("status", "==", string(domain.OrderStatusDelivered)).
			Where("statsCommitted", "==", false).
			OrderBy("deliveredAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// MarketStats reads the aggregate document for a market together with its
// best-selling products.
func (r *StatsRepository) MarketStats(ctx context.Context, marketID string, topProducts int) (domain.MarketStats, error) {
	if r == nil || r.provider == nil {
		return domain.MarketStats{}, errors.New("stats repository not initialised")
	}
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return domain.MarketStats{}, errors.New("market stats: market id is required")
	}
	if topProducts <= 0 {
		topProducts = 5
	}
	if topProducts > 25 {
		topProducts = 25
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.MarketStats{}, pfirestore.WrapError("stats.market", err)
	}

	marketSnap, err := client.Collection(marketsCollection).Doc(marketID).Get(ctx)
	if err != nil {
		return domain.MarketStats{}, pfirestore.WrapError("stats.market", err)
	}
	var market marketDocument
	if err := marketSnap.DataTo(&market); err != nil {
		return domain.MarketStats{}, fmt.Errorf("decode market %s: %w", marketID, err)
	}

	stats := domain.MarketStats{
		MarketID:   marketID,
		MarketName: market.Name,
	}

	statsSnap, err := client.Collection(marketStatsCollection).Doc(marketID).Get(ctx)
	switch status.Code(err) {
	case codes.OK:
		var doc marketStatsDocument
		if err := statsSnap.DataTo(&doc); err != nil {
			return domain.MarketStats{}, fmt.Errorf("decode market stats %s: %w", marketID, err)
		}
		stats.TotalOrders = doc.TotalOrders
		stats.TotalItemsSold = doc.TotalItemsSold
		stats.TotalRevenue = doc.TotalRevenue
		stats.Currency = doc.Currency
	case codes.NotFound:
		// No delivered orders yet; all counters stay zero.
	default:
		return domain.MarketStats{}, pfirestore.WrapError("stats.market", err)
	}

	iter := client.Collection(productsCollection).
		Where("marketId", "==", marketID).
		Where("totalSold", ">", 0).
		OrderBy("totalSold", firestore.Desc).
		Limit(topProducts).
		Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.MarketStats{}, pfirestore.WrapError("stats.market", err)
		}
		var product productDocument
		if err := snap.DataTo(&product); err != nil {
			return domain.MarketStats{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		stats.TopProducts = append(stats.TopProducts, domain.ProductSales{
			ProductID:    snap.Ref.ID,
			ProductName:  product.Name,
			TotalSold:    product.TotalSold,
			TotalRevenue: product.TotalRevenue,
		})
	}

	return stats, nil
}

// PlatformStats sums delivered-order aggregates across every market.
func (r *StatsRepository) PlatformStats(ctx context.Context) (domain.PlatformStats, error) {
	if r == nil || r.provider == nil {
		return domain.PlatformStats{}, errors.New("stats repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.PlatformStats{}, pfirestore.WrapError("stats.platform", err)
	}

	var stats domain.PlatformStats

	marketsIter := client.Collection(marketsCollection).Select().Documents(ctx)
	defer marketsIter.Stop()
	for {
		_, err := marketsIter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.PlatformStats{}, pfirestore.WrapError("stats.platform", err)
		}
		stats.TotalMarkets++
	}

	statsIter := client.Collection(marketStatsCollection).Documents(ctx)
	defer statsIter.Stop()
	for {
		snap, err := statsIter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.PlatformStats{}, pfirestore.WrapError("stats.platform", err)
		}
		var doc marketStatsDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.PlatformStats{}, fmt.Errorf("decode market stats %s: %w", snap.Ref.ID, err)
		}
		stats.TotalOrders += doc.TotalOrders
		stats.TotalItemsSold += doc.TotalItemsSold
		stats.TotalRevenue += doc.TotalRevenue
	}

	return stats, nil
}

type marketStatsDocument struct {
	MarketID       string    `firestore:"marketId"`
	Currency       string    `firestore:"currency"`
	TotalOrders    int64     `firestore:"totalOrders"`
	TotalItemsSold int64     `firestore:"totalItemsSold"`
	TotalRevenue   int64     `firestore:"totalRevenue"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}
