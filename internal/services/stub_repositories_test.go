package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/food-market/api/internal/domain"
	pstorage "github.com/food-market/api/internal/platform/storage"
	"github.com/food-market/api/internal/repositories"
)

// testTime is the fixed instant used across service tests.
var testTime = time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return testTime
}

var errStubUnexpectedCall = errors.New("unexpected call on stub")

// stubRepoError satisfies repositories.RepositoryError for mapping tests.
type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "repository failure" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = stubRepoError{}

type stubMarketRepo struct {
	insert   func(ctx context.Context, market domain.Market) error
	update   func(ctx context.Context, market domain.Market) error
	findByID func(ctx context.Context, marketID string) (domain.Market, error)
	list     func(ctx context.Context, filter repositories.MarketListFilter) (domain.CursorPage[domain.Market], error)
}

var _ repositories.MarketRepository = (*stubMarketRepo)(nil)

func (s *stubMarketRepo) Insert(ctx context.Context, market domain.Market) error {
	if s.insert == nil {
		return errStubUnexpectedCall
	}
	return s.insert(ctx, market)
}

func (s *stubMarketRepo) Update(ctx context.Context, market domain.Market) error {
	if s.update == nil {
		return errStubUnexpectedCall
	}
	return s.update(ctx, market)
}

func (s *stubMarketRepo) FindByID(ctx context.Context, marketID string) (domain.Market, error) {
	if s.findByID == nil {
		return domain.Market{}, errStubUnexpectedCall
	}
	return s.findByID(ctx, marketID)
}

func (s *stubMarketRepo) List(ctx context.Context, filter repositories.MarketListFilter) (domain.CursorPage[domain.Market], error) {
	if s.list == nil {
		return domain.CursorPage[domain.Market]{}, errStubUnexpectedCall
	}
	return s.list(ctx, filter)
}

type stubProductRepo struct {
	insert      func(ctx context.Context, product domain.Product) error
	update      func(ctx context.Context, product domain.Product) error
	findByID    func(ctx context.Context, productID string) (domain.Product, error)
	list        func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	setActive   func(ctx context.Context, productID string, active bool, now time.Time) error
	adjustStock func(ctx context.Context, req repositories.StockAdjustment) (map[string]domain.Product, error)
}

var _ repositories.ProductRepository = (*stubProductRepo)(nil)

func (s *stubProductRepo) Insert(ctx context.Context, product domain.Product) error {
	if s.insert == nil {
		return errStubUnexpectedCall
	}
	return s.insert(ctx, product)
}

func (s *stubProductRepo) Update(ctx context.Context, product domain.Product) error {
	if s.update == nil {
		return errStubUnexpectedCall
	}
	return s.update(ctx, product)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findByID == nil {
		return domain.Product{}, errStubUnexpectedCall
	}
	return s.findByID(ctx, productID)
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.list == nil {
		return domain.CursorPage[domain.Product]{}, errStubUnexpectedCall
	}
	return s.list(ctx, filter)
}

func (s *stubProductRepo) SetActive(ctx context.Context, productID string, active bool, now time.Time) error {
	if s.setActive == nil {
		return errStubUnexpectedCall
	}
	return s.setActive(ctx, productID, active, now)
}

func (s *stubProductRepo) AdjustStock(ctx context.Context, req repositories.StockAdjustment) (map[string]domain.Product, error) {
	if s.adjustStock == nil {
		return nil, errStubUnexpectedCall
	}
	return s.adjustStock(ctx, req)
}

type stubOrderRepo struct {
	insert       func(ctx context.Context, order domain.Order) error
	updateStatus func(ctx context.Context, req repositories.OrderStatusUpdate) (domain.Order, error)
	findByID     func(ctx context.Context, orderID string) (domain.Order, error)
	findByNumber func(ctx context.Context, orderNumber string) (domain.Order, error)
	list         func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

var _ repositories.OrderRepository = (*stubOrderRepo)(nil)

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insert == nil {
		return errStubUnexpectedCall
	}
	return s.insert(ctx, order)
}

func (s *stubOrderRepo) UpdateStatus(ctx context.Context, req repositories.OrderStatusUpdate) (domain.Order, error) {
	if s.updateStatus == nil {
		return domain.Order{}, errStubUnexpectedCall
	}
	return s.updateStatus(ctx, req)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByID == nil {
		return domain.Order{}, errStubUnexpectedCall
	}
	return s.findByID(ctx, orderID)
}

func (s *stubOrderRepo) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findByNumber == nil {
		return domain.Order{}, errStubUnexpectedCall
	}
	return s.findByNumber(ctx, orderNumber)
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.list == nil {
		return domain.CursorPage[domain.Order]{}, errStubUnexpectedCall
	}
	return s.list(ctx, filter)
}

type stubStatsRepo struct {
	commitDelivered func(ctx context.Context, orderID string, now time.Time) (bool, error)
	listUncommitted func(ctx context.Context, limit int) ([]domain.Order, error)
	marketStats     func(ctx context.Context, marketID string, topProducts int) (domain.MarketStats, error)
	platformStats   func(ctx context.Context) (domain.PlatformStats, error)
}

var _ repositories.StatsRepository = (*stubStatsRepo)(nil)

func (s *stubStatsRepo) CommitDelivered(ctx context.Context, orderID string, now time.Time) (bool, error) {
	if s.commitDelivered == nil {
		return false, errStubUnexpectedCall
	}
	return s.commitDelivered(ctx, orderID, now)
}

func (s *stubStatsRepo) ListUncommitted(ctx context.Context, limit int) ([]domain.Order, error) {
	if s.listUncommitted == nil {
		return nil, errStubUnexpectedCall
	}
	return s.listUncommitted(ctx, limit)
}

func (s *stubStatsRepo) MarketStats(ctx context.Context, marketID string, topProducts int) (domain.MarketStats, error) {
	if s.marketStats == nil {
		return domain.MarketStats{}, errStubUnexpectedCall
	}
	return s.marketStats(ctx, marketID, topProducts)
}

func (s *stubStatsRepo) PlatformStats(ctx context.Context) (domain.PlatformStats, error) {
	if s.platformStats == nil {
		return domain.PlatformStats{}, errStubUnexpectedCall
	}
	return s.platformStats(ctx)
}

type stubCounterRepo struct {
	next      func(ctx context.Context, counterID string, step int64) (int64, error)
	configure func(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

var _ repositories.CounterRepository = (*stubCounterRepo)(nil)

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.next == nil {
		return 0, errStubUnexpectedCall
	}
	return s.next(ctx, counterID, step)
}

func (s *stubCounterRepo) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if s.configure == nil {
		return errStubUnexpectedCall
	}
	return s.configure(ctx, counterID, cfg)
}

type stubHealthRepo struct {
	collect func(ctx context.Context) (domain.SystemHealthReport, error)
}

var _ repositories.HealthRepository = (*stubHealthRepo)(nil)

func (s *stubHealthRepo) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collect == nil {
		return domain.SystemHealthReport{}, errStubUnexpectedCall
	}
	return s.collect(ctx)
}

// stubStatsService stands in for the stats service where order tests only
// need to observe the commit call.
type stubStatsService struct {
	commitDelivered func(ctx context.Context, orderID string) (bool, error)
	reconcile       func(ctx context.Context, limit int) (ReconcileResult, error)
	marketStats     func(ctx context.Context, query MarketStatsQuery) (MarketStats, error)
	platformStats   func(ctx context.Context) (PlatformStats, error)
}

var _ StatsService = (*stubStatsService)(nil)

func (s *stubStatsService) CommitDelivered(ctx context.Context, orderID string) (bool, error) {
	if s.commitDelivered == nil {
		return false, errStubUnexpectedCall
	}
	return s.commitDelivered(ctx, orderID)
}

func (s *stubStatsService) Reconcile(ctx context.Context, limit int) (ReconcileResult, error) {
	if s.reconcile == nil {
		return ReconcileResult{}, errStubUnexpectedCall
	}
	return s.reconcile(ctx, limit)
}

func (s *stubStatsService) MarketStats(ctx context.Context, query MarketStatsQuery) (MarketStats, error) {
	if s.marketStats == nil {
		return MarketStats{}, errStubUnexpectedCall
	}
	return s.marketStats(ctx, query)
}

func (s *stubStatsService) PlatformStats(ctx context.Context) (PlatformStats, error) {
	if s.platformStats == nil {
		return PlatformStats{}, errStubUnexpectedCall
	}
	return s.platformStats(ctx)
}

// stubEventPublisher records published order events.
type stubEventPublisher struct {
	err    error
	events []OrderEvent
}

var _ OrderEventPublisher = (*stubEventPublisher)(nil)

func (s *stubEventPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	s.events = append(s.events, event)
	return s.err
}

type stubUploadSigner struct {
	signedURL func(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error)
}

var _ UploadURLSigner = (*stubUploadSigner)(nil)

func (s *stubUploadSigner) SignedURL(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error) {
	if s.signedURL == nil {
		return pstorage.SignedURLResult{}, errStubUnexpectedCall
	}
	return s.signedURL(ctx, bucket, object, opts)
}
