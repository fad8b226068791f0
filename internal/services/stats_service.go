package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/food-market/api/internal/repositories"
)

var (
	// ErrStatsInvalidInput signals the caller provided invalid arguments.
	ErrStatsInvalidInput = errors.New("stats: invalid input")
	// ErrStatsNotFound indicates the referenced order or market is missing.
	ErrStatsNotFound = errors.New("stats: not found")
	// ErrStatsConflict indicates the order is not in a committable state.
	ErrStatsConflict = errors.New("stats: conflict")
	// ErrStatsForbidden indicates the actor may not read the aggregate.
	ErrStatsForbidden = errors.New("stats: forbidden")
)

// StatsServiceDeps bundles collaborators required to construct the stats service.
type StatsServiceDeps struct {
	Stats   repositories.StatsRepository
	Markets repositories.MarketRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type statsService struct {
	stats   repositories.StatsRepository
	markets repositories.MarketRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

var _ StatsService = (*statsService)(nil)

// NewStatsService wires dependencies into a concrete StatsService implementation.
func NewStatsService(deps StatsServiceDeps) (StatsService, error) {
	if deps.Stats == nil {
		return nil, errors.New("stats service: stats repository is required")
	}
	if deps.Markets == nil {
		return nil, errors.New("stats service: market repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &statsService{
		stats:   deps.Stats,
		markets: deps.Markets,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CommitDelivered applies the delivered order's counters exactly once. It
// returns false when a prior commit already landed.
func (s *statsService) CommitDelivered(ctx context.Context, orderID string) (bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return false, fmt.Errorf("%w: order id is required", ErrStatsInvalidInput)
	}

	committed, err := s.stats.CommitDelivered(ctx, orderID, s.clock())
	if err != nil {
		return false, mapStatsRepositoryError(err)
	}

	s.logger(ctx, "stats.commit", map[string]any{
		"order":     orderID,
		"committed": committed,
	})
	return committed, nil
}

// Reconcile sweeps delivered orders whose stats commit never landed and
// retries each one. Failures are counted and logged, never fatal for the
// sweep.
func (s *statsService) Reconcile(ctx context.Context, limit int) (ReconcileResult, error) {
	orders, err := s.stats.ListUncommitted(ctx, limit)
	if err != nil {
		return ReconcileResult{}, mapStatsRepositoryError(err)
	}

	result := ReconcileResult{Scanned: len(orders)}
	for _, order := range orders {
		committed, err := s.stats.CommitDelivered(ctx, order.ID, s.clock())
		if err != nil {
			result.Failed++
			s.logger(ctx, "stats.reconcile.failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
			continue
		}
		if committed {
			result.Committed++
		}
	}

	s.logger(ctx, "stats.reconcile", map[string]any{
		"scanned":   result.Scanned,
		"committed": result.Committed,
		"failed":    result.Failed,
	})
	return result, nil
}

func (s *statsService) MarketStats(ctx context.Context, query MarketStatsQuery) (MarketStats, error) {
	marketID := strings.TrimSpace(query.MarketID)
	if marketID == "" {
		return MarketStats{}, fmt.Errorf("%w: market id is required", ErrStatsInvalidInput)
	}

	market, err := s.markets.FindByID(ctx, marketID)
	if err != nil {
		return MarketStats{}, mapStatsRepositoryError(err)
	}
	if !query.Actor.HasRole(RoleSuperAdmin) {
		if !query.Actor.HasRole(RoleMarketAdmin) || query.Actor.ID == "" || query.Actor.ID != market.OwnerID {
			return MarketStats{}, fmt.Errorf("%w: actor %s may not read stats for market %s", ErrStatsForbidden, query.Actor.ID, marketID)
		}
	}

	stats, err := s.stats.MarketStats(ctx, marketID, query.TopProducts)
	if err != nil {
		return MarketStats{}, mapStatsRepositoryError(err)
	}
	stats.GeneratedAt = s.clock()
	return stats, nil
}

func (s *statsService) PlatformStats(ctx context.Context) (PlatformStats, error) {
	stats, err := s.stats.PlatformStats(ctx)
	if err != nil {
		return PlatformStats{}, mapStatsRepositoryError(err)
	}
	stats.GeneratedAt = s.clock()
	return stats, nil
}

func mapStatsRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrStatsNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrStatsConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("stats: repository unavailable: %w", err)
		}
	}
	return err
}
