package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/food-market/api/internal/platform/firestore"
	"github.com/food-market/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	markets  *MarketRepository
	products *ProductRepository
	orders   *OrderRepository
	stats    *StatsRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository attaches the dependency health repository exposed via Health().
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry constructs every Firestore repository from the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}

	markets, err := NewMarketRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	stats, err := NewStatsRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		provider: provider,
		markets:  markets,
		products: products,
		orders:   orders,
		stats:    stats,
		counters: counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Markets returns the market repository.
func (r *Registry) Markets() repositories.MarketRepository { return r.markets }

// Products returns the product repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Stats returns the stats repository.
func (r *Registry) Stats() repositories.StatsRepository { return r.stats }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the dependency health repository, or nil when not configured.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx invokes fn directly. Each repository mutation already executes inside its
// own Firestore transaction; cross-repository flows rely on compensating actions
// rather than a shared transaction handle.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
