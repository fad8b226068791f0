package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/food-market/api/internal/platform/config"
	"github.com/food-market/api/internal/repositories"
	"github.com/food-market/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryService
	Pricing   services.PricingService
	Catalog   services.CatalogService
	Stats     services.StatsService
	System    services.SystemService
}

// Infrastructure carries external collaborators that the container cannot build from
// configuration alone. All fields are optional; services degrade gracefully without them.
type Infrastructure struct {
	Storage services.UploadURLSigner
	Events  services.OrderEventPublisher
	Logger  func(ctx context.Context, event string, fields map[string]any)
	Build   services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides a Firestore-backed
// registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Clock:    time.Now,
		Logger:   infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	pricingSvc, err := services.NewPricingService(services.PricingServiceDeps{
		Logger: infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}
	svc.Pricing = pricingSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Markets:     reg.Markets(),
		Products:    reg.Products(),
		Storage:     infra.Storage,
		MediaBucket: cfg.Storage.MediaBucket,
		Clock:       time.Now,
		Logger:      infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	statsSvc, err := services.NewStatsService(services.StatsServiceDeps{
		Stats:   reg.Stats(),
		Markets: reg.Markets(),
		Clock:   time.Now,
		Logger:  infra.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stats service: %w", err)
	}
	svc.Stats = statsSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Counters:         reg.Counters(),
		Clock:            time.Now,
		Build:            infra.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Markets:    reg.Markets(),
		Products:   reg.Products(),
		Counters:   reg.Counters(),
		Inventory:  svc.Inventory,
		Pricing:    svc.Pricing,
		Stats:      svc.Stats,
		UnitOfWork: reg,
		Clock:      time.Now,
		Events:     infra.Events,
		Logger:     infra.Logger,
		TaxRateBps: cfg.Pricing.TaxRateBps,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}
