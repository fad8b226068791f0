package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/food-market/api/internal/repositories"
)

// ErrInventoryInvalidInput signals the caller provided invalid stock data.
var ErrInventoryInvalidInput = errors.New("inventory: invalid input")

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reserve decrements stock for every line in one transaction. Inactive
// products and shortfalls reject the whole reservation.
func (s *inventoryService) Reserve(ctx context.Context, cmd InventoryReserveCommand) (map[string]Product, error) {
	lines, err := validateInventoryLines(cmd.Lines)
	if err != nil {
		return nil, err
	}

	deltas := make([]repositories.StockLine, len(lines))
	for i, line := range lines {
		deltas[i] = repositories.StockLine{ProductID: line.ProductID, Delta: -line.Quantity}
	}

	products, err := s.products.AdjustStock(ctx, repositories.StockAdjustment{
		Lines:         deltas,
		RequireActive: true,
		Now:           s.clock(),
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx, "inventory.reserved", map[string]any{
		"actor": cmd.ActorID,
		"lines": len(deltas),
	})
	return products, nil
}

// Release returns previously reserved stock. Deactivated products still
// accept the restore so a cancelled order never strands its quantities.
func (s *inventoryService) Release(ctx context.Context, cmd InventoryReleaseCommand) (map[string]Product, error) {
	lines, err := validateInventoryLines(cmd.Lines)
	if err != nil {
		return nil, err
	}

	deltas := make([]repositories.StockLine, len(lines))
	for i, line := range lines {
		deltas[i] = repositories.StockLine{ProductID: line.ProductID, Delta: line.Quantity}
	}

	products, err := s.products.AdjustStock(ctx, repositories.StockAdjustment{
		Lines: deltas,
		Now:   s.clock(),
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx, "inventory.released", map[string]any{
		"actor":  cmd.ActorID,
		"lines":  len(deltas),
		"reason": cmd.Reason,
	})
	return products, nil
}

// Restock adds quantity to a single product and returns the updated snapshot.
func (s *inventoryService) Restock(ctx context.Context, cmd RestockCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Product{}, fmt.Errorf("%w: restock quantity must be positive", ErrInventoryInvalidInput)
	}

	products, err := s.products.AdjustStock(ctx, repositories.StockAdjustment{
		Lines: []repositories.StockLine{{ProductID: productID, Delta: cmd.Quantity}},
		Now:   s.clock(),
	})
	if err != nil {
		return Product{}, err
	}

	product, ok := products[productID]
	if !ok {
		return Product{}, fmt.Errorf("inventory: restocked product %s missing from result", productID)
	}

	s.logger(ctx, "inventory.restocked", map[string]any{
		"actor":    cmd.ActorID,
		"product":  productID,
		"quantity": cmd.Quantity,
	})
	return product, nil
}

func validateInventoryLines(lines []InventoryLine) ([]InventoryLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	merged := make(map[string]int64, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}
		merged[productID] += line.Quantity
	}

	out := make([]InventoryLine, 0, len(merged))
	for productID, quantity := range merged {
		out = append(out, InventoryLine{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}
