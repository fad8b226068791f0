package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/food-market/api/internal/domain"
)

// ErrPricingInvalidInput signals the pricing command could not be evaluated.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// PricingServiceDeps bundles collaborators required to construct the pricing service.
type PricingServiceDeps struct {
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type pricingService struct {
	logger func(context.Context, string, map[string]any)
}

var _ PricingService = (*pricingService)(nil)

// NewPricingService constructs the pricing service. All arithmetic is integer
// minor units; floating point never enters a price.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &pricingService{logger: logger}, nil
}

func (s *pricingService) Price(ctx context.Context, cmd PriceOrderCommand) (PricingBreakdown, error) {
	if len(cmd.Lines) == 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}
	if cmd.DiscountAmount < 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: discount must not be negative", ErrPricingInvalidInput)
	}
	if cmd.TaxRateBps < 0 || cmd.TaxRateBps >= domain.BasisPointDenominator {
		return PricingBreakdown{}, fmt.Errorf("%w: tax rate out of range", ErrPricingInvalidInput)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		return PricingBreakdown{}, fmt.Errorf("%w: currency is required", ErrPricingInvalidInput)
	}

	breakdown := PricingBreakdown{
		Currency: currency,
		Items:    make([]ItemPricingBreakdown, 0, len(cmd.Lines)),
	}

	for _, line := range cmd.Lines {
		if line.Quantity <= 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: quantity for %s must be positive", ErrPricingInvalidInput, line.Product.ID)
		}
		if line.Product.UnitPrice < 0 {
			return PricingBreakdown{}, fmt.Errorf("%w: product %s has a negative price", ErrPricingInvalidInput, line.Product.ID)
		}

		subtotal, err := domain.MultiplyQuantity(line.Product.UnitPrice, line.Quantity)
		if err != nil {
			return PricingBreakdown{}, fmt.Errorf("%w: line %s: %v", ErrPricingInvalidInput, line.Product.ID, err)
		}

		breakdown.Items = append(breakdown.Items, ItemPricingBreakdown{
			ProductID:   line.Product.ID,
			ProductName: line.Product.Name,
			Unit:        line.Product.Unit,
			Quantity:    line.Quantity,
			UnitPrice:   line.Product.UnitPrice,
			Subtotal:    subtotal,
		})
		breakdown.Subtotal += subtotal
	}

	breakdown.Discount = cmd.DiscountAmount

	// A discount larger than the subtotal zeroes the order rather than
	// producing a negative total.
	taxable := domain.ClampNonNegative(breakdown.Subtotal - breakdown.Discount)
	breakdown.Tax = domain.ApplyBasisPoints(taxable, cmd.TaxRateBps)
	breakdown.Total = taxable + breakdown.Tax

	s.logger(ctx, "pricing.evaluated", map[string]any{
		"lines":    len(breakdown.Items),
		"subtotal": breakdown.Subtotal,
		"total":    breakdown.Total,
		"currency": currency,
	})
	return breakdown, nil
}
