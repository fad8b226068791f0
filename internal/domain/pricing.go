package domain

// PricingBreakdown captures the aggregated monetary results of pricing an order.
type PricingBreakdown struct {
	Currency string
	Subtotal int64
	Discount int64
	Tax      int64
	Total    int64
	Items    []ItemPricingBreakdown
	Metadata map[string]any
}

// ItemPricingBreakdown stores the per-line pricing outputs after running the calculator.
type ItemPricingBreakdown struct {
	ProductID   string
	ProductName string
	Unit        string
	Quantity    int64
	UnitPrice   int64
	Subtotal    int64
}

// Totals converts the breakdown into the rolled-up order totals.
func (p PricingBreakdown) Totals() OrderTotals {
	return OrderTotals{
		Subtotal: p.Subtotal,
		Discount: p.Discount,
		Tax:      p.Tax,
		Total:    p.Total,
	}
}
