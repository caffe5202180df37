package domain

import "github.com/shopspring/decimal"

// Subtotal returns quantity × price for the line.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// TotalOf sums the line subtotals, rounded to cents.
func TotalOf(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total.Round(2)
}

// Recalculate sets TotalAmount from the current items.
func (o *Order) Recalculate() {
	if o == nil {
		return
	}
	o.TotalAmount = TotalOf(o.Items)
}

// ProfitMargin derives the margin percentage of selling over cost, or zero when cost is zero.
func ProfitMargin(cost, selling decimal.Decimal) decimal.Decimal {
	if cost.IsZero() {
		return decimal.Zero
	}
	return selling.Sub(cost).Div(cost).Mul(decimal.NewFromInt(100)).Round(2)
}
