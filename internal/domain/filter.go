package domain

import "github.com/shopspring/decimal"

// PriceFilter holds the per-pair precision rules a venue enforces on orders.
// Precision is a number of decimal places; zero means whole units only.
type PriceFilter struct {
	PricePrecision  int32
	AmountPrecision int32
}

// QuantizePrice rounds a price half-even to the filter's price precision.
func (f PriceFilter) QuantizePrice(p decimal.Decimal) decimal.Decimal {
	return p.RoundBank(f.PricePrecision)
}

// QuantizeAmount rounds an amount half-even to the filter's amount precision.
func (f PriceFilter) QuantizeAmount(a decimal.Decimal) decimal.Decimal {
	return a.RoundBank(f.AmountPrecision)
}
