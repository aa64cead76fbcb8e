package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Ticker is the last known market state of a trading pair on a venue.
type Ticker struct {
	Price          decimal.Decimal // best ask, or last trade when the venue has no ask
	PriceChangePct decimal.Decimal // 24h change in percent, zero when unknown
}

func (t Ticker) String() string {
	return fmt.Sprintf("price %s, 24h change %s%%", t.Price, t.PriceChangePct)
}
