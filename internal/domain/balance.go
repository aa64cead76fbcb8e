package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Balance is a single-asset account balance split into spendable and
// order-locked funds.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

func (b Balance) String() string {
	return fmt.Sprintf("{free %s, locked %s}", b.Free, b.Locked)
}

// Equal reports whether both legs match.
func (b Balance) Equal(other Balance) bool {
	return b.Free.Equal(other.Free) && b.Locked.Equal(other.Locked)
}

// Total returns free plus locked funds.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}
