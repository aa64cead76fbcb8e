package decimalutils

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Norm renders a decimal for humans: integral values print without a point,
// everything else is rounded half-even to 8 decimal places and stripped of
// trailing zeros. Values that vanish at 8 places print as "0".
func Norm(d decimal.Decimal) string {
	if d.IsInteger() {
		return d.Truncate(0).String()
	}
	return d.RoundBank(8).String()
}

// ChangePct calculates the percent difference between curr and prev,
// rounded half-even to two decimal places. e.g. 0.5 -> 0.55 => 10
func ChangePct(curr, prev decimal.Decimal) decimal.Decimal {
	// Guard against divide by zero
	if prev.IsZero() {
		return decimal.Zero
	}
	return curr.Div(prev).Sub(decimal.NewFromInt(1)).Mul(hundred).RoundBank(2)
}

// ApplyPct returns value scaled by pct percent.
func ApplyPct(value decimal.Decimal, pct int) decimal.Decimal {
	return value.Mul(decimal.NewFromInt(int64(pct))).Div(hundred)
}
