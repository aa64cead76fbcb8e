package domain

// OrderSide represents all possible order sides
type OrderSide string

const (
	// SideBuy represents a buy order
	SideBuy OrderSide = "BUY"
	// SideSell represents a sell order
	SideSell OrderSide = "SELL"
)

// OpenOrder references a resting order on a venue with just enough identity
// to cancel it.
type OpenOrder struct {
	ID   string
	Pair string
}
