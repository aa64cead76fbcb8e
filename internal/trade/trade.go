// Package trade hosts the buy side of the sniper: venue connectors with
// authenticated accounts, live ticker books and the fan-out that turns a
// newly listed coin into limit buy orders on every venue except the one
// that noticed it.
package trade

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vtornik/listing-sniper/internal/domain"
)

// TriggerView is the slice of a trigger exchange the buy path needs: its
// name, so the fan-out can skip the venue that reported the coin, and the
// configured buy amount per quote asset.
type TriggerView interface {
	Name() string
	BuyAmountPercent(quoteSymbol string) int
}

// OrderAPI is the venue specific order surface of one account.
type OrderAPI interface {
	// CreateBuyOrder places a limit buy of qty base units funded from
	// quoteAmount and returns the venue order id.
	CreateBuyOrder(ctx context.Context, pair string, qty int64, quoteAmount decimal.Decimal) (string, error)

	// CancelOrder cancels an order by id and returns the venue's raw result.
	// pair is required by venues that key orders by market.
	CancelOrder(ctx context.Context, orderID, pair string) (string, error)

	// OpenOrders lists the resting orders of the account.
	OpenOrders(ctx context.Context) ([]domain.OpenOrder, error)
}

// Exchange is one trade venue: pair naming, supported quote assets, live
// tickers and the funded accounts behind it.
type Exchange interface {
	Name() string

	// BuySymbols returns the quote assets the venue buys against.
	BuySymbols() []string

	// MakePair renders a pair the way the venue spells it.
	MakePair(base, quote string) string

	// Ticker returns the last known ticker for pair.
	Ticker(pair string) (domain.Ticker, bool)

	Accounts() []*Account

	// Init connects the venue: accounts, balance snapshots, the ticker seed
	// and the streaming tasks. Streams run until ctx is cancelled.
	Init(ctx context.Context, credentials []domain.Credential) error

	// Close tears down the venue's network resources.
	Close()
}
