package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/pkg/utils/decimalutils"
)

// AccountParams configures the venue independent part of an account.
type AccountParams struct {
	Exchange    string
	Credential  domain.Credential
	Tickers     *TickerBook
	Orders      OrderAPI
	CancelDelay time.Duration
	Logger      *zap.Logger
	Chat        *notify.ChatLog
	Telemetry   telemetry.Provider
}

// Account is one funded account on a venue. The venue connector seeds and
// updates its balances; the generic buy and cancel flow lives here.
type Account struct {
	exchange    string
	credential  domain.Credential
	tickers     *TickerBook
	orders      OrderAPI
	cancelDelay time.Duration

	mu       sync.RWMutex
	balances map[string]domain.Balance

	logger    *zap.Logger
	chat      *notify.Scope
	telemetry telemetry.Provider
}

func NewAccount(p AccountParams) *Account {
	return &Account{
		exchange:    p.Exchange,
		credential:  p.Credential,
		tickers:     p.Tickers,
		orders:      p.Orders,
		cancelDelay: p.CancelDelay,
		balances:    make(map[string]domain.Balance),
		logger: p.Logger.With(
			zap.String("exchange", p.Exchange),
			zap.String("owner", p.Credential.Owner),
		),
		chat:      p.Chat.Scoped(fmt.Sprintf("[%s][%s]", p.Exchange, p.Credential.Owner)),
		telemetry: p.Telemetry,
	}
}

// Owner returns the owner name from the account's credential.
func (a *Account) Owner() string {
	return a.credential.Owner
}

// Exchange returns the name of the venue the account lives on.
func (a *Account) Exchange() string {
	return a.exchange
}

// Buy sizes and places a limit buy of pair funded from the quote asset
// balance. Every failure is terminal for this attempt and is reported
// through logs and chat, never returned.
func (a *Account) Buy(ctx context.Context, trigger TriggerView, pair, quoteSymbol string) {
	pct := trigger.BuyAmountPercent(quoteSymbol)
	if pct <= 0 {
		a.logger.Warn("No buy amount configured, skipping",
			zap.String("pair", pair),
			zap.String("quote", quoteSymbol),
			zap.String("trigger", trigger.Name()))
		return
	}

	balance, ok := a.Balance(quoteSymbol)
	if !ok {
		a.logger.Error("No balance for quote asset",
			zap.String("pair", pair),
			zap.String("quote", quoteSymbol),
			zap.Error(domain.ErrNoBalance))
		return
	}

	ticker, ok := a.tickers.Get(pair)
	if !ok || ticker.Price.IsZero() {
		a.logger.Error("No usable ticker for pair",
			zap.String("pair", pair),
			zap.Error(domain.ErrNoTicker))
		return
	}

	quoteAmount := decimalutils.ApplyPct(balance.Free, pct)
	dirtyQty := quoteAmount.Div(ticker.Price)
	qty := dirtyQty.IntPart()

	a.logger.Info("Buy sizing",
		zap.String("pair", pair),
		zap.String("quote", quoteSymbol),
		zap.String("quote_amount", quoteAmount.String()),
		zap.String("dirty_qty", dirtyQty.String()),
		zap.Int64("qty", qty))

	orderID, err := a.orders.CreateBuyOrder(ctx, pair, qty, quoteAmount)
	if err != nil {
		a.telemetry.IncrementCounter(telemetryOrdersFailed, 1, "exchange:"+a.exchange)
		a.logger.Error("Order create error", zap.String("pair", pair), zap.Error(err))
		a.chat.Say(notify.TypeWarning, fmt.Sprintf("[%s] Unable to create order (%T): %v", pair, err, err))
		return
	}

	a.telemetry.IncrementCounter(telemetryOrdersPlaced, 1, "exchange:"+a.exchange)

	go a.cancelAfterDelay(ctx, orderID, pair)

	a.logger.Info("Placed order", zap.String("pair", pair), zap.String("order_id", orderID))
	a.chat.Say(notify.TypeOrder, fmt.Sprintf("[%s] New buy order with id %s placed: %d %s for %s %s",
		pair, orderID, qty, pair, quoteAmount, quoteSymbol))
}

// cancelAfterDelay cancels the order once the configured delay passed, so a
// filled order keeps its coins and an unfilled one stops chasing the pump.
func (a *Account) cancelAfterDelay(ctx context.Context, orderID, pair string) {
	timer := time.NewTimer(a.cancelDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	result, err := a.orders.CancelOrder(ctx, orderID, pair)
	if err != nil {
		a.logger.Error("Order cancel error",
			zap.String("pair", pair),
			zap.String("order_id", orderID),
			zap.Error(err))
		a.chat.Say(notify.TypeWarning, fmt.Sprintf("%s order cancel error (%T): %v", orderID, err, err))
		return
	}

	a.telemetry.IncrementCounter(telemetryOrdersCancelled, 1, "exchange:"+a.exchange)

	a.logger.Info("Order cancel result",
		zap.String("pair", pair),
		zap.String("order_id", orderID),
		zap.String("result", result))
	a.chat.Say(notify.TypeOrder, fmt.Sprintf("%s order cancel result: %s", orderID, result))
}

// CancelOrder cancels one order through the venue API.
func (a *Account) CancelOrder(ctx context.Context, orderID, pair string) (string, error) {
	return a.orders.CancelOrder(ctx, orderID, pair)
}

// OpenOrders lists the account's resting orders through the venue API.
func (a *Account) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	return a.orders.OpenOrders(ctx)
}

// Balance returns the tracked balance of one asset.
func (a *Account) Balance(symbol string) (domain.Balance, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	balance, ok := a.balances[symbol]
	return balance, ok
}

// Balances returns a copy of all tracked balances.
func (a *Account) Balances() map[string]domain.Balance {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]domain.Balance, len(a.balances))
	for symbol, balance := range a.balances {
		out[symbol] = balance
	}
	return out
}

// UpdateBalance stores the balance of one asset and logs the transition.
// Unchanged balances are ignored.
func (a *Account) UpdateBalance(symbol string, balance domain.Balance) {
	a.mu.Lock()
	previous, existed := a.balances[symbol]
	if existed && previous.Equal(balance) {
		a.mu.Unlock()
		return
	}
	a.balances[symbol] = balance
	a.mu.Unlock()

	a.logger.Info("Balance update",
		zap.String("symbol", symbol),
		zap.Stringer("from", previous),
		zap.Stringer("to", balance))
}
