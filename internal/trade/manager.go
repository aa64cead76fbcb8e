package trade

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
)

// ManagerParams configures the trade manager.
type ManagerParams struct {
	// Available lists every known venue connector. Only venues that receive
	// credentials during Init become active.
	Available []Exchange

	// Debug disables order placement while keeping the full decision trail.
	Debug bool

	Logger    *zap.Logger
	Chat      *notify.ChatLog
	Telemetry telemetry.Provider
}

// Manager routes newly listed coins to every active trade venue. Init must
// complete before the first ProcessCoin call; afterwards the active set is
// read only.
type Manager struct {
	available []Exchange
	active    []Exchange
	debug     bool

	logger    *zap.Logger
	chat      *notify.ChatLog
	scope     *notify.Scope
	telemetry telemetry.Provider
}

func NewManager(p ManagerParams) *Manager {
	return &Manager{
		available: p.Available,
		debug:     p.Debug,
		logger:    p.Logger,
		chat:      p.Chat,
		scope:     p.Chat.Scoped("[trade_mgr]"),
		telemetry: p.Telemetry,
	}
}

// Init distributes credentials to their venues and connects each venue that
// received at least one. credentials must be sorted by exchange name. A
// venue that fails to connect aborts the whole startup.
func (m *Manager) Init(ctx context.Context, credentials []domain.Credential) error {
	for start := 0; start < len(credentials); {
		end := start
		for end < len(credentials) && credentials[end].Exchange == credentials[start].Exchange {
			end++
		}
		name := credentials[start].Exchange
		group := credentials[start:end]
		start = end

		exchange := m.findExchange(name)
		if exchange == nil {
			m.logger.Warn("Unable to find trade exchange", zap.String("name", name))
			continue
		}

		if err := exchange.Init(ctx, group); err != nil {
			return fmt.Errorf("init trade exchange %s: %w", name, err)
		}
		m.active = append(m.active, exchange)
	}
	return nil
}

// Close tears down every active venue.
func (m *Manager) Close() {
	for _, e := range m.active {
		m.logger.Info("Closing session", zap.String("exchange", e.Name()))
		e.Close()
	}
}

// Exchanges returns the venues that came up with credentials.
func (m *Manager) Exchanges() []Exchange {
	out := make([]Exchange, len(m.active))
	copy(out, m.active)
	return out
}

func (m *Manager) findExchange(name string) Exchange {
	for _, e := range m.available {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// ProcessCoin fans a new coin out to every active venue except the one that
// reported it. It returns once every venue finished its pair checks; the
// actual orders run in the background per account.
func (m *Manager) ProcessCoin(ctx context.Context, trigger TriggerView, coin domain.Symbol, priceChangeLimit int) {
	span, ctx := m.telemetry.StartSpan(ctx, telemetrySpanProcessCoin)
	defer span.Finish()
	span.SetTag("code", coin.Code)
	span.SetTag("trigger", trigger.Name())

	others := make([]Exchange, 0, len(m.active))
	for _, e := range m.active {
		if e.Name() != trigger.Name() {
			others = append(others, e)
		}
	}

	if len(others) == 0 {
		m.scope.Say(notify.TypeWarning, fmt.Sprintf("coin %s exists only %s, nothing to buy :(", coin, trigger.Name()))
		return
	}

	if m.debug {
		m.scope.Say(notify.TypeWarning, "debug mode, not buying!")
		return
	}

	m.telemetry.IncrementCounter(telemetryCoinsRouted, 1, "code:"+coin.Code)

	var g errgroup.Group
	for _, e := range others {
		e := e
		g.Go(func() error {
			m.buyOnExchange(ctx, e, trigger, coin.Code, priceChangeLimit)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) buyOnExchange(ctx context.Context, e Exchange, trigger TriggerView, baseSymbol string, priceChangeLimit int) {
	var g errgroup.Group
	for _, quoteSymbol := range e.BuySymbols() {
		quoteSymbol := quoteSymbol
		g.Go(func() error {
			m.buyPair(ctx, e, trigger, e.MakePair(baseSymbol, quoteSymbol), quoteSymbol, priceChangeLimit)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) buyPair(ctx context.Context, e Exchange, trigger TriggerView, pair, quoteSymbol string, priceChangeLimit int) {
	scope := m.chat.Scoped("[" + e.Name() + "]")

	ticker, ok := e.Ticker(pair)
	if !ok {
		scope.Say(notify.TypeWarning, fmt.Sprintf("Pair %s not found, skipping...", pair))
		return
	}

	m.logger.Info("Buy amount percent",
		zap.String("trigger", trigger.Name()),
		zap.String("quote", quoteSymbol),
		zap.Int("percent", trigger.BuyAmountPercent(quoteSymbol)))

	m.logger.Info("Pair ticker",
		zap.String("exchange", e.Name()),
		zap.String("pair", pair),
		zap.Stringer("ticker", ticker),
		zap.Int("limit", priceChangeLimit))
	scope.Say(notify.TypeInfo, fmt.Sprintf("Pair %s ticker: %s, limit is %d", pair, ticker, priceChangeLimit))

	if ticker.PriceChangePct.GreaterThan(decimal.NewFromInt(int64(priceChangeLimit))) {
		scope.Say(notify.TypeWarning, fmt.Sprintf("Pair %s 24hr price change %s%% > %d%%, skipping...",
			pair, ticker.PriceChangePct, priceChangeLimit))
		return
	}

	for _, account := range e.Accounts() {
		go account.Buy(ctx, trigger, pair, quoteSymbol)
	}
}
