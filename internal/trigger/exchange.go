package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/coinmeta"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/internal/trade"
)

// streamRestartDelay separates two sessions of the same stream part.
const streamRestartDelay = time.Second

// Router receives every fresh buy-capable coin and places the orders.
type Router interface {
	ProcessCoin(ctx context.Context, trigger trade.TriggerView, coin domain.Symbol, priceChangeLimit int)
}

// Caller rings the configured phone numbers.
type Caller interface {
	CallAll(ctx context.Context)
}

// MetaLookup resolves a coin code to its display name and info page.
type MetaLookup interface {
	Lookup(ctx context.Context, code string) (coinmeta.Meta, bool)
}

// ExchangeParams configures one trigger exchange.
type ExchangeParams struct {
	Name string

	// BuyAmounts maps a quote asset to the percent of the free balance a
	// buy against it may spend.
	BuyAmounts map[string]int

	Parts   []Part
	Streams []StreamPart

	Router Router
	Caller Caller
	Meta   MetaLookup

	// Debug suppresses phone calls. Order placement is suppressed by the
	// router's own debug gate.
	Debug bool

	// DisableBuy keeps alerts and calls but never routes a coin to the
	// buy side.
	DisableBuy bool

	Logger    *zap.Logger
	Chat      *notify.ChatLog
	Telemetry telemetry.Provider
}

// Exchange watches one venue through its parts and keeps the novelty sets
// that decide which codes count as fresh listings. It implements
// trade.TriggerView so the buy fan-out can skip the venue that reported
// the coin.
type Exchange struct {
	name       string
	buyAmounts map[string]int

	parts   []Part
	streams []StreamPart

	router Router
	caller Caller
	meta   MetaLookup

	debug      bool
	disableBuy bool

	logger    *zap.Logger
	chat      *notify.ChatLog
	scope     *notify.Scope
	telemetry telemetry.Provider

	mu        sync.Mutex
	known     map[string]struct{}
	callCoins map[string]struct{}
}

// Deps bundles what every trigger exchange needs from the application. Venue
// packages build their parts from it and pass the rest through.
type Deps struct {
	HTTP   *httpx.Client
	Router Router
	Caller Caller
	Meta   MetaLookup

	Debug      bool
	DisableBuy bool

	// DefaultLimit is the price change ceiling parts use unless their venue
	// overrides it.
	DefaultLimit int

	Logger    *zap.Logger
	Chat      *notify.ChatLog
	Telemetry telemetry.Provider
}

// NewExchange wires a venue's parts to the shared dependencies.
func (d Deps) NewExchange(name string, buyAmounts map[string]int, parts []Part, streams []StreamPart) *Exchange {
	return NewExchange(ExchangeParams{
		Name:       name,
		BuyAmounts: buyAmounts,
		Parts:      parts,
		Streams:    streams,
		Router:     d.Router,
		Caller:     d.Caller,
		Meta:       d.Meta,
		Debug:      d.Debug,
		DisableBuy: d.DisableBuy,
		Logger:     d.Logger,
		Chat:       d.Chat,
		Telemetry:  d.Telemetry,
	})
}

func NewExchange(p ExchangeParams) *Exchange {
	return &Exchange{
		name:       p.Name,
		buyAmounts: p.BuyAmounts,
		parts:      p.Parts,
		streams:    p.Streams,
		router:     p.Router,
		caller:     p.Caller,
		meta:       p.Meta,
		debug:      p.Debug,
		disableBuy: p.DisableBuy,
		logger:     p.Logger.With(zap.String("trigger", p.Name)),
		chat:       p.Chat,
		scope:      p.Chat.Scoped("[" + p.Name + "]"),
		telemetry:  p.Telemetry,
		known:      map[string]struct{}{},
		callCoins:  map[string]struct{}{},
	}
}

func (e *Exchange) Name() string { return e.name }

// BuyAmountPercent returns the configured buy percent for a quote asset,
// zero when the venue does not buy against it.
func (e *Exchange) BuyAmountPercent(quoteSymbol string) int {
	return e.buyAmounts[quoteSymbol]
}

// PartCount returns how many observation channels the exchange schedules.
func (e *Exchange) PartCount() int { return len(e.parts) + len(e.streams) }

// BuyAmounts returns a copy of the venue's buy percents per quote asset.
func (e *Exchange) BuyAmounts() map[string]int {
	out := make(map[string]int, len(e.buyAmounts))
	for quote, pct := range e.buyAmounts {
		out[quote] = pct
	}
	return out
}

// PartSources lists the sources of the scheduled parts, polled ones first.
// After Init it reflects only the parts that survived seeding.
func (e *Exchange) PartSources() []string {
	out := make([]string, 0, len(e.parts)+len(e.streams))
	for _, p := range e.parts {
		out = append(out, string(p.Source()))
	}
	for _, p := range e.streams {
		out = append(out, string(p.Source()))
	}
	return out
}

// Init polls every part once to seed the novelty sets. A part that cannot
// produce its initial snapshot is reported and dropped for the run, so a
// later poll success cannot flood the pipeline with its whole catalog.
func (e *Exchange) Init(ctx context.Context) {
	kept := e.parts[:0]
	var dropped []string

	for _, part := range e.parts {
		coins, err := part.Get(ctx)
		if err != nil {
			e.logger.Warn("Unable to init coins",
				zap.String("part", string(part.Source())),
				zap.Error(err))
			e.scope.Say(notify.TypeWarning,
				fmt.Sprintf("%s: unable to init coins; %T, %v", part.Source(), err, err))
			dropped = append(dropped, string(part.Source()))
			continue
		}

		added := e.seed(part, coins)
		e.logger.Info("Initial coins added",
			zap.String("part", string(part.Source())),
			zap.Int("count", added))
		kept = append(kept, part)
	}

	if len(dropped) > 0 {
		e.logger.Warn("Excluded parts", zap.Strings("parts", dropped))
	}
	e.parts = kept
}

// Run schedules the check loop of every surviving part. Loops run until ctx
// is cancelled.
func (e *Exchange) Run(ctx context.Context) {
	for _, part := range e.parts {
		go e.checkLoop(ctx, part)
	}
	for _, part := range e.streams {
		go e.streamLoop(ctx, part)
	}
}

func (e *Exchange) checkLoop(ctx context.Context, part Part) {
	logger := e.logger.With(zap.String("part", string(part.Source())))

	for sleep(ctx, part.Delay()) {
		start := time.Now()
		coins, err := part.Get(ctx)
		e.telemetry.Timing(telemetryPollDuration, time.Since(start),
			"exchange:"+e.name, "part:"+string(part.Source()))
		if err != nil {
			e.handlePollError(ctx, logger, part, err)
			continue
		}
		e.ProcessCoins(ctx, part, coins)
	}
}

func (e *Exchange) handlePollError(ctx context.Context, logger *zap.Logger, part Part, err error) {
	e.telemetry.IncrementCounter(telemetryPollErrors, 1, "exchange:"+e.name, "part:"+string(part.Source()))

	var tooMany *httpx.TooManyRequestsError
	var partErr *PartError
	switch {
	case errors.As(err, &tooMany):
		pause := 10 * time.Minute
		if tooMany.RetryAfter > 0 {
			pause = time.Duration(tooMany.RetryAfter+60) * time.Second
		}
		logger.Error("Too many requests",
			zap.Int("retry_after", tooMany.RetryAfter),
			zap.Duration("pause", pause))
		e.scope.Say(notify.TypeWarning,
			fmt.Sprintf("%s: too many requests, retry after %d (%d) seconds",
				part.Source(), tooMany.RetryAfter, int(pause.Seconds())))
		sleep(ctx, pause)
	case errors.As(err, &partErr):
		logger.Warn("Unexpected response", zap.Error(err))
	default:
		logger.Error(fmt.Sprintf("Unknown error (%T): %v", err, err))
	}
}

func (e *Exchange) streamLoop(ctx context.Context, part StreamPart) {
	logger := e.logger.With(zap.String("part", string(part.Source())))

	for {
		err := part.Stream(ctx, func(coins []domain.Symbol) {
			e.ProcessCoins(ctx, part, coins)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("Stream closed, restarting", zap.Error(err))
		} else {
			logger.Warn("Stream ended, restarting")
		}
		if !sleep(ctx, streamRestartDelay) {
			return
		}
	}
}

// ProcessCoins diffs a batch against the part's novelty set and reacts to
// the fresh ones: chat alert per coin, one phone fan-out per batch, and the
// buy routing when the part asks for it.
func (e *Exchange) ProcessCoins(ctx context.Context, part PartView, coins []domain.Symbol) {
	fresh := e.track(part, coins)
	if len(fresh) == 0 {
		return
	}

	lines := make([]string, len(fresh))
	for i, coin := range fresh {
		lines[i] = coin.String()
	}
	e.logger.Info(fmt.Sprintf("got %d new coins: %s", len(fresh), strings.Join(lines, "\n")),
		zap.String("part", string(part.Source())))
	e.telemetry.IncrementCounter(telemetryNewCoins, int64(len(fresh)), "exchange:"+e.name)
	e.telemetry.Gauge(telemetryTrackedCoins, float64(e.coinCount()), "exchange:"+e.name)

	for _, coin := range fresh {
		e.announce(ctx, coin)
	}

	if !e.debug && part.Actions().Has(ActionCall) {
		go e.caller.CallAll(ctx)
	}

	if e.disableBuy || !part.Actions().Has(ActionBuy) {
		return
	}
	for _, coin := range fresh {
		e.router.ProcessCoin(ctx, e, coin, part.PriceChangeLimit())
	}
}

// track records the batch in the set matching the part kind and returns the
// coins that were not excluded and not seen before.
func (e *Exchange) track(part PartView, coins []domain.Symbol) []domain.Symbol {
	target := e.known
	if part.Actions().CallOnly() {
		target = e.callCoins
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var fresh []domain.Symbol
	for _, coin := range coins {
		if domain.Excluded(coin.Code) {
			continue
		}
		if _, seen := target[coin.Code]; seen {
			continue
		}
		target[coin.Code] = struct{}{}
		fresh = append(fresh, coin)
	}
	return fresh
}

func (e *Exchange) seed(part Part, coins []domain.Symbol) int {
	target := e.known
	if part.Actions().CallOnly() {
		target = e.callCoins
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0
	for _, coin := range coins {
		if domain.Excluded(coin.Code) {
			continue
		}
		if _, seen := target[coin.Code]; !seen {
			added++
		}
		target[coin.Code] = struct{}{}
	}
	return added
}

func (e *Exchange) announce(ctx context.Context, coin domain.Symbol) {
	title := "<b>" + coin.Code + "</b>"
	if meta, ok := e.meta.Lookup(ctx, coin.Code); ok {
		title = fmt.Sprintf("%s (%s):\n%s#markets", meta.Name, coin.Code, meta.URL)
	}

	info := string(coin.Source)
	if coin.URL != "" {
		info += ", " + coin.URL
	}

	e.scope.Post(notify.Event{
		Type: notify.TypeListing,
		Text: fmt.Sprintf("listed %s (%s)", title, info),
		Raw:  true,
	})
}

// DropCoin forgets a code so the next sighting counts as a listing again.
// It reports whether any set contained the code.
func (e *Exchange) DropCoin(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, hadKnown := e.known[code]
	_, hadCall := e.callCoins[code]
	delete(e.known, code)
	delete(e.callCoins, code)
	return hadKnown || hadCall
}

func (e *Exchange) coinCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.known) + len(e.callCoins)
}

// Knows reports whether the code is tracked by either novelty set.
func (e *Exchange) Knows(code string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, known := e.known[code]
	if known {
		return true
	}
	_, call := e.callCoins[code]
	return call
}
