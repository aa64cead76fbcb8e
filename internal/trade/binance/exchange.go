package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/internal/trade"
)

const redialDelay = time.Second

// telemetryWSReconnects counts ticker and user data stream redials
const telemetryWSReconnects = "trade.ws.reconnects"

// Params configures the venue.
type Params struct {
	HTTP        *httpx.Client
	Logger      *zap.Logger
	Chat        *notify.ChatLog
	Telemetry   telemetry.Provider
	Markup      int
	CancelDelay time.Duration
}

// Exchange is the Binance trade venue.
type Exchange struct {
	http        *httpx.Client
	logger      *zap.Logger
	chat        *notify.ChatLog
	scope       *notify.Scope
	telemetry   telemetry.Provider
	markup      int
	cancelDelay time.Duration

	restURL string
	wsURL   string

	tickers  *trade.TickerBook
	accounts []*Account

	mu         sync.Mutex
	tickerConn *websocket.Conn
}

func New(p Params) *Exchange {
	return &Exchange{
		http:        p.HTTP,
		logger:      p.Logger,
		chat:        p.Chat,
		scope:       p.Chat.Scoped("[binance]"),
		telemetry:   p.Telemetry,
		markup:      p.Markup,
		cancelDelay: p.CancelDelay,
		restURL:     defaultRESTURL,
		wsURL:       defaultWSURL,
		tickers:     trade.NewTickerBook(),
	}
}

func (e *Exchange) Name() string {
	return "binance"
}

func (e *Exchange) BuySymbols() []string {
	return []string{"BTC", "ETH", "USDT", "BNB"}
}

func (e *Exchange) MakePair(base, quote string) string {
	return base + quote
}

func (e *Exchange) Ticker(pair string) (domain.Ticker, bool) {
	return e.tickers.Get(pair)
}

func (e *Exchange) Accounts() []*trade.Account {
	out := make([]*trade.Account, 0, len(e.accounts))
	for _, a := range e.accounts {
		out = append(out, a.Account)
	}
	return out
}

// Init connects every credential, seeds the ticker book over REST and
// starts the ticker stream. A failing credential is reported and skipped, a
// failing ticker seed aborts.
func (e *Exchange) Init(ctx context.Context, credentials []domain.Credential) error {
	e.logger.Info("Init accounts started", zap.String("exchange", e.Name()))
	for _, credential := range credentials {
		account, err := e.initAccount(ctx, credential)
		if err != nil {
			e.logger.Warn("Unable to init client",
				zap.String("exchange", e.Name()),
				zap.String("owner", credential.Owner),
				zap.Error(err))
			e.scope.Say(notify.TypeWarning,
				fmt.Sprintf("Unable to init %s client (%T): %v", credential.Owner, err, err))
			continue
		}
		e.accounts = append(e.accounts, account)
	}
	e.logger.Info("Init accounts finished",
		zap.String("exchange", e.Name()),
		zap.Int("accounts", len(e.accounts)))

	if err := e.seedTickers(ctx); err != nil {
		return err
	}

	go e.runTickerStream(ctx)
	return nil
}

// Close shuts the venue's websockets down.
func (e *Exchange) Close() {
	e.mu.Lock()
	if e.tickerConn != nil {
		e.tickerConn.Close()
	}
	e.mu.Unlock()

	for _, a := range e.accounts {
		a.close()
	}
}

type tickerDTO struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	AskPrice           string `json:"askPrice"`
}

func (e *Exchange) seedTickers(ctx context.Context) error {
	var rows []tickerDTO
	if err := e.http.GetJSON(ctx, e.restURL+"/"+publicVersion+"/ticker/24hr", nil, &rows); err != nil {
		return fmt.Errorf("fetch 24h tickers: %w", err)
	}

	for _, row := range rows {
		price, err := decimal.NewFromString(row.AskPrice)
		if err != nil {
			return fmt.Errorf("parse %s ask price: %w", row.Symbol, err)
		}
		change, err := decimal.NewFromString(row.PriceChangePercent)
		if err != nil {
			return fmt.Errorf("parse %s price change: %w", row.Symbol, err)
		}
		e.tickers.Set(row.Symbol, domain.Ticker{Price: price, PriceChangePct: change})
	}

	e.logger.Info("Ticker seed finished",
		zap.String("exchange", e.Name()),
		zap.Int("pairs", e.tickers.Len()))
	return nil
}

type wsTickerDTO struct {
	Symbol             string `json:"s"`
	PriceChangePercent string `json:"P"`
	AskPrice           string `json:"a"`
}

// runTickerStream keeps the all-market ticker stream alive until ctx is
// cancelled, folding every update into the ticker book.
func (e *Exchange) runTickerStream(ctx context.Context) {
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.wsURL+"/!ticker@arr", nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:binance", "stream:ticker")
			e.logger.Warn("Unable to create ticker ws connection", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
			}
			continue
		}

		e.mu.Lock()
		e.tickerConn = conn
		e.mu.Unlock()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:binance", "stream:ticker")
				e.logger.Warn("Ticker websocket closed, restarting", zap.Error(err))
				break
			}
			e.processTickerUpdate(msg)
		}
	}
}

func (e *Exchange) processTickerUpdate(msg []byte) {
	var updates []wsTickerDTO
	if err := json.Unmarshal(msg, &updates); err != nil {
		e.logger.Warn("Unable to parse ticker update", zap.Error(err))
		return
	}

	for _, u := range updates {
		price, err := decimal.NewFromString(u.AskPrice)
		if err != nil {
			continue
		}
		change, err := decimal.NewFromString(u.PriceChangePercent)
		if err != nil {
			continue
		}
		e.tickers.Set(u.Symbol, domain.Ticker{Price: price, PriceChangePct: change})
	}
}
