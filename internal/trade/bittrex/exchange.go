package bittrex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/internal/trade"
	"github.com/vtornik/listing-sniper/pkg/utils/decimalutils"
)

const (
	redialDelay = time.Second
	callTimeout = 10 * time.Second
)

// telemetryWSReconnects counts summary socket redials
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

// Exchange is the Bittrex trade venue.
type Exchange struct {
	http        *httpx.Client
	logger      *zap.Logger
	chat        *notify.ChatLog
	scope       *notify.Scope
	telemetry   telemetry.Provider
	markup      int
	cancelDelay time.Duration

	restURL        string
	signalRHTTPURL string
	signalRWSURL   string

	tickers  *trade.TickerBook
	accounts []*Account

	mu      sync.Mutex
	summary *signalRClient
}

func New(p Params) *Exchange {
	return &Exchange{
		http:           p.HTTP,
		logger:         p.Logger,
		chat:           p.Chat,
		scope:          p.Chat.Scoped("[bittrex]"),
		telemetry:      p.Telemetry,
		markup:         p.Markup,
		cancelDelay:    p.CancelDelay,
		restURL:        defaultRESTURL,
		signalRHTTPURL: defaultSignalRHTTPURL,
		signalRWSURL:   defaultSignalRWSURL,
		tickers:        trade.NewTickerBook(),
	}
}

func (e *Exchange) Name() string {
	return "bittrex"
}

func (e *Exchange) BuySymbols() []string {
	return []string{"BTC", "ETH"}
}

// MakePair renders the venue's quote-first naming, e.g. BTC-MANA.
func (e *Exchange) MakePair(base, quote string) string {
	return quote + "-" + base
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

	go e.runSummaryStream(ctx)
	return nil
}

func (e *Exchange) Close() {
	e.mu.Lock()
	if e.summary != nil {
		e.summary.close()
	}
	e.mu.Unlock()

	for _, a := range e.accounts {
		a.close()
	}
}

func (e *Exchange) seedTickers(ctx context.Context) error {
	var response struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Result  []struct {
			MarketName string      `json:"MarketName"`
			Ask        json.Number `json:"Ask"`
			PrevDay    json.Number `json:"PrevDay"`
		} `json:"result"`
	}
	if err := e.http.GetJSON(ctx, e.restURL+"/public/getmarketsummaries", nil, &response); err != nil {
		return fmt.Errorf("fetch market summaries: %w", err)
	}
	if !response.Success {
		return &APIError{Message: response.Message}
	}

	for _, row := range response.Result {
		ask, err := numberOrZero(row.Ask)
		if err != nil {
			e.logger.Warn("Unparsable market summary, skipping",
				zap.String("market", row.MarketName), zap.Error(err))
			continue
		}
		prevDay, err := numberOrZero(row.PrevDay)
		if err != nil {
			e.logger.Warn("Unparsable market summary, skipping",
				zap.String("market", row.MarketName), zap.Error(err))
			continue
		}

		change := decimal.Zero
		if !prevDay.IsZero() {
			change = decimalutils.ChangePct(ask, prevDay)
		}
		e.tickers.Set(row.MarketName, domain.Ticker{Price: ask, PriceChangePct: change})
	}

	e.logger.Info("Ticker seed finished",
		zap.String("exchange", e.Name()),
		zap.Int("pairs", e.tickers.Len()))
	return nil
}

// runSummaryStream keeps a SignalR subscription to market summary deltas
// alive until ctx is cancelled.
func (e *Exchange) runSummaryStream(ctx context.Context) {
	for {
		client := newSignalRClient(e.signalRHTTPURL, e.signalRWSURL, e.logger)
		if err := client.dial(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			e.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:bittrex", "stream:summary")
			e.logger.Warn("Unable to create ticker ws connection", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
			}
			continue
		}

		e.mu.Lock()
		e.summary = client
		e.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		_, err := client.call(callCtx, "SubscribeToSummaryDeltas")
		cancel()
		if err != nil {
			client.close()
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("Unable to subscribe to summary deltas", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
			}
			continue
		}

		for msg := range client.messages() {
			if msg.Method != "uS" {
				continue
			}
			for _, arg := range msg.Args {
				payload, err := decodePayload(arg)
				if err != nil {
					e.logger.Warn("Unable to decode summary delta", zap.Error(err))
					continue
				}
				e.processSummaryDelta(payload)
			}
		}

		if ctx.Err() != nil {
			return
		}
		e.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:bittrex", "stream:summary")
		e.logger.Warn("Ticker websocket closed, restarting")
	}
}

func (e *Exchange) processSummaryDelta(payload []byte) {
	var dto struct {
		Deltas []struct {
			MarketName string      `json:"M"`
			Ask        json.Number `json:"A"`
			PrevDay    json.Number `json:"PD"`
		} `json:"D"`
	}
	if err := json.Unmarshal(payload, &dto); err != nil {
		e.logger.Warn("Unable to parse summary delta", zap.Error(err))
		return
	}

	for _, d := range dto.Deltas {
		ask, askErr := numberOrZero(d.Ask)
		prevDay, prevErr := numberOrZero(d.PrevDay)
		if d.MarketName == "" || askErr != nil || prevErr != nil || ask.IsZero() || prevDay.IsZero() {
			e.logger.Warn("Incorrect ticker", zap.String("market", d.MarketName))
			continue
		}
		e.tickers.Set(d.MarketName, domain.Ticker{
			Price:          ask,
			PriceChangePct: decimalutils.ChangePct(ask, prevDay),
		})
	}
}
