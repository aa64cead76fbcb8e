package huobi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
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
	"github.com/vtornik/listing-sniper/pkg/utils/decimalutils"
)

const (
	defaultMarketWSURL  = "wss://api.huobi.pro/ws"
	defaultAccountWSURL = "wss://api.huobi.pro/ws/v1"

	redialDelay           = time.Second
	filterRefreshInterval = time.Hour
)

// telemetryWSReconnects counts market and account stream redials
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

// Exchange is the Huobi trade venue.
type Exchange struct {
	http        *httpx.Client
	logger      *zap.Logger
	chat        *notify.ChatLog
	scope       *notify.Scope
	telemetry   telemetry.Provider
	markup      int
	cancelDelay time.Duration

	restURL      string
	marketWSURL  string
	accountWSURL string

	tickers  *trade.TickerBook
	filters  *trade.FilterBook
	accounts []*Account

	mu         sync.Mutex
	tickerConn *websocket.Conn
}

func New(p Params) *Exchange {
	return &Exchange{
		http:         p.HTTP,
		logger:       p.Logger,
		chat:         p.Chat,
		scope:        p.Chat.Scoped("[huobi]"),
		telemetry:    p.Telemetry,
		markup:       p.Markup,
		cancelDelay:  p.CancelDelay,
		restURL:      defaultRESTURL,
		marketWSURL:  defaultMarketWSURL,
		accountWSURL: defaultAccountWSURL,
		tickers:      trade.NewTickerBook(),
		filters:      trade.NewFilterBook(),
	}
}

func (e *Exchange) Name() string {
	return "huobi"
}

func (e *Exchange) BuySymbols() []string {
	return []string{"BTC", "ETH"}
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

	if err := e.seedPriceFilters(ctx); err != nil {
		return fmt.Errorf("seed price filters: %w", err)
	}
	if err := e.seedTickers(ctx); err != nil {
		return err
	}

	go e.runTickerStream(ctx)
	go e.runFilterRefresh(ctx)
	return nil
}

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

func (e *Exchange) seedPriceFilters(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
		Data   []struct {
			Symbol          string `json:"symbol"`
			PricePrecision  int32  `json:"price-precision"`
			AmountPrecision int32  `json:"amount-precision"`
		} `json:"data"`
	}
	if err := e.http.GetJSON(ctx, e.restURL+"/v1/common/symbols", nil, &response); err != nil {
		return err
	}

	filters := make(map[string]domain.PriceFilter, len(response.Data))
	for _, row := range response.Data {
		filters[strings.ToUpper(row.Symbol)] = domain.PriceFilter{
			PricePrecision:  row.PricePrecision,
			AmountPrecision: row.AmountPrecision,
		}
	}
	e.filters.Replace(filters)

	e.logger.Info("Price filters updated",
		zap.String("exchange", e.Name()),
		zap.Int("pairs", e.filters.Len()))
	return nil
}

// runFilterRefresh re-reads the symbol precision rules hourly so fresh
// listings get filters without a restart.
func (e *Exchange) runFilterRefresh(ctx context.Context) {
	ticker := time.NewTicker(filterRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := e.seedPriceFilters(ctx); err != nil {
			e.logger.Warn("Unable to refresh price filters", zap.Error(err))
		}
	}
}

// tickerRow is one market ticker, shared by the REST seed and the stream.
type tickerRow struct {
	Symbol string      `json:"symbol"`
	Open   json.Number `json:"open"`
	Close  json.Number `json:"close"`
}

func (e *Exchange) seedTickers(ctx context.Context) error {
	var response struct {
		Data []tickerRow `json:"data"`
	}
	if err := e.http.GetJSON(ctx, e.restURL+"/market/tickers", nil, &response); err != nil {
		return fmt.Errorf("fetch tickers: %w", err)
	}

	for _, row := range response.Data {
		e.processTicker(row)
	}

	e.logger.Info("Ticker seed finished",
		zap.String("exchange", e.Name()),
		zap.Int("pairs", e.tickers.Len()))
	return nil
}

// processTicker stores one ticker row. Rows without both an open and a close
// price are ignored.
func (e *Exchange) processTicker(row tickerRow) {
	if row.Symbol == "" || row.Open == "" || row.Close == "" {
		return
	}
	closePrice, err := decimal.NewFromString(row.Close.String())
	if err != nil {
		e.logger.Warn("Unparsable ticker", zap.String("symbol", row.Symbol), zap.Error(err))
		return
	}
	openPrice, err := decimal.NewFromString(row.Open.String())
	if err != nil {
		e.logger.Warn("Unparsable ticker", zap.String("symbol", row.Symbol), zap.Error(err))
		return
	}
	if closePrice.IsZero() || openPrice.IsZero() {
		return
	}

	e.tickers.Set(strings.ToUpper(row.Symbol), domain.Ticker{
		Price:          closePrice,
		PriceChangePct: decimalutils.ChangePct(closePrice, openPrice),
	})
}

// runTickerStream keeps the market.tickers subscription alive until ctx is
// cancelled.
func (e *Exchange) runTickerStream(ctx context.Context) {
	for {
		conn, err := e.dialTickerStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:huobi", "stream:ticker")
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
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			payload, err := decodeWSPayload(data)
			if err != nil {
				e.logger.Warn("Unable to decode ticker frame", zap.Error(err))
				continue
			}
			e.processTickerFrame(conn, payload)
		}

		if ctx.Err() != nil {
			return
		}
		e.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:huobi", "stream:ticker")
		e.logger.Warn("Ticker websocket closed, restarting")
	}
}

func (e *Exchange) dialTickerStream(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, e.marketWSURL, nil)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(map[string]string{"sub": "market.tickers"}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (e *Exchange) processTickerFrame(conn *websocket.Conn, payload []byte) {
	var msg struct {
		Ping   int64       `json:"ping"`
		Subbed string      `json:"subbed"`
		Status string      `json:"status"`
		Ch     string      `json:"ch"`
		Data   []tickerRow `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.logger.Warn("Unable to parse ticker frame", zap.ByteString("data", payload), zap.Error(err))
		return
	}

	switch {
	case msg.Ping != 0:
		if err := conn.WriteJSON(map[string]int64{"pong": msg.Ping}); err != nil {
			e.logger.Warn("Unable to send pong", zap.Error(err))
		}
	case msg.Subbed != "":
		e.logger.Info("Subscription status",
			zap.String("topic", msg.Subbed),
			zap.String("status", msg.Status))
	case msg.Ch == "market.tickers":
		for _, row := range msg.Data {
			e.processTicker(row)
		}
	}
}

// decodeWSPayload gunzips one server frame. The venue compresses every
// message it pushes, heartbeats included.
func decodeWSPayload(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
