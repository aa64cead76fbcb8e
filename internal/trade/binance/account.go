package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/trade"
	"github.com/vtornik/listing-sniper/pkg/utils/decimalutils"
)

// Binance expires listen keys after 60 minutes without a keepalive.
const listenKeyKeepaliveInterval = 5 * time.Minute

// Account is one Binance credential: the signed REST client plus the user
// data stream feeding balance and order updates.
type Account struct {
	*trade.Account

	exchange *Exchange
	client   *Client
	logger   *zap.Logger
	chat     *notify.Scope

	mu              sync.Mutex
	listenKey       string
	conn            *websocket.Conn
	keepaliveCancel context.CancelFunc
}

func (e *Exchange) initAccount(ctx context.Context, credential domain.Credential) (*Account, error) {
	a := &Account{
		exchange: e,
		client:   NewClient(credential.APIKey, credential.SecretKey),
		logger: e.logger.With(
			zap.String("exchange", e.Name()),
			zap.String("owner", credential.Owner)),
		chat: e.chat.Scoped(fmt.Sprintf("[%s][%s]", e.Name(), credential.Owner)),
	}
	a.client.baseURL = e.restURL
	a.Account = trade.NewAccount(trade.AccountParams{
		Exchange:    e.Name(),
		Credential:  credential,
		Tickers:     e.tickers,
		Orders:      a,
		CancelDelay: e.cancelDelay,
		Logger:      e.logger,
		Chat:        e.chat,
		Telemetry:   e.telemetry,
	})

	if err := a.init(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) init(ctx context.Context) error {
	a.logger.Info("Balance init started")
	balances, err := a.client.AccountBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch account balances: %w", err)
	}
	for asset, balance := range balances {
		a.UpdateBalance(asset, balance)
	}
	a.logger.Info("Balance init finished", zap.Int("assets", len(balances)))

	if err := a.prepareStream(ctx); err != nil {
		return fmt.Errorf("prepare user data stream: %w", err)
	}
	if err := a.connect(ctx); err != nil {
		return err
	}
	go a.runStream(ctx)
	return nil
}

// prepareStream fetches a fresh listen key and swaps the keepalive task over
// to it. Reconnects call it again, so only the newest key stays alive.
func (a *Account) prepareStream(ctx context.Context) error {
	key, err := a.client.CreateListenKey(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.listenKey = key
	if a.keepaliveCancel != nil {
		a.logger.Info("Cancelling keepalive task")
		a.keepaliveCancel()
	}
	keepaliveCtx, cancel := context.WithCancel(ctx)
	a.keepaliveCancel = cancel
	a.mu.Unlock()

	go a.keepaliveLoop(keepaliveCtx, key)
	a.logger.Info("Keepalive task created")
	return nil
}

func (a *Account) keepaliveLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(listenKeyKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := a.client.KeepaliveListenKey(ctx, listenKey)
			if err != nil {
				a.logger.Error("Listen key keepalive failed", zap.Error(err))
				continue
			}
			a.logger.Info("Listen key keepalive result", zap.String("result", result))
		}
	}
}

func (a *Account) connect(ctx context.Context) error {
	for {
		a.mu.Lock()
		streamURL := a.exchange.wsURL + "/" + a.listenKey
		a.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("Unable to create ws connection", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(redialDelay):
			}
			continue
		}

		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		return nil
	}
}

func (a *Account) runStream(ctx context.Context) {
	for {
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.exchange.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:binance", "stream:account")
				a.logger.Warn("Account websocket closed, restarting", zap.Error(err))
				break
			}
			a.processUpdate(msg)
		}

		for {
			err := a.prepareStream(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("Unable to refresh listen key", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(redialDelay):
			}
		}

		if err := a.connect(ctx); err != nil {
			return
		}
	}
}

func (a *Account) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.keepaliveCancel != nil {
		a.keepaliveCancel()
	}
	if a.conn != nil {
		a.conn.Close()
	}
}

func (a *Account) processUpdate(msg []byte) {
	var header struct {
		Event string `json:"e"`
	}
	if err := json.Unmarshal(msg, &header); err != nil {
		a.logger.Warn("Unable to parse account update", zap.Error(err))
		return
	}

	switch header.Event {
	case "outboundAccountInfo":
		a.processBalanceUpdate(msg)
	case "executionReport":
		a.processOrderReport(msg)
	}
}

func (a *Account) processBalanceUpdate(msg []byte) {
	var dto struct {
		Balances []struct {
			Asset  string `json:"a"`
			Free   string `json:"f"`
			Locked string `json:"l"`
		} `json:"B"`
	}
	if err := json.Unmarshal(msg, &dto); err != nil {
		a.logger.Warn("Unable to parse balance update", zap.Error(err))
		return
	}

	for _, b := range dto.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			continue
		}
		a.UpdateBalance(b.Asset, domain.Balance{Free: free, Locked: locked})
	}
}

// processOrderReport mirrors every execution report into the local log and
// posts a silent chat line once an order is fully filled.
func (a *Account) processOrderReport(msg []byte) {
	a.logger.Info("Order report", zap.ByteString("data", msg))

	var dto struct {
		Symbol   string `json:"s"`
		Side     string `json:"S"`
		Status   string `json:"X"`
		Qty      string `json:"q"`
		CumQty   string `json:"z"`
		CumQuote string `json:"Z"`
	}
	if err := json.Unmarshal(msg, &dto); err != nil {
		a.logger.Warn("Unable to parse order report", zap.Error(err))
		return
	}
	if dto.Status != "FILLED" {
		return
	}

	qty, err := decimal.NewFromString(dto.Qty)
	if err != nil {
		a.logger.Warn("Unable to parse order report qty", zap.Error(err))
		return
	}
	cumQty, err := decimal.NewFromString(dto.CumQty)
	if err != nil || cumQty.IsZero() {
		a.logger.Warn("Unusable cumulative qty in order report", zap.String("value", dto.CumQty))
		return
	}
	cumQuote, err := decimal.NewFromString(dto.CumQuote)
	if err != nil {
		a.logger.Warn("Unable to parse order report total", zap.Error(err))
		return
	}

	report := trade.ComposeOrderReport(
		domain.OrderSide(dto.Side),
		dto.Symbol,
		qty,
		cumQuote.Div(cumQty),
		cumQuote,
	)
	a.chat.Post(notify.Event{Type: notify.TypeOrder, Text: "order report: " + report, Silent: true})
}

// CreateBuyOrder prices the limit order off the live ask plus the configured
// markup, quantized to six decimal places.
func (a *Account) CreateBuyOrder(ctx context.Context, pair string, qty int64, _ decimal.Decimal) (string, error) {
	ticker, ok := a.exchange.tickers.Get(pair)
	if !ok {
		return "", domain.ErrNoTicker
	}

	purchasePrice := decimalutils.ApplyPct(ticker.Price, 100+a.exchange.markup).RoundBank(6)
	a.logger.Info("Purchase price",
		zap.String("pair", pair),
		zap.String("price", purchasePrice.String()))

	return a.client.CreateLimitBuyOrder(ctx, pair, strconv.FormatInt(qty, 10), purchasePrice.String())
}

func (a *Account) CancelOrder(ctx context.Context, orderID, pair string) (string, error) {
	return a.client.CancelOrder(ctx, pair, orderID)
}

func (a *Account) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	return a.client.OpenOrders(ctx)
}
