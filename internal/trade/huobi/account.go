package huobi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
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

// authSettleDelay separates the auth frame from the subscriptions. The venue
// acks auth asynchronously and drops subscriptions sent too early.
const authSettleDelay = time.Second

// Account is one Huobi credential: the signed REST client plus the account
// websocket feeding balance and order updates.
type Account struct {
	*trade.Account

	exchange  *Exchange
	client    *Client
	accountID int64
	logger    *zap.Logger
	chat      *notify.Scope

	mu   sync.Mutex
	conn *websocket.Conn
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
	accounts, err := a.client.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("fetch accounts: %w", err)
	}
	if len(accounts) == 0 {
		return errors.New("credential owns no accounts")
	}
	a.accountID = accounts[0].ID

	a.logger.Info("Balance init started")
	balances, err := a.client.Balances(ctx, a.accountID)
	if err != nil {
		return fmt.Errorf("fetch account balances: %w", err)
	}
	for asset, balance := range balances {
		a.UpdateBalance(asset, balance)
	}
	a.logger.Info("Balance init finished", zap.Int("assets", len(balances)))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.exchange.accountWSURL, nil)
	if err != nil {
		return fmt.Errorf("connect account stream: %w", err)
	}
	a.setConn(conn)

	go a.runStream(ctx, conn)
	return nil
}

func (a *Account) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *Account) runStream(ctx context.Context, conn *websocket.Conn) {
	for {
		if err := a.login(ctx, conn); err != nil {
			a.logger.Warn("Unable to log in to account stream", zap.Error(err))
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			payload, err := decodeWSPayload(data)
			if err != nil {
				a.logger.Warn("Unable to decode account frame", zap.Error(err))
				continue
			}
			a.processUpdate(conn, payload)
		}

		if ctx.Err() != nil {
			return
		}
		a.exchange.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:huobi", "stream:account")
		a.logger.Warn("Account websocket closed, restarting")

		for {
			next, _, err := websocket.DefaultDialer.DialContext(ctx, a.exchange.accountWSURL, nil)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.logger.Warn("Unable to create ws connection", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(redialDelay):
				}
				continue
			}
			conn = next
			a.setConn(next)
			break
		}
	}
}

// login authenticates the stream and subscribes to the balance and order
// topics.
func (a *Account) login(ctx context.Context, conn *websocket.Conn) error {
	wsURL, err := url.Parse(a.exchange.accountWSURL)
	if err != nil {
		return fmt.Errorf("parse ws url: %w", err)
	}

	params := url.Values{}
	params.Set("AccessKeyId", a.client.accessKey)
	params.Set("SignatureMethod", signatureMethod)
	params.Set("SignatureVersion", signatureVersion)
	params.Set("Timestamp", a.client.now().UTC().Format(timestampLayout))

	auth := map[string]string{
		"op":               "auth",
		"AccessKeyId":      params.Get("AccessKeyId"),
		"SignatureMethod":  signatureMethod,
		"SignatureVersion": signatureVersion,
		"Timestamp":        params.Get("Timestamp"),
		"Signature":        signPayload(a.client.secretKey, http.MethodGet, wsURL.Host, wsURL.Path, params.Encode()),
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(authSettleDelay):
	}

	for _, topic := range []string{"accounts", "orders.*"} {
		if err := conn.WriteJSON(map[string]string{"op": "sub", "topic": topic}); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (a *Account) processUpdate(conn *websocket.Conn, payload []byte) {
	var msg struct {
		Op    string          `json:"op"`
		Ts    int64           `json:"ts"`
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		a.logger.Warn("Unable to parse account frame", zap.ByteString("data", payload), zap.Error(err))
		return
	}

	switch {
	case msg.Op == "ping":
		if err := conn.WriteJSON(map[string]any{"op": "pong", "ts": msg.Ts}); err != nil {
			a.logger.Warn("Unable to send pong", zap.Error(err))
		}
	case msg.Op == "sub":
		a.logger.Info("Subscribed", zap.String("topic", msg.Topic))
	case msg.Topic == "accounts":
		a.processBalanceUpdate(msg.Data)
	case strings.HasPrefix(msg.Topic, "orders"):
		a.processOrderUpdate(msg.Data)
	}
}

func (a *Account) processBalanceUpdate(data json.RawMessage) {
	var dto struct {
		List []balanceRow `json:"list"`
	}
	if err := json.Unmarshal(data, &dto); err != nil {
		a.logger.Warn("Unable to parse balance update", zap.Error(err))
		return
	}

	// updates carry rows for every account the credential owns
	rows := make([]balanceRow, 0, len(dto.List))
	for _, row := range dto.List {
		if row.AccountID == a.accountID {
			rows = append(rows, row)
		}
	}

	balances, err := foldBalances(rows)
	if err != nil {
		a.logger.Warn("Unable to parse balance update", zap.Error(err))
		return
	}
	for asset, balance := range balances {
		a.UpdateBalance(asset, balance)
	}
}

// processOrderUpdate mirrors every order update into the local log and posts
// a silent chat line once an order fills.
func (a *Account) processOrderUpdate(data json.RawMessage) {
	a.logger.Info("Order report", zap.ByteString("data", data))

	var order struct {
		OrderState  string      `json:"order-state"`
		OrderType   string      `json:"order-type"`
		OrderAmount json.Number `json:"order-amount"`
		Price       json.Number `json:"price"`
		Symbol      string      `json:"symbol"`
	}
	if err := json.Unmarshal(data, &order); err != nil {
		a.logger.Warn("Unable to parse order update", zap.Error(err))
		return
	}
	if order.OrderState != "filled" {
		return
	}

	qty, err := decimal.NewFromString(order.OrderAmount.String())
	if err != nil {
		a.logger.Warn("Unable to parse order qty", zap.Error(err))
		return
	}
	price, err := decimal.NewFromString(order.Price.String())
	if err != nil {
		a.logger.Warn("Unable to parse order price", zap.Error(err))
		return
	}

	side := domain.SideSell
	if strings.Contains(order.OrderType, "buy") {
		side = domain.SideBuy
	}

	report := trade.ComposeOrderReport(side, strings.ToUpper(order.Symbol), qty, price, qty.Mul(price))
	a.chat.Post(notify.Event{Type: notify.TypeOrder, Text: "order report: " + report, Silent: true})
}

func (a *Account) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close()
	}
}

// CreateBuyOrder prices the limit order off the live close plus the
// configured markup. The venue sizes buy orders by quote amount, and both
// price and amount are quantized to the pair's precision rules.
func (a *Account) CreateBuyOrder(ctx context.Context, pair string, _ int64, quoteAmount decimal.Decimal) (string, error) {
	ticker, ok := a.exchange.tickers.Get(pair)
	if !ok {
		return "", domain.ErrNoTicker
	}
	filter, ok := a.exchange.filters.Get(pair)
	if !ok {
		return "", fmt.Errorf("no price filter for %s", pair)
	}

	purchasePrice := decimalutils.ApplyPct(ticker.Price, 100+a.exchange.markup)
	a.logger.Info("Purchase price",
		zap.String("pair", pair),
		zap.String("price", purchasePrice.String()))
	purchasePrice = filter.QuantizePrice(purchasePrice)
	a.logger.Info("Normalized purchase price",
		zap.String("pair", pair),
		zap.String("price", purchasePrice.String()))

	a.logger.Info("Quote amount",
		zap.String("pair", pair),
		zap.String("amount", quoteAmount.String()))
	amount := filter.QuantizeAmount(quoteAmount)
	a.logger.Info("Normalized quote amount",
		zap.String("pair", pair),
		zap.String("amount", amount.String()))

	return a.client.PlaceLimitBuyOrder(ctx, a.accountID, amount.String(), pair, purchasePrice.String())
}

func (a *Account) CancelOrder(ctx context.Context, orderID, _ string) (string, error) {
	return a.client.CancelOrder(ctx, orderID)
}

func (a *Account) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	return a.client.OpenOrders(ctx, a.accountID)
}
