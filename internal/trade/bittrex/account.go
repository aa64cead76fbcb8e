package bittrex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/trade"
	"github.com/vtornik/listing-sniper/pkg/utils/decimalutils"
)

// Account is one Bittrex credential: the signed REST client plus an
// authenticated SignalR stream feeding balance and order deltas.
type Account struct {
	*trade.Account

	exchange *Exchange
	client   *Client
	logger   *zap.Logger
	chat     *notify.Scope

	mu     sync.Mutex
	stream *signalRClient
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
	balances, err := a.client.Balances(ctx)
	if err != nil {
		return fmt.Errorf("fetch account balances: %w", err)
	}
	for asset, balance := range balances {
		a.UpdateBalance(asset, balance)
	}
	a.logger.Info("Balance init finished", zap.Int("assets", len(balances)))

	stream, err := a.connectStream(ctx)
	if err != nil {
		return fmt.Errorf("connect account stream: %w", err)
	}
	a.setStream(stream)

	go a.runStream(ctx, stream)
	return nil
}

func (a *Account) connectStream(ctx context.Context) (*signalRClient, error) {
	client := newSignalRClient(a.exchange.signalRHTTPURL, a.exchange.signalRWSURL, a.logger)
	if err := client.dial(ctx); err != nil {
		return nil, err
	}
	if err := a.authenticate(ctx, client); err != nil {
		client.close()
		return nil, err
	}
	return client, nil
}

// authenticate runs the c2 hub challenge handshake: fetch a challenge for
// the api key, sign it with the secret and send it back.
func (a *Account) authenticate(ctx context.Context, client *signalRClient) error {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	raw, err := client.call(callCtx, "GetAuthContext", a.client.apiKey)
	if err != nil {
		return err
	}
	var challenge string
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return fmt.Errorf("decode auth challenge: %w", err)
	}

	result, err := client.call(callCtx, "Authenticate", a.client.apiKey, a.client.signChallenge(challenge))
	if err != nil {
		return err
	}
	var authenticated bool
	if err := json.Unmarshal(result, &authenticated); err != nil || !authenticated {
		return errors.New("authentication rejected")
	}
	return nil
}

func (a *Account) setStream(client *signalRClient) {
	a.mu.Lock()
	a.stream = client
	a.mu.Unlock()
}

func (a *Account) runStream(ctx context.Context, client *signalRClient) {
	for {
		for msg := range client.messages() {
			switch msg.Method {
			case "uB":
				a.handlePayloads(msg.Args, a.processBalanceDelta)
			case "uO":
				a.handlePayloads(msg.Args, a.processOrderDelta)
			}
		}

		if ctx.Err() != nil {
			return
		}
		a.exchange.telemetry.IncrementCounter(telemetryWSReconnects, 1, "exchange:bittrex", "stream:account")
		a.logger.Warn("Account websocket closed, restarting")

		for {
			next, err := a.connectStream(ctx)
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
			client = next
			a.setStream(next)
			break
		}
	}
}

func (a *Account) handlePayloads(args []json.RawMessage, process func([]byte)) {
	for _, arg := range args {
		payload, err := decodePayload(arg)
		if err != nil {
			a.logger.Warn("Unable to decode account delta", zap.Error(err))
			continue
		}
		process(payload)
	}
}

func (a *Account) processBalanceDelta(payload []byte) {
	var dto struct {
		Delta struct {
			Currency  string      `json:"c"`
			Balance   json.Number `json:"b"`
			Available json.Number `json:"a"`
		} `json:"d"`
	}
	if err := json.Unmarshal(payload, &dto); err != nil {
		a.logger.Warn("Unable to parse balance delta", zap.Error(err))
		return
	}

	currency := strings.ToUpper(dto.Delta.Currency)
	if currency == "" {
		a.logger.Warn("No currency in balance delta", zap.ByteString("data", payload))
		return
	}
	if dto.Delta.Available == "" {
		a.logger.Warn("No available balance in balance delta", zap.ByteString("data", payload))
		return
	}
	if dto.Delta.Balance == "" {
		a.logger.Warn("No balance in balance delta", zap.ByteString("data", payload))
		return
	}

	available, err := decimal.NewFromString(dto.Delta.Available.String())
	if err != nil {
		a.logger.Warn("Unable to parse available balance", zap.Error(err))
		return
	}
	total, err := decimal.NewFromString(dto.Delta.Balance.String())
	if err != nil {
		a.logger.Warn("Unable to parse balance", zap.Error(err))
		return
	}

	a.UpdateBalance(currency, domain.Balance{Free: available, Locked: total.Sub(available)})
}

// processOrderDelta mirrors every order delta into the local log and posts
// a silent chat line once an order closed without a cancel.
func (a *Account) processOrderDelta(payload []byte) {
	a.logger.Info("Order report", zap.ByteString("data", payload))

	var dto struct {
		Order struct {
			OrderUUID       string          `json:"OU"`
			Exchange        string          `json:"E"`
			OrderType       string          `json:"OT"`
			Quantity        json.Number     `json:"Q"`
			PricePerUnit    json.Number     `json:"PU"`
			Price           json.Number     `json:"P"`
			Closed          json.RawMessage `json:"C"`
			CancelInitiated bool            `json:"CI"`
		} `json:"o"`
	}
	if err := json.Unmarshal(payload, &dto); err != nil {
		a.logger.Warn("Unable to parse order delta", zap.Error(err))
		return
	}

	order := dto.Order
	if !isSet(order.Closed) || order.CancelInitiated {
		return
	}

	side := domain.SideSell
	if strings.Contains(order.OrderType, "BUY") {
		side = domain.SideBuy
	}

	qty, err := numberOrZero(order.Quantity)
	if err != nil {
		a.logger.Warn("Unable to parse order qty", zap.Error(err))
		return
	}
	price, err := numberOrZero(order.PricePerUnit)
	if err != nil {
		a.logger.Warn("Unable to parse order price", zap.Error(err))
		return
	}
	total, err := numberOrZero(order.Price)
	if err != nil {
		a.logger.Warn("Unable to parse order total", zap.Error(err))
		return
	}

	report := trade.ComposeOrderReport(side, order.Exchange, qty, price, total)
	a.chat.Post(notify.Event{Type: notify.TypeOrder, Text: "order report: " + report, Silent: true})
}

func isSet(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func (a *Account) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		a.stream.close()
	}
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

	return a.client.BuyLimit(ctx, pair, qty, purchasePrice.String())
}

func (a *Account) CancelOrder(ctx context.Context, orderID, _ string) (string, error) {
	return a.client.CancelOrder(ctx, orderID)
}

func (a *Account) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	return a.client.OpenOrders(ctx)
}
