package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/internal/trade"
)

type chatRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *chatRecorder) Send(_ context.Context, event notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *chatRecorder) got() []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Event, len(c.events))
	copy(out, c.events)
	return out
}

func newTestChat(t *testing.T) (*notify.ChatLog, *chatRecorder) {
	t.Helper()

	recorder := &chatRecorder{}
	chat := notify.NewChatLog(zap.NewNop(), recorder)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go chat.Run(ctx)

	return chat, recorder
}

func newTestClient(baseURL string) *Client {
	client := NewClient("test-key", "test-secret")
	client.baseURL = baseURL
	client.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return client
}

func TestClient_SignsRequests(t *testing.T) {
	var (
		gotHeader string
		gotQuery  string
		gotPath   string
		gotMethod string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-MBX-APIKEY")
		gotQuery = r.URL.RawQuery
		gotPath = r.URL.Path
		gotMethod = r.Method
		fmt.Fprint(w, `{"orderId": 12345}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	orderID, err := client.CreateLimitBuyOrder(context.Background(), "MANABTC", "3750", "0.000023")
	require.NoError(t, err)
	assert.Equal(t, "12345", orderID)

	assert.Equal(t, "test-key", gotHeader)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v3/order", gotPath)

	idx := strings.Index(gotQuery, "&signature=")
	require.Greater(t, idx, 0, "query %q has no signature", gotQuery)
	base, signature := gotQuery[:idx], gotQuery[idx+len("&signature="):]

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(base))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), signature)

	params, err := url.ParseQuery(base)
	require.NoError(t, err)
	assert.Equal(t, "MANABTC", params.Get("symbol"))
	assert.Equal(t, "BUY", params.Get("side"))
	assert.Equal(t, "LIMIT", params.Get("type"))
	assert.Equal(t, "GTC", params.Get("timeInForce"))
	assert.Equal(t, "3750", params.Get("quantity"))
	assert.Equal(t, "0.000023", params.Get("price"))
	assert.Equal(t, "1700000000000", params.Get("timestamp"))
}

func TestClient_AccountBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/account", r.URL.Path)
		fmt.Fprint(w, `{"balances": [
			{"asset": "BTC", "free": "0.10000000", "locked": "0.00000000"},
			{"asset": "ETH", "free": "2.50000000", "locked": "1.00000000"}
		]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	balances, err := client.AccountBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "0.1", balances["BTC"].Free.String())
	assert.Equal(t, "1", balances["ETH"].Locked.String())
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code": -1013, "msg": "Invalid quantity."}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateLimitBuyOrder(context.Background(), "MANABTC", "0", "0.000023")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Invalid quantity")
}

func TestClient_ListenKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/userDataStream", r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			fmt.Fprint(w, `{"listenKey": "abc123"}`)
		case http.MethodPut:
			assert.Equal(t, "abc123", r.URL.Query().Get("listenKey"))
			fmt.Fprint(w, `{}`)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	key, err := client.CreateListenKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)

	result, err := client.KeepaliveListenKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "{}", result)
}

func newTestExchange(t *testing.T) (*Exchange, *chatRecorder) {
	t.Helper()

	chat, recorder := newTestChat(t)
	e := New(Params{
		HTTP:        httpx.New(time.Second, zap.NewNop()),
		Logger:      zap.NewNop(),
		Chat:        chat,
		Telemetry:   &telemetry.NoopProvider{},
		Markup:      15,
		CancelDelay: time.Hour,
	})
	return e, recorder
}

func TestExchange_MakePair(t *testing.T) {
	e, _ := newTestExchange(t)

	assert.Equal(t, "ETHBTC", e.MakePair("ETH", "BTC"))
}

func TestExchange_SeedTickers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ticker/24hr", r.URL.Path)
		fmt.Fprint(w, `[
			{"symbol": "MANABTC", "priceChangePercent": "2.5", "askPrice": "0.00002"},
			{"symbol": "ETHBTC", "priceChangePercent": "-1.2", "askPrice": "0.05"}
		]`)
	}))
	defer server.Close()

	e, _ := newTestExchange(t)
	e.restURL = server.URL

	require.NoError(t, e.seedTickers(context.Background()))

	ticker, ok := e.Ticker("MANABTC")
	require.True(t, ok)
	assert.Equal(t, "0.00002", ticker.Price.String())
	assert.Equal(t, "2.5", ticker.PriceChangePct.String())

	_, ok = e.Ticker("NOPEBTC")
	assert.False(t, ok)
}

func TestExchange_ProcessTickerUpdate(t *testing.T) {
	e, _ := newTestExchange(t)

	e.processTickerUpdate([]byte(`[{"s": "MANABTC", "P": "8.1", "a": "0.000021"}]`))

	ticker, ok := e.Ticker("MANABTC")
	require.True(t, ok)
	assert.Equal(t, "0.000021", ticker.Price.String())
	assert.Equal(t, "8.1", ticker.PriceChangePct.String())

	// garbage must not panic or wipe the book
	e.processTickerUpdate([]byte(`not json`))
	_, ok = e.Ticker("MANABTC")
	assert.True(t, ok)
}

func newTestAccount(t *testing.T, e *Exchange, baseURL string) *Account {
	t.Helper()

	a := &Account{
		exchange: e,
		client:   newTestClient(baseURL),
		logger:   zap.NewNop(),
		chat:     e.chat.Scoped("[binance][alice]"),
	}
	a.Account = trade.NewAccount(trade.AccountParams{
		Exchange:    e.Name(),
		Credential:  domain.Credential{Exchange: e.Name(), Owner: "alice"},
		Tickers:     e.tickers,
		Orders:      a,
		CancelDelay: time.Hour,
		Logger:      zap.NewNop(),
		Chat:        e.chat,
		Telemetry:   &telemetry.NoopProvider{},
	})
	return a
}

func TestAccount_CreateBuyOrder(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"orderId": 777}`)
	}))
	defer server.Close()

	e, _ := newTestExchange(t)
	e.tickers.Set("MANABTC", domain.Ticker{Price: decimal.RequireFromString("0.00002")})
	account := newTestAccount(t, e, server.URL)

	orderID, err := account.CreateBuyOrder(context.Background(), "MANABTC", 3750, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "777", orderID)

	// 15% markup on the ask, six decimal places
	assert.Equal(t, "0.000023", gotQuery.Get("price"))
	assert.Equal(t, "3750", gotQuery.Get("quantity"))
}

func TestAccount_CreateBuyOrderNoTicker(t *testing.T) {
	e, _ := newTestExchange(t)
	account := newTestAccount(t, e, "http://127.0.0.1:0")

	_, err := account.CreateBuyOrder(context.Background(), "NOPEBTC", 1, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrNoTicker)
}

func TestAccount_ProcessBalanceUpdate(t *testing.T) {
	e, _ := newTestExchange(t)
	account := newTestAccount(t, e, "http://127.0.0.1:0")

	account.processUpdate([]byte(`{
		"e": "outboundAccountInfo",
		"B": [
			{"a": "BTC", "f": "0.2", "l": "0.05"},
			{"a": "MANA", "f": "3750", "l": "0"}
		]
	}`))

	balance, ok := account.Balance("BTC")
	require.True(t, ok)
	assert.Equal(t, "0.2", balance.Free.String())
	assert.Equal(t, "0.05", balance.Locked.String())

	balance, ok = account.Balance("MANA")
	require.True(t, ok)
	assert.Equal(t, "3750", balance.Free.String())
}

func TestAccount_ProcessOrderReport(t *testing.T) {
	e, recorder := newTestExchange(t)
	account := newTestAccount(t, e, "http://127.0.0.1:0")

	// partial fills stay local
	account.processUpdate([]byte(`{"e": "executionReport", "s": "MANABTC", "S": "BUY",
		"X": "NEW", "q": "3750", "z": "0", "Z": "0"}`))
	assert.Empty(t, recorder.got())

	account.processUpdate([]byte(`{"e": "executionReport", "s": "MANABTC", "S": "BUY",
		"X": "FILLED", "q": "3750", "z": "3750", "Z": "0.08625"}`))

	assert.Eventually(t, func() bool {
		return len(recorder.got()) == 1
	}, time.Second, 10*time.Millisecond)

	event := recorder.got()[0]
	assert.Equal(t, notify.TypeOrder, event.Type)
	assert.True(t, event.Silent)
	assert.Equal(t, "[binance][alice] order report: BUY MANABTC 3750@0.000023 for 0.08625", event.Text)
}
