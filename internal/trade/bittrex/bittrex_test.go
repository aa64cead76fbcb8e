package bittrex

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
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
	client.nonce = func() string { return "12345" }
	return client
}

func TestClient_SignsRequests(t *testing.T) {
	var (
		gotSign  string
		gotURI   string
		gotQuery url.Values
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get("apisign")
		gotURI = r.URL.RequestURI()
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"success": true, "message": "", "result": {"uuid": "abc-123"}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	orderID, err := client.BuyLimit(context.Background(), "BTC-MANA", 3750, "0.000023")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", orderID)

	assert.Equal(t, "BTC-MANA", gotQuery.Get("market"))
	assert.Equal(t, "3750", gotQuery.Get("quantity"))
	assert.Equal(t, "0.000023", gotQuery.Get("rate"))
	assert.Equal(t, "test-key", gotQuery.Get("apikey"))
	assert.Equal(t, "12345", gotQuery.Get("nonce"))

	// apisign covers the full request URL
	mac := hmac.New(sha512.New, []byte("test-secret"))
	mac.Write([]byte(server.URL + gotURI))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSign)
}

func TestClient_Balances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/account/getbalances", r.URL.Path)
		fmt.Fprint(w, `{"success": true, "message": "", "result": [
			{"Currency": "BTC", "Balance": 0.1, "Available": 0.075},
			{"Currency": "MANA", "Balance": null, "Available": null}
		]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	balances, err := client.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 2)

	assert.Equal(t, "0.075", balances["BTC"].Free.String())
	assert.Equal(t, "0.025", balances["BTC"].Locked.String())
	assert.Equal(t, "0", balances["MANA"].Free.String())
	assert.Equal(t, "0", balances["MANA"].Locked.String())
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success": false, "message": "APIKEY_INVALID", "result": null}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Balances(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "APIKEY_INVALID", apiErr.Message)
}

func TestClient_SignChallenge(t *testing.T) {
	signed := newTestClient("").signChallenge("challenge-1")
	assert.Equal(t,
		"e19c77d876a51d452de9e8cfd549e60cb9ea0964820c67c5f0d5b06cbc080c4a"+
			"f01d98df827f7e318fa49b43f671fce088dbb9df4876de87697896603fc2baf0",
		signed)
}

// fakeHub emulates the SignalR c2 hub: negotiate, websocket upgrade, a few
// hub methods and pushed frames after a summary subscription.
type fakeHub struct {
	rejectAuth      bool
	pushOnSubscribe [][]byte

	mu              sync.Mutex
	negotiateQuery  url.Values
	connectQuery    url.Values
	signedChallenge string
}

func startFakeHub(t *testing.T, hub *fakeHub) (httpURL, wsURL string) {
	t.Helper()

	server := httptest.NewServer(hub.handler())
	t.Cleanup(server.Close)
	return server.URL, "ws" + strings.TrimPrefix(server.URL, "http")
}

func (h *fakeHub) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/negotiate"):
			h.mu.Lock()
			h.negotiateQuery = r.URL.Query()
			h.mu.Unlock()
			fmt.Fprint(w, `{"ConnectionToken": "tok-1"}`)
		case strings.HasSuffix(r.URL.Path, "/connect"):
			h.mu.Lock()
			h.connectQuery = r.URL.Query()
			h.mu.Unlock()
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			go h.serve(conn)
		}
	}
}

func (h *fakeHub) serve(conn *websocket.Conn) {
	defer conn.Close()
	for {
		var call struct {
			Method string            `json:"M"`
			Args   []json.RawMessage `json:"A"`
			ID     string            `json:"I"`
		}
		if err := conn.ReadJSON(&call); err != nil {
			return
		}

		switch call.Method {
		case "GetAuthContext":
			conn.WriteJSON(map[string]any{"I": call.ID, "R": "challenge-1"})
		case "Authenticate":
			var signed string
			if len(call.Args) == 2 {
				_ = json.Unmarshal(call.Args[1], &signed)
			}
			h.mu.Lock()
			h.signedChallenge = signed
			h.mu.Unlock()
			conn.WriteJSON(map[string]any{"I": call.ID, "R": !h.rejectAuth})
		case "SubscribeToSummaryDeltas":
			conn.WriteJSON(map[string]any{"I": call.ID, "R": true})
			for _, frame := range h.pushOnSubscribe {
				conn.WriteMessage(websocket.TextMessage, frame)
			}
		case "Fail":
			conn.WriteJSON(map[string]any{"I": call.ID, "E": "There was an error invoking Hub method"})
		}
	}
}

func (h *fakeHub) queries() (negotiate, connect url.Values) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.negotiateQuery, h.connectQuery
}

func (h *fakeHub) signed() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signedChallenge
}

// encodePayload compresses v the way the hub pushes payloads: JSON wrapped
// in a raw DEFLATE stream wrapped in base64.
func encodePayload(t *testing.T, v any) string {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	writer, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = writer.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func pushFrame(t *testing.T, method string, payload any) []byte {
	t.Helper()

	frame := map[string]any{
		"M": []map[string]any{{"H": "c2", "M": method, "A": []string{encodePayload(t, payload)}}},
	}
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	return data
}

func TestSignalRClient_CallAndPush(t *testing.T) {
	hub := &fakeHub{}
	hub.pushOnSubscribe = [][]byte{pushFrame(t, "uS", map[string]any{
		"D": []map[string]any{{"M": "BTC-MANA", "A": 0.00002, "PD": 0.00001}},
	})}
	httpURL, wsURL := startFakeHub(t, hub)

	client := newSignalRClient(httpURL, wsURL, zap.NewNop())
	require.NoError(t, client.dial(context.Background()))
	defer client.close()

	result, err := client.call(context.Background(), "SubscribeToSummaryDeltas")
	require.NoError(t, err)
	assert.Equal(t, "true", string(result))

	select {
	case msg := <-client.messages():
		assert.Equal(t, "uS", msg.Method)
		require.Len(t, msg.Args, 1)
		payload, err := decodePayload(msg.Args[0])
		require.NoError(t, err)
		assert.Contains(t, string(payload), "BTC-MANA")
	case <-time.After(time.Second):
		t.Fatal("no push received")
	}

	negotiate, connect := hub.queries()
	assert.Equal(t, "1.5", negotiate.Get("clientProtocol"))
	assert.Contains(t, negotiate.Get("connectionData"), "c2")
	assert.Equal(t, "webSockets", connect.Get("transport"))
	assert.Equal(t, "tok-1", connect.Get("connectionToken"))
}

func TestSignalRClient_CallError(t *testing.T) {
	httpURL, wsURL := startFakeHub(t, &fakeHub{})

	client := newSignalRClient(httpURL, wsURL, zap.NewNop())
	require.NoError(t, client.dial(context.Background()))
	defer client.close()

	_, err := client.call(context.Background(), "Fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "There was an error invoking Hub method")
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

	assert.Equal(t, "BTC-ETH", e.MakePair("ETH", "BTC"))
}

func TestExchange_SeedTickers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/public/getmarketsummaries", r.URL.Path)
		fmt.Fprint(w, `{"success": true, "message": "", "result": [
			{"MarketName": "BTC-MANA", "Ask": 0.00002, "PrevDay": 0.0000185},
			{"MarketName": "BTC-NEW", "Ask": 0.5, "PrevDay": 0},
			{"MarketName": "BTC-DEAD", "Ask": null, "PrevDay": null}
		]}`)
	}))
	defer server.Close()

	e, _ := newTestExchange(t)
	e.restURL = server.URL

	require.NoError(t, e.seedTickers(context.Background()))

	ticker, ok := e.Ticker("BTC-MANA")
	require.True(t, ok)
	assert.Equal(t, "0.00002", ticker.Price.String())
	assert.Equal(t, "8.11", ticker.PriceChangePct.String())

	// no previous day close means no change to compute
	ticker, ok = e.Ticker("BTC-NEW")
	require.True(t, ok)
	assert.Equal(t, "0", ticker.PriceChangePct.String())

	// dead markets come through with a zero ask and are skipped at buy time
	ticker, ok = e.Ticker("BTC-DEAD")
	require.True(t, ok)
	assert.True(t, ticker.Price.IsZero())
}

func TestExchange_SeedTickersError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success": false, "message": "MARKET_OFFLINE", "result": null}`)
	}))
	defer server.Close()

	e, _ := newTestExchange(t)
	e.restURL = server.URL

	err := e.seedTickers(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "MARKET_OFFLINE", apiErr.Message)
}

func TestExchange_ProcessSummaryDelta(t *testing.T) {
	e, _ := newTestExchange(t)

	e.processSummaryDelta([]byte(`{"D": [
		{"M": "BTC-MANA", "A": 0.000021, "PD": 0.00002},
		{"M": "BTC-ZERO", "A": 0, "PD": 0.5},
		{"M": "", "A": 1, "PD": 1}
	]}`))

	ticker, ok := e.Ticker("BTC-MANA")
	require.True(t, ok)
	assert.Equal(t, "0.000021", ticker.Price.String())
	assert.Equal(t, "5", ticker.PriceChangePct.String())

	_, ok = e.Ticker("BTC-ZERO")
	assert.False(t, ok)

	// garbage must not panic or wipe the book
	e.processSummaryDelta([]byte(`not json`))
	_, ok = e.Ticker("BTC-MANA")
	assert.True(t, ok)
}

func TestExchange_RunSummaryStream(t *testing.T) {
	hub := &fakeHub{}
	hub.pushOnSubscribe = [][]byte{pushFrame(t, "uS", map[string]any{
		"D": []map[string]any{{"M": "BTC-MANA", "A": 0.000021, "PD": 0.00002}},
	})}
	httpURL, wsURL := startFakeHub(t, hub)

	e, _ := newTestExchange(t)
	e.signalRHTTPURL = httpURL
	e.signalRWSURL = wsURL

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.runSummaryStream(ctx)

	assert.Eventually(t, func() bool {
		_, ok := e.Ticker("BTC-MANA")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func newTestAccount(t *testing.T, e *Exchange, baseURL string) *Account {
	t.Helper()

	a := &Account{
		exchange: e,
		client:   newTestClient(baseURL),
		logger:   zap.NewNop(),
		chat:     e.chat.Scoped("[bittrex][alice]"),
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
		fmt.Fprint(w, `{"success": true, "message": "", "result": {"uuid": "abc-123"}}`)
	}))
	defer server.Close()

	e, _ := newTestExchange(t)
	e.tickers.Set("BTC-MANA", domain.Ticker{Price: decimal.RequireFromString("0.00002")})
	account := newTestAccount(t, e, server.URL)

	orderID, err := account.CreateBuyOrder(context.Background(), "BTC-MANA", 3750, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", orderID)

	// 15% markup on the ask, six decimal places
	assert.Equal(t, "0.000023", gotQuery.Get("rate"))
	assert.Equal(t, "3750", gotQuery.Get("quantity"))
	assert.Equal(t, "BTC-MANA", gotQuery.Get("market"))
}

func TestAccount_CreateBuyOrderNoTicker(t *testing.T) {
	e, _ := newTestExchange(t)
	account := newTestAccount(t, e, "http://127.0.0.1:0")

	_, err := account.CreateBuyOrder(context.Background(), "BTC-NOPE", 1, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrNoTicker)
}

func TestAccount_ProcessBalanceDelta(t *testing.T) {
	e, _ := newTestExchange(t)
	account := newTestAccount(t, e, "http://127.0.0.1:0")

	account.processBalanceDelta([]byte(`{"d": {"c": "btc", "b": 0.1, "a": 0.075}}`))

	balance, ok := account.Balance("BTC")
	require.True(t, ok)
	assert.Equal(t, "0.075", balance.Free.String())
	assert.Equal(t, "0.025", balance.Locked.String())

	// incomplete deltas are dropped
	account.processBalanceDelta([]byte(`{"d": {"b": 1, "a": 1}}`))
	account.processBalanceDelta([]byte(`{"d": {"c": "mana", "b": 1}}`))
	account.processBalanceDelta([]byte(`{"d": {"c": "mana", "a": 1}}`))

	_, ok = account.Balance("MANA")
	assert.False(t, ok)
}

func TestAccount_ProcessOrderDelta(t *testing.T) {
	e, recorder := newTestExchange(t)
	account := newTestAccount(t, e, "http://127.0.0.1:0")

	// open orders stay local
	account.processOrderDelta([]byte(`{"o": {"OU": "abc", "E": "BTC-MANA", "OT": "LIMIT_BUY",
		"Q": 3750, "PU": 0.000023, "P": 0.08625, "C": null, "CI": false}}`))
	// cancelled orders are not reported
	account.processOrderDelta([]byte(`{"o": {"OU": "abc", "E": "BTC-MANA", "OT": "LIMIT_BUY",
		"Q": 3750, "PU": 0.000023, "P": 0.08625, "C": "2026-01-01T00:00:00", "CI": true}}`))
	assert.Empty(t, recorder.got())

	account.processOrderDelta([]byte(`{"o": {"OU": "abc", "E": "BTC-MANA", "OT": "LIMIT_BUY",
		"Q": 3750, "PU": 0.000023, "P": 0.08625, "C": "2026-01-01T00:00:00", "CI": false}}`))

	assert.Eventually(t, func() bool {
		return len(recorder.got()) == 1
	}, time.Second, 10*time.Millisecond)

	event := recorder.got()[0]
	assert.Equal(t, notify.TypeOrder, event.Type)
	assert.True(t, event.Silent)
	assert.Equal(t, "[bittrex][alice] order report: BUY BTC-MANA 3750@0.000023 for 0.08625", event.Text)
}

func TestAccount_ConnectStreamAuthenticates(t *testing.T) {
	hub := &fakeHub{}
	httpURL, wsURL := startFakeHub(t, hub)

	e, _ := newTestExchange(t)
	e.signalRHTTPURL = httpURL
	e.signalRWSURL = wsURL
	account := newTestAccount(t, e, "http://127.0.0.1:0")

	stream, err := account.connectStream(context.Background())
	require.NoError(t, err)
	defer stream.close()

	assert.Equal(t, account.client.signChallenge("challenge-1"), hub.signed())
}

func TestAccount_ConnectStreamAuthRejected(t *testing.T) {
	hub := &fakeHub{rejectAuth: true}
	httpURL, wsURL := startFakeHub(t, hub)

	e, _ := newTestExchange(t)
	e.signalRHTTPURL = httpURL
	e.signalRWSURL = wsURL
	account := newTestAccount(t, e, "http://127.0.0.1:0")

	_, err := account.connectStream(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication rejected")
}
