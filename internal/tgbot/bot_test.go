package tgbot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/internal/trade"
)

type sentMessage struct {
	ChatID  int64  `json:"chat_id"`
	Text    string `json:"text"`
	ReplyTo int64  `json:"reply_to_message_id"`
}

// apiRecorder plays the Bot API server: it records sendMessage calls and
// feeds preloaded getUpdates batches, then empty batches.
type apiRecorder struct {
	mu         sync.Mutex
	sent       []sentMessage
	batches    [][]update
	lastOffset int64
}

func (r *apiRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case strings.HasSuffix(req.URL.Path, "/sendMessage"):
		var msg sentMessage
		if err := json.NewDecoder(req.Body).Decode(&msg); err == nil {
			r.sent = append(r.sent, msg)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	case strings.HasSuffix(req.URL.Path, "/getUpdates"):
		var q struct {
			Offset int64 `json:"offset"`
		}
		if err := json.NewDecoder(req.Body).Decode(&q); err == nil {
			r.lastOffset = q.Offset
		}
		batch := []update{}
		if len(r.batches) > 0 {
			batch = r.batches[0]
			r.batches = r.batches[1:]
		}
		payload, _ := json.Marshal(batch)
		w.Write([]byte(`{"ok":true,"result":` + string(payload) + `}`))
	case strings.HasSuffix(req.URL.Path, "/getMe"):
		w.Write([]byte(`{"ok":true,"result":{"username":"sniper_bot"}}`))
	default:
		w.Write([]byte(`{"ok":false,"description":"unknown method"}`))
	}
}

func (r *apiRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, msg := range r.sent {
		out[i] = msg.Text
	}
	return out
}

func (r *apiRecorder) offset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOffset
}

type fakeTraders struct {
	exchanges []trade.Exchange
}

func (f *fakeTraders) Exchanges() []trade.Exchange { return f.exchanges }

type fakeExchange struct {
	name     string
	accounts []*trade.Account
	tickers  map[string]domain.Ticker
}

func (f *fakeExchange) Name() string                       { return f.name }
func (f *fakeExchange) BuySymbols() []string               { return []string{"BTC"} }
func (f *fakeExchange) MakePair(base, quote string) string { return base + quote }
func (f *fakeExchange) Accounts() []*trade.Account         { return f.accounts }
func (f *fakeExchange) Close()                             {}

func (f *fakeExchange) Ticker(pair string) (domain.Ticker, bool) {
	ticker, ok := f.tickers[pair]
	return ticker, ok
}

func (f *fakeExchange) Init(context.Context, []domain.Credential) error { return nil }

type fakeTriggers struct {
	mu       sync.Mutex
	dropOK   bool
	allNames []string
	dropped  [][2]string
}

func (f *fakeTriggers) DropCoin(exchangeName, code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, [2]string{exchangeName, code})
	return f.dropOK
}

func (f *fakeTriggers) DropCoinAll(code string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped = append(f.dropped, [2]string{"*", code})
	return f.allNames
}

type fakeFeed struct {
	mu     sync.Mutex
	reject bool
	coins  []domain.Symbol
}

func (f *fakeFeed) Add(coin domain.Symbol) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.coins = append(f.coins, coin)
	return true
}

func (f *fakeFeed) got() []domain.Symbol {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Symbol(nil), f.coins...)
}

type fakeOrders struct {
	mu        sync.Mutex
	open      []domain.OpenOrder
	openErr   error
	cancelErr map[string]error
	cancelled []string
}

func (f *fakeOrders) CreateBuyOrder(context.Context, string, int64, decimal.Decimal) (string, error) {
	return "", nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, orderID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cancelErr[orderID]; err != nil {
		return "", err
	}
	f.cancelled = append(f.cancelled, orderID)
	return "done", nil
}

func (f *fakeOrders) OpenOrders(context.Context) ([]domain.OpenOrder, error) {
	return f.open, f.openErr
}

func newTestAccount(t *testing.T, exchange, owner string, orders trade.OrderAPI) *trade.Account {
	t.Helper()
	if orders == nil {
		orders = &fakeOrders{}
	}
	return trade.NewAccount(trade.AccountParams{
		Exchange:   exchange,
		Credential: domain.Credential{Exchange: exchange, Owner: owner, APIKey: "k", SecretKey: "s"},
		Orders:     orders,
		Logger:     zap.NewNop(),
		Chat:       notify.NewChatLog(zap.NewNop()),
		Telemetry:  &telemetry.NoopProvider{},
	})
}

func newTestBot(t *testing.T, p Params) (*Bot, *apiRecorder) {
	t.Helper()
	rec := &apiRecorder{}
	server := httptest.NewServer(rec)
	t.Cleanup(server.Close)

	if p.Config.Token == "" {
		p.Config.Token = "testtoken"
	}
	if len(p.Config.AuthorizedUsers) == 0 {
		p.Config.AuthorizedUsers = []int64{42}
	}
	if p.Config.BalanceShowLimitBTC.IsZero() {
		p.Config.BalanceShowLimitBTC = decimal.RequireFromString("0.005")
	}
	if p.Traders == nil {
		p.Traders = &fakeTraders{}
	}
	if p.Triggers == nil {
		p.Triggers = &fakeTriggers{}
	}
	if p.Feed == nil {
		p.Feed = &fakeFeed{}
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}

	b := New(p)
	b.api.baseURL = server.URL
	return b, rec
}

func userMessage(userID int64, text string) *message {
	return &message{ID: 11, From: &user{ID: userID}, Chat: chat{ID: 1001}, Text: text}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		text string
		cmd  string
		args []string
	}{
		{"/help", "/help", []string{}},
		{"/delete_coin binance MANA", "/delete_coin", []string{"binance", "MANA"}},
		{"/balances@sniper_bot", "/balances", []string{}},
		{"hello there", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		cmd, args := splitCommand(tt.text)
		assert.Equal(t, tt.cmd, cmd, tt.text)
		if len(tt.args) == 0 {
			assert.Empty(t, args, tt.text)
		} else {
			assert.Equal(t, tt.args, args, tt.text)
		}
	}
}

func TestHandleMessage_Unauthorized(t *testing.T) {
	b, rec := newTestBot(t, Params{})

	b.handleMessage(context.Background(), userMessage(99, "/help"))
	b.handleMessage(context.Background(), &message{ID: 12, Chat: chat{ID: 1001}, Text: "/help"})

	assert.Empty(t, rec.texts())
}

func TestHandleMessage_Help(t *testing.T) {
	b, rec := newTestBot(t, Params{})

	b.handleMessage(context.Background(), userMessage(42, "/help"))

	require.Len(t, rec.sent, 1)
	assert.Equal(t, helpText, rec.sent[0].Text)
	assert.Equal(t, int64(1001), rec.sent[0].ChatID)
	assert.Equal(t, int64(11), rec.sent[0].ReplyTo)
}

func TestHandleMessage_Unknown(t *testing.T) {
	b, rec := newTestBot(t, Params{})

	b.handleMessage(context.Background(), userMessage(42, "what is this"))

	assert.Equal(t, []string{"Unknown command, please check /help"}, rec.texts())
}

func TestCmdDeleteCoin(t *testing.T) {
	t.Run("two args", func(t *testing.T) {
		triggers := &fakeTriggers{dropOK: true}
		b, rec := newTestBot(t, Params{Triggers: triggers})

		b.handleMessage(context.Background(), userMessage(42, "/delete_coin binance MANA"))

		assert.Equal(t, []string{`Coin "MANA" successfully dropped from exchange "binance".`}, rec.texts())
		assert.Equal(t, [][2]string{{"binance", "MANA"}}, triggers.dropped)
	})

	t.Run("unknown coin", func(t *testing.T) {
		b, rec := newTestBot(t, Params{Triggers: &fakeTriggers{}})

		b.handleMessage(context.Background(), userMessage(42, "/dc binance MANA"))

		assert.Equal(t, []string{`Unable to drop coin "MANA" from exchange "binance"`}, rec.texts())
	})

	t.Run("one arg drops everywhere", func(t *testing.T) {
		triggers := &fakeTriggers{allNames: []string{"binance", "upbit"}}
		b, rec := newTestBot(t, Params{Triggers: triggers})

		b.handleMessage(context.Background(), userMessage(42, "/delete_coin MANA"))

		assert.Equal(t, []string{`Coin "MANA" successfully dropped from: binance, upbit.`}, rec.texts())
	})

	t.Run("no args", func(t *testing.T) {
		b, rec := newTestBot(t, Params{})

		b.handleMessage(context.Background(), userMessage(42, "/delete_coin"))

		assert.Equal(t, []string{"Invalid arguments!"}, rec.texts())
	})
}

func TestCmdFakeCoin(t *testing.T) {
	feed := &fakeFeed{}
	b, rec := newTestBot(t, Params{Feed: feed})

	b.handleMessage(context.Background(), userMessage(42, "/fake_coin mana"))

	assert.Equal(t, []string{"Added MANA to the fake trigger."}, rec.texts())
	assert.Equal(t, []domain.Symbol{
		{Code: "MANA", Source: domain.SourceTelegram, URL: "http://fake.telegram.url"},
	}, feed.got())
}

func TestCmdFakeCoin_NoArgs(t *testing.T) {
	b, rec := newTestBot(t, Params{})

	b.handleMessage(context.Background(), userMessage(42, "/fk"))

	assert.Equal(t, []string{"Invalid arguments!"}, rec.texts())
}

func TestRun(t *testing.T) {
	feed := &fakeFeed{}
	b, rec := newTestBot(t, Params{Feed: feed})
	rec.batches = [][]update{
		{},
		{{ID: 7, Message: userMessage(42, "/fake_coin LAMB")}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		texts := rec.texts()
		return len(texts) == 1 && texts[0] == "Added LAMB to the fake trigger."
	}, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return rec.offset() == 8 }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestCheck(t *testing.T) {
	b, _ := newTestBot(t, Params{})

	require.NoError(t, b.Check(context.Background()))
}

func TestCheck_BadToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	t.Cleanup(server.Close)

	b, _ := newTestBot(t, Params{})
	b.api.baseURL = server.URL

	err := b.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestAPIError(t *testing.T) {
	b, _ := newTestBot(t, Params{})

	err := b.api.call(context.Background(), "bogusMethod", map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method")
}
