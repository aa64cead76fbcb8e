// Package tgbot is the operator console: a long polling Telegram bot with
// balance and cancel commands, listing test commands and the channel
// listener that feeds the telegram trigger.
package tgbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/trade"
)

// pollTimeout is the server side getUpdates hold in seconds.
const pollTimeout = 60

// Traders exposes the trade venues to the bot commands.
type Traders interface {
	Exchanges() []trade.Exchange
}

// Triggers exposes the novelty sets to the listing test commands.
type Triggers interface {
	DropCoin(exchangeName, code string) bool
	DropCoinAll(code string) []string
}

// Feed accepts symbols for the telegram trigger buffers.
type Feed interface {
	Add(coin domain.Symbol) bool
}

// Config carries the bot identity and the command knobs.
type Config struct {
	Token           string
	AuthorizedUsers []int64
	ListenChannelID int64

	// BalanceShowLimitBTC hides dust below this BTC cost from /balances.
	BalanceShowLimitBTC decimal.Decimal

	// WhiteList admits channel BTC pair symbols, BlackList rejects channel
	// KRW symbols.
	WhiteList []string
	BlackList []string
}

// Params wires the bot to the rest of the sniper.
type Params struct {
	Config   Config
	Traders  Traders
	Triggers Triggers
	Feed     Feed
	Logger   *zap.Logger
}

// Bot answers operator commands and relays channel posts into the telegram
// trigger. Only AuthorizedUsers may issue commands; channel posts are
// trusted by channel id instead.
type Bot struct {
	cfg      Config
	api      *api
	traders  Traders
	triggers Triggers
	feed     Feed
	logger   *zap.Logger

	authorized map[int64]struct{}
	whitelist  map[string]struct{}
	blacklist  map[string]struct{}
}

func New(p Params) *Bot {
	b := &Bot{
		cfg:        p.Config,
		api:        newAPI(p.Config.Token),
		traders:    p.Traders,
		triggers:   p.Triggers,
		feed:       p.Feed,
		logger:     p.Logger.With(zap.String("component", "tgbot")),
		authorized: make(map[int64]struct{}, len(p.Config.AuthorizedUsers)),
		whitelist:  make(map[string]struct{}, len(p.Config.WhiteList)),
		blacklist:  make(map[string]struct{}, len(p.Config.BlackList)),
	}
	for _, id := range p.Config.AuthorizedUsers {
		b.authorized[id] = struct{}{}
	}
	for _, code := range p.Config.WhiteList {
		b.whitelist[code] = struct{}{}
	}
	for _, code := range p.Config.BlackList {
		b.blacklist[code] = struct{}{}
	}
	return b
}

// Check verifies the token against getMe so a bad token fails startup
// instead of producing an endlessly retrying poll loop.
func (b *Bot) Check(ctx context.Context) error {
	var me struct {
		Username string `json:"username"`
	}
	if err := b.api.call(ctx, "getMe", map[string]any{}, &me); err != nil {
		return err
	}
	b.logger.Info("Bot token verified", zap.String("username", me.Username))
	return nil
}

// Run polls for updates until ctx is cancelled. The pending backlog is
// dropped first so commands issued while the sniper was down are not
// replayed against live accounts.
func (b *Bot) Run(ctx context.Context) {
	offset := b.skipPending(ctx)
	b.logger.Info("Bot started", zap.Int64("offset", offset))

	for ctx.Err() == nil {
		updates, err := b.api.getUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("Unable to fetch updates", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			b.dispatch(ctx, u)
		}
	}
}

func (b *Bot) skipPending(ctx context.Context) int64 {
	updates, err := b.api.getUpdates(ctx, -1, 0)
	if err != nil || len(updates) == 0 {
		return 0
	}
	return updates[len(updates)-1].ID + 1
}

func (b *Bot) dispatch(ctx context.Context, u update) {
	switch {
	case u.ChannelPost != nil:
		b.handleChannelPost(ctx, u.ChannelPost)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *message) {
	b.logger.Info("New message", zap.Int64("chat", m.Chat.ID), zap.String("text", m.Text))

	if m.From == nil {
		b.logger.Error("Unable to get user id")
		return
	}
	if _, ok := b.authorized[m.From.ID]; !ok {
		b.logger.Warn("User is not authorized!", zap.Int64("user", m.From.ID))
		return
	}

	cmd, args := splitCommand(m.Text)
	switch cmd {
	case "/help":
		b.reply(ctx, m, helpText)
	case "/balances":
		b.cmdBalances(ctx, m)
	case "/cancel":
		b.cmdCancel(ctx, m)
	case "/delete_coin", "/dc":
		b.cmdDeleteCoin(ctx, m, args)
	case "/fake_coin", "/fk":
		b.cmdFakeCoin(ctx, m, args)
	default:
		b.reply(ctx, m, "Unknown command, please check /help")
	}
}

// splitCommand returns the leading bot command without a @botname suffix,
// plus the argument fields. Non-command text yields an empty command.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	cmd := fields[0]
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:]
}

func (b *Bot) reply(ctx context.Context, m *message, text string) {
	if err := b.api.reply(ctx, m, text); err != nil {
		b.logger.Error("Unable to reply", zap.Error(err))
	}
}

// venueAccount pairs an account with the venue it lives on, which the
// balance command needs for ticker lookups.
type venueAccount struct {
	exchange trade.Exchange
	account  *trade.Account
}

func (b *Bot) allAccounts() []venueAccount {
	var out []venueAccount
	for _, e := range b.traders.Exchanges() {
		for _, a := range e.Accounts() {
			out = append(out, venueAccount{exchange: e, account: a})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].account.Owner() < out[j].account.Owner()
	})
	return out
}

// update is one getUpdates result entry.
type update struct {
	ID          int64    `json:"update_id"`
	Message     *message `json:"message"`
	ChannelPost *message `json:"channel_post"`
}

type message struct {
	ID   int64  `json:"message_id"`
	From *user  `json:"from"`
	Chat chat   `json:"chat"`
	Text string `json:"text"`
}

type user struct {
	ID int64 `json:"id"`
}

type chat struct {
	ID int64 `json:"id"`
}

// api is a minimal Bot API client. Its http client must outlast the long
// poll hold, so it does not share the default request timeout.
type api struct {
	http    *http.Client
	baseURL string
	token   string
}

func newAPI(token string) *api {
	return &api{
		http:    &http.Client{Timeout: (pollTimeout + 10) * time.Second},
		baseURL: "https://api.telegram.org",
		token:   token,
	}
}

func (a *api) getUpdates(ctx context.Context, offset int64, timeout int) ([]update, error) {
	var updates []update
	err := a.call(ctx, "getUpdates", map[string]any{
		"offset":  offset,
		"timeout": timeout,
	}, &updates)
	return updates, err
}

func (a *api) reply(ctx context.Context, to *message, text string) error {
	return a.call(ctx, "sendMessage", map[string]any{
		"chat_id":             to.Chat.ID,
		"text":                text,
		"parse_mode":          "HTML",
		"reply_to_message_id": to.ID,
	}, nil)
}

func (a *api) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", method, err)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram %s: %s", method, envelope.Description)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}
