package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/caller"
	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/coinmeta"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/internal/infrastructure/twitter"
	"github.com/vtornik/listing-sniper/internal/memwatch"
	"github.com/vtornik/listing-sniper/internal/tgbot"
	"github.com/vtornik/listing-sniper/internal/trade"
	"github.com/vtornik/listing-sniper/internal/trigger"
	telegramTrigger "github.com/vtornik/listing-sniper/internal/trigger/telegram"
)

// App represents the bootstrapped application
type App struct {
	options   *Options
	logger    *zap.Logger
	telemetry telemetry.Provider

	http *httpx.Client
	chat *notify.ChatLog

	caller   *caller.Caller
	meta     *coinmeta.Index
	twitter  *twitter.Client
	memWatch *memwatch.Watcher

	credentials []domain.Credential
	trade       *trade.Manager
	triggers    *trigger.Manager
	feed        *telegramTrigger.Feed
	bot         *tgbot.Bot
}

// Start brings the components up in dependency order, posts the startup
// summary and blocks in the bot poll loop until ctx is cancelled. An error
// means startup failed and the process should exit non zero.
func (a *App) Start(ctx context.Context) error {
	if err := a.telemetry.Initialize(ctx); err != nil {
		a.logger.Warn("Unable to initialize telemetry", zap.Error(err))
	}

	go a.memWatch.Run(ctx)
	go a.chat.Run(ctx)

	a.meta.Warmup(ctx)

	if err := a.bot.Check(ctx); err != nil {
		return fmt.Errorf("checking bot token: %w", err)
	}

	if err := a.trade.Init(ctx, a.credentials); err != nil {
		return fmt.Errorf("initializing trade venues: %w", err)
	}

	a.triggers.Init(ctx)
	a.triggers.Run(ctx)

	a.chat.Post(notify.Event{
		Type:   notify.TypeStartup,
		Text:   a.startupSummary(),
		Silent: true,
		Raw:    true,
	})
	a.logger.Info("Sniper started")

	a.bot.Run(ctx)
	return nil
}

// Stop releases the venue sessions. Poll and stream loops are already gone
// with the root context by the time this runs.
func (a *App) Stop() {
	a.trade.Close()
	a.triggers.Close()
	a.telemetry.Shutdown()
	_ = a.logger.Sync()
}

// startupSummary renders the silent hello message: what is armed, with
// which accounts, and under which limits.
func (a *App) startupSummary() string {
	var sb strings.Builder

	sb.WriteString("Bot started.\n\n")

	sb.WriteString(fmt.Sprintf("<b>Enabled phone accounts:</b> %s (%d numbers)\n\n",
		strings.Join(a.caller.AccountNames(), ", "), a.caller.NumberCount()))

	sb.WriteString("<b>Enabled trade accounts:</b>\n")
	for _, e := range a.trade.Exchanges() {
		accounts := e.Accounts()
		owners := make([]string, 0, len(accounts))
		for _, acc := range accounts {
			owners = append(owners, acc.Owner())
		}
		sb.WriteString(fmt.Sprintf("<code> %s: </code>%s\n", e.Name(), strings.Join(owners, ", ")))
	}
	sb.WriteString("\n")

	sb.WriteString("<b>Enabled trigger parts:</b>\n")
	for _, e := range a.triggers.Exchanges() {
		sb.WriteString(fmt.Sprintf("<code> %s(%s): </code>%s\n",
			e.Name(), formatBuyAmounts(e.BuyAmounts()), strings.Join(e.PartSources(), ", ")))
	}
	sb.WriteString("\n")

	excluded := domain.ExcludedCodes()
	sb.WriteString(fmt.Sprintf("<b>Ignored coins (%d):</b> %s, '%s'\n\n",
		len(excluded), strings.Join(excluded, ", "), domain.ExcludedPattern()))

	sb.WriteString(fmt.Sprintf("<b>Limit order markup:</b> %d%%\n\n", a.options.Trade.LimitOrderMarkup))
	sb.WriteString(fmt.Sprintf("<b>Order cancel delay:</b> %d seconds\n", a.options.Trade.OrderCancelDelay))

	if a.options.Debug {
		sb.WriteString("\n<b>Debug mode:</b> on\n")
	}
	if a.options.DisableBuy {
		sb.WriteString("\n<b>Buying:</b> disabled\n")
	}

	return sb.String()
}

func formatBuyAmounts(amounts map[string]int) string {
	quotes := make([]string, 0, len(amounts))
	for quote := range amounts {
		quotes = append(quotes, quote)
	}
	sort.Strings(quotes)

	parts := make([]string, 0, len(quotes))
	for _, quote := range quotes {
		parts = append(parts, fmt.Sprintf("%s: %d%%", quote, amounts[quote]))
	}
	return strings.Join(parts, ", ")
}
