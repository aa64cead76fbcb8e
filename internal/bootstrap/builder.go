package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/caller"
	"github.com/vtornik/listing-sniper/internal/credentials"
	"github.com/vtornik/listing-sniper/internal/infrastructure"
	"github.com/vtornik/listing-sniper/internal/infrastructure/coinmeta"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/internal/infrastructure/twitter"
	"github.com/vtornik/listing-sniper/internal/memwatch"
	"github.com/vtornik/listing-sniper/internal/tgbot"
	"github.com/vtornik/listing-sniper/internal/trade"
	binanceTrade "github.com/vtornik/listing-sniper/internal/trade/binance"
	bittrexTrade "github.com/vtornik/listing-sniper/internal/trade/bittrex"
	huobiTrade "github.com/vtornik/listing-sniper/internal/trade/huobi"
	"github.com/vtornik/listing-sniper/internal/trigger"
	binanceTrigger "github.com/vtornik/listing-sniper/internal/trigger/binance"
	bithumbTrigger "github.com/vtornik/listing-sniper/internal/trigger/bithumb"
	bittrexTrigger "github.com/vtornik/listing-sniper/internal/trigger/bittrex"
	coinbaseTrigger "github.com/vtornik/listing-sniper/internal/trigger/coinbase"
	coinbaseproTrigger "github.com/vtornik/listing-sniper/internal/trigger/coinbasepro"
	telegramTrigger "github.com/vtornik/listing-sniper/internal/trigger/telegram"
	upbitTrigger "github.com/vtornik/listing-sniper/internal/trigger/upbit"
)

// Builder builds the App instance
type Builder struct {
	app *App
	err error
}

// NewBuilder creates a new Builder instance
func NewBuilder() *Builder {
	return &Builder{
		app: &App{},
	}
}

// WithOptionsFetch adds parsed options to the App
func (b *Builder) WithOptionsFetch() *Builder {
	if b.err != nil {
		return b
	}

	opts, err := ParseOptions()
	if err != nil {
		b.err = fmt.Errorf("parsing options: %w", err)
		return b
	}

	b.app.options = opts
	return b
}

// WithLogger initializes the logger
func (b *Builder) WithLogger() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil {
		b.err = fmt.Errorf("options must be initialized before logger")
		return b
	}

	logger, err := infrastructure.NewLogger(b.app.options.Env, b.app.options.ServiceName, b.app.options.Debug)
	if err != nil {
		b.err = fmt.Errorf("creating logger: %w", err)
		return b
	}

	b.app.logger = logger
	return b
}

// WithTelemetry initializes the telemetry provider
func (b *Builder) WithTelemetry() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil {
		b.err = fmt.Errorf("options must be initialized before telemetry")
		return b
	}

	if !b.app.options.Monitoring.Enabled {
		b.app.telemetry = &telemetry.NoopProvider{}
		return b
	}

	b.app.telemetry = telemetry.NewDatadogProvider(&telemetry.DatadogConfig{
		StatsdAddr:    b.app.options.Monitoring.StatsdAddr,
		AgentAddr:     b.app.options.Monitoring.AgentAddr,
		ServiceName:   b.app.options.ServiceName,
		ServiceEnv:    b.app.options.Env,
		EnableTracing: true,
		EnableMetrics: true,
	})
	return b
}

// WithHTTP initializes the shared HTTP client
func (b *Builder) WithHTTP() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil || b.app.logger == nil {
		b.err = fmt.Errorf("options and logger must be initialized before http client")
		return b
	}

	timeout := time.Duration(b.app.options.RequestTimeout) * time.Second
	b.app.http = httpx.New(timeout, b.app.logger)
	return b
}

// WithChatLog wires the chat log and its delivery targets
func (b *Builder) WithChatLog(ctx context.Context) *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil || b.app.logger == nil {
		b.err = fmt.Errorf("options and logger must be initialized before chat log")
		return b
	}
	opts := b.app.options

	tgTarget, err := notify.NewTelegramNotifier(opts.Bot.Token, opts.Bot.LogChannelID)
	if err != nil {
		b.err = fmt.Errorf("creating telegram notifier: %w", err)
		return b
	}
	targets := []notify.Client{tgTarget}

	if opts.Env == "dev" || opts.Debug {
		targets = append(targets, notify.NewConsoleNotifier(os.Stdout))
	}

	if opts.Redis.URL != "" {
		redisClient, err := infrastructure.NewRedisClient(ctx, opts.Redis.URL, 1)
		if err != nil {
			b.app.logger.Warn("Failed to initialize Redis notifier", zap.Error(err))
		} else {
			targets = append(targets, notify.NewRedisNotifier(redisClient, opts.Redis.AlertsChannel))
		}
	}

	b.app.chat = notify.NewChatLog(b.app.logger, targets...)
	return b
}

// WithCaller loads the phone book and binds it to Twilio
func (b *Builder) WithCaller() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil || b.app.logger == nil || b.app.http == nil {
		b.err = fmt.Errorf("options, logger, and http client must be initialized before caller")
		return b
	}
	opts := b.app.options

	c, err := caller.New(caller.Config{
		FromNumber:  opts.Twilio.FromNumber,
		AccountSID:  opts.Twilio.AccountSID,
		AuthKey:     opts.Twilio.AuthToken,
		NumbersFile: opts.Twilio.NumbersFile,
	}, b.app.http, b.app.logger)
	if err != nil {
		b.err = fmt.Errorf("creating caller: %w", err)
		return b
	}

	b.app.caller = c
	return b
}

// WithCoinMeta initializes the coin metadata index
func (b *Builder) WithCoinMeta() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.logger == nil || b.app.http == nil {
		b.err = fmt.Errorf("logger and http client must be initialized before coin metadata")
		return b
	}

	b.app.meta = coinmeta.New(b.app.http, b.app.logger)
	return b
}

// WithTwitter initializes the stream client when twitter is enabled. The
// trigger venues treat a nil client as "no stream part".
func (b *Builder) WithTwitter() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil || b.app.logger == nil {
		b.err = fmt.Errorf("options and logger must be initialized before twitter")
		return b
	}
	opts := b.app.options

	if !opts.Twitter.Enabled {
		return b
	}

	if opts.Twitter.ConsumerKey == "" || opts.Twitter.ConsumerSecret == "" ||
		opts.Twitter.AccessToken == "" || opts.Twitter.AccessSecret == "" {
		b.err = fmt.Errorf("twitter enabled but OAuth credentials are incomplete")
		return b
	}

	b.app.twitter = twitter.New(twitter.Config{
		ConsumerKey:    opts.Twitter.ConsumerKey,
		ConsumerSecret: opts.Twitter.ConsumerSecret,
		AccessToken:    opts.Twitter.AccessToken,
		AccessSecret:   opts.Twitter.AccessSecret,
	}, b.app.logger)
	return b
}

// WithTradeManager loads the credentials and prepares the buy venues
func (b *Builder) WithTradeManager() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil || b.app.logger == nil || b.app.http == nil ||
		b.app.chat == nil || b.app.telemetry == nil {
		b.err = fmt.Errorf("options, logger, http client, chat log, and telemetry must be initialized before trade manager")
		return b
	}
	opts := b.app.options

	creds, err := credentials.Load(opts.Trade.CredentialsFile)
	if err != nil {
		b.err = fmt.Errorf("loading credentials: %w", err)
		return b
	}
	b.app.credentials = creds

	markup := opts.Trade.LimitOrderMarkup
	cancelDelay := time.Duration(opts.Trade.OrderCancelDelay) * time.Second

	b.app.trade = trade.NewManager(trade.ManagerParams{
		Available: []trade.Exchange{
			binanceTrade.New(binanceTrade.Params{
				HTTP:        b.app.http,
				Logger:      b.app.logger,
				Chat:        b.app.chat,
				Telemetry:   b.app.telemetry,
				Markup:      markup,
				CancelDelay: cancelDelay,
			}),
			bittrexTrade.New(bittrexTrade.Params{
				HTTP:        b.app.http,
				Logger:      b.app.logger,
				Chat:        b.app.chat,
				Telemetry:   b.app.telemetry,
				Markup:      markup,
				CancelDelay: cancelDelay,
			}),
			huobiTrade.New(huobiTrade.Params{
				HTTP:        b.app.http,
				Logger:      b.app.logger,
				Chat:        b.app.chat,
				Telemetry:   b.app.telemetry,
				Markup:      markup,
				CancelDelay: cancelDelay,
			}),
		},
		Debug:     opts.Debug,
		Logger:    b.app.logger,
		Chat:      b.app.chat,
		Telemetry: b.app.telemetry,
	})
	return b
}

// WithTriggers wires every watch venue and the channel post feed
func (b *Builder) WithTriggers() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil || b.app.logger == nil || b.app.http == nil ||
		b.app.chat == nil || b.app.telemetry == nil ||
		b.app.trade == nil || b.app.caller == nil || b.app.meta == nil {
		b.err = fmt.Errorf("trade manager, caller, and coin metadata must be initialized before triggers")
		return b
	}
	opts := b.app.options

	deps := trigger.Deps{
		HTTP:         b.app.http,
		Router:       b.app.trade,
		Caller:       b.app.caller,
		Meta:         b.app.meta,
		Debug:        opts.Debug,
		DisableBuy:   opts.DisableBuy,
		DefaultLimit: opts.Trigger.PriceChangeLimit,
		Logger:       b.app.logger,
		Chat:         b.app.chat,
		Telemetry:    b.app.telemetry,
	}

	telegramExchange, feed := telegramTrigger.New(deps, opts.Trigger.UpbitKRWLimit, opts.Trigger.UpbitBTCLimit)
	b.app.feed = feed

	b.app.triggers = trigger.NewManager(b.app.logger,
		binanceTrigger.New(deps),
		bithumbTrigger.New(deps),
		bittrexTrigger.New(deps, b.app.twitter),
		coinbaseTrigger.New(deps),
		coinbaseproTrigger.New(deps, b.app.twitter),
		upbitTrigger.New(deps),
		telegramExchange,
	)
	return b
}

// WithBot initializes the operator bot
func (b *Builder) WithBot() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil || b.app.logger == nil ||
		b.app.trade == nil || b.app.triggers == nil || b.app.feed == nil {
		b.err = fmt.Errorf("trade manager and triggers must be initialized before bot")
		return b
	}
	opts := b.app.options

	showLimit, err := decimal.NewFromString(opts.Bot.BalanceShowLimit)
	if err != nil {
		b.err = fmt.Errorf("parsing balance show limit: %w", err)
		return b
	}

	b.app.bot = tgbot.New(tgbot.Params{
		Config: tgbot.Config{
			Token:               opts.Bot.Token,
			AuthorizedUsers:     opts.Bot.AuthorizedUsers,
			ListenChannelID:     opts.Bot.ListenChannelID,
			BalanceShowLimitBTC: showLimit,
			WhiteList:           opts.Symbols.WhiteList,
			BlackList:           opts.Symbols.BlackList,
		},
		Traders:  b.app.trade,
		Triggers: b.app.triggers,
		Feed:     b.app.feed,
		Logger:   b.app.logger,
	})
	return b
}

// WithMemWatcher initializes the memory report writer
func (b *Builder) WithMemWatcher() *Builder {
	if b.err != nil {
		return b
	}

	if b.app.options == nil || b.app.logger == nil {
		b.err = fmt.Errorf("options and logger must be initialized before memory watcher")
		return b
	}

	interval := time.Duration(b.app.options.Mem.CheckInterval) * time.Second
	b.app.memWatch = memwatch.New(b.app.options.Mem.ReportsDir, interval, b.app.logger)
	return b
}

// Build returns the built App instance
func (b *Builder) Build() (*App, error) {
	if b.err != nil {
		return nil, b.err
	}

	if b.app.options == nil ||
		b.app.logger == nil ||
		b.app.telemetry == nil ||
		b.app.chat == nil ||
		b.app.caller == nil ||
		b.app.meta == nil ||
		b.app.trade == nil ||
		b.app.triggers == nil ||
		b.app.bot == nil ||
		b.app.memWatch == nil {
		return nil, fmt.Errorf("missing required dependencies")
	}

	return b.app, nil
}
