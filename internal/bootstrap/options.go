package bootstrap

import "github.com/jessevdk/go-flags"

// Options holds all configuration options. Env var names are flat because
// the deployment keeps them in a single .env file.
type Options struct {
	Env         string `long:"env" env:"ENV" default:"dev" description:"Environment"`
	ServiceName string `long:"service-name" env:"SERVICE_NAME" default:"listing-sniper" description:"Service name"`

	Debug      bool `long:"debug" env:"DEBUG" description:"Verbose logging, no orders placed, no phones dialed"`
	DisableBuy bool `long:"disable-buy" env:"DISABLE_BUY" description:"Alerts and calls only, never route buys"`

	RequestTimeout int `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"60" description:"HTTP request timeout in seconds"`

	Trigger struct {
		PriceChangeLimit int `long:"price-change-limit" env:"PRICE_CHANGE_LIMIT_IN_PERCENT" default:"25" description:"Default 24h price change ceiling in percent"`
		UpbitKRWLimit    int `long:"upbit-krw-limit" env:"UPBIT_KRW_PRICE_CHANGE_LIMIT" required:"true" description:"Price change ceiling for the Upbit KRW channel part"`
		UpbitBTCLimit    int `long:"upbit-btc-limit" env:"UPBIT_BTC_PRICE_CHANGE_LIMIT" required:"true" description:"Price change ceiling for the Upbit BTC channel part"`
	} `group:"trigger" namespace:"trigger"`

	Trade struct {
		LimitOrderMarkup int    `long:"limit-order-markup" env:"LIMIT_ORDER_MARKUP" default:"15" description:"Percent added to the ask when pricing a limit buy"`
		OrderCancelDelay int    `long:"order-cancel-delay" env:"ORDER_CANCEL_DELAY" default:"15" description:"Seconds before a placed order is cancelled"`
		CredentialsFile  string `long:"credentials-file" env:"CREDENTIALS_FILE" default:"credentials.yaml" description:"Trade account credentials YAML"`
	} `group:"trade" namespace:"trade"`

	Bot struct {
		Token            string  `long:"token" env:"BOT_TOKEN" required:"true" description:"Telegram bot token"`
		LogChannelID     string  `long:"log-channel-id" env:"LOG_CHANNEL_ID" required:"true" description:"Channel receiving the chat log"`
		ListenChannelID  int64   `long:"listen-channel-id" env:"LISTEN_CHANNEL_ID" required:"true" description:"Channel watched for listing posts"`
		AuthorizedUsers  []int64 `long:"authorized-users" env:"AUTHORIZED_USERS_TELEGRAM_IDS" env-delim:"," required:"true" description:"User ids allowed to issue commands"`
		BalanceShowLimit string  `long:"balance-show-limit" env:"BALANCE_SHOW_LIMIT_BTC" default:"0.005" description:"Hide /balances assets worth less BTC than this"`
	} `group:"bot" namespace:"bot"`

	Symbols struct {
		WhiteList []string `long:"white-list" env:"SYMBOLS_WHITE_LIST" env-delim:"," description:"Codes accepted from channel BTC pair posts"`
		BlackList []string `long:"black-list" env:"SYMBOLS_BLACK_LIST" env-delim:"," description:"Codes rejected from channel KRW posts"`
	} `group:"symbols" namespace:"symbols"`

	Twilio struct {
		AccountSID  string `long:"account-sid" env:"TWILIO_ACCOUNT_SID" required:"true" description:"Twilio account SID"`
		AuthToken   string `long:"auth-token" env:"TWILIO_AUTH_KEY" required:"true" description:"Twilio auth token"`
		FromNumber  string `long:"from-number" env:"TWILIO_FROM_NUMBER" required:"true" description:"Caller id for alert calls"`
		NumbersFile string `long:"numbers-file" env:"PHONE_NUMBERS_FILE" default:"phone_numbers.yaml" description:"Phone numbers YAML"`
	} `group:"twilio" namespace:"twilio"`

	Twitter struct {
		Enabled        bool   `long:"enabled" env:"TWITTER_ENABLED" description:"Schedule the twitter stream parts"`
		ConsumerKey    string `long:"consumer-key" env:"TWITTER_CONSUMER_KEY" description:"OAuth1 consumer key"`
		ConsumerSecret string `long:"consumer-secret" env:"TWITTER_CONSUMER_SECRET" description:"OAuth1 consumer secret"`
		AccessToken    string `long:"access-token" env:"TWITTER_ACCESS_TOKEN" description:"OAuth1 access token"`
		AccessSecret   string `long:"access-secret" env:"TWITTER_ACCESS_SECRET" description:"OAuth1 access secret"`
	} `group:"twitter" namespace:"twitter"`

	Monitoring struct {
		Enabled    bool   `long:"enabled" env:"MONITORING_ENABLED" description:"Send telemetry to Datadog"`
		StatsdAddr string `long:"statsd-addr" env:"STATSD_ADDR" default:"127.0.0.1:8125" description:"statsd endpoint"`
		AgentAddr  string `long:"agent-addr" env:"DD_AGENT_ADDR" default:"127.0.0.1:8126" description:"Datadog trace agent endpoint"`
	} `group:"monitoring" namespace:"monitoring"`

	Redis struct {
		URL           string `long:"url" env:"REDIS_URL" description:"Optional Redis mirror for chat log events"`
		AlertsChannel string `long:"alerts-channel" env:"REDIS_ALERTS_CHANNEL" default:"sniper:alerts" description:"Channel the mirror publishes to"`
	} `group:"redis" namespace:"redis"`

	Mem struct {
		CheckInterval int    `long:"check-interval" env:"MEM_CHECK_INTERVAL" description:"Seconds between memory reports, 0 disables them"`
		ReportsDir    string `long:"reports-dir" env:"MEM_REPORTS_DIR" default:"_mem_reports" description:"Directory for memory reports"`
	} `group:"mem" namespace:"mem"`
}

// ParseOptions parses command line arguments and environment variables
func ParseOptions() (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}
	return &opts, nil
}
