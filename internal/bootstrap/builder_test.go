package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const credentialsFixture = `
binance:
  alice:
    api_key: binance-key
    secret_key: binance-secret
    enabled: true
bittrex:
  bob:
    api_key: bittrex-key
    secret_key: bittrex-secret
    enabled: true
`

const numbersFixture = `
main:
  enabled: true
  numbers:
    - enabled: true
      number: 79991234567
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// newTestOptions returns Options configured for testing. Every file the
// builder reads points at a fixture so no test touches the network.
func newTestOptions(t *testing.T) *Options {
	t.Helper()

	opts := &Options{
		Env:            "dev",
		ServiceName:    "test-sniper",
		RequestTimeout: 1,
	}
	opts.Trigger.PriceChangeLimit = 25
	opts.Trigger.UpbitKRWLimit = 40
	opts.Trigger.UpbitBTCLimit = 50
	opts.Trade.LimitOrderMarkup = 15
	opts.Trade.OrderCancelDelay = 15
	opts.Trade.CredentialsFile = writeFile(t, "credentials.yaml", credentialsFixture)
	opts.Bot.Token = "test-token"
	opts.Bot.LogChannelID = "-1001"
	opts.Bot.ListenChannelID = -1002
	opts.Bot.AuthorizedUsers = []int64{42}
	opts.Bot.BalanceShowLimit = "0.005"
	opts.Twilio.AccountSID = "ACxxx"
	opts.Twilio.AuthToken = "authkey"
	opts.Twilio.FromNumber = "+15005550006"
	opts.Twilio.NumbersFile = writeFile(t, "phone_numbers.yaml", numbersFixture)
	opts.Mem.ReportsDir = t.TempDir()
	return opts
}

// buildAll runs the full chain except option parsing, which tests bypass by
// injecting options directly.
func buildAll(ctx context.Context, b *Builder) (*App, error) {
	return b.
		WithLogger().
		WithTelemetry().
		WithHTTP().
		WithChatLog(ctx).
		WithCaller().
		WithCoinMeta().
		WithTwitter().
		WithTradeManager().
		WithTriggers().
		WithBot().
		WithMemWatcher().
		Build()
}

func TestBuilder(t *testing.T) {
	tests := []struct {
		name         string
		setupBuilder func(t *testing.T) *Builder
		wantBuildErr string
		validate     func(t *testing.T, app *App)
	}{
		{
			name: "logger requires options",
			setupBuilder: func(t *testing.T) *Builder {
				return NewBuilder().WithLogger()
			},
			wantBuildErr: "options must be initialized before logger",
		},
		{
			name: "missing credentials file should fail",
			setupBuilder: func(t *testing.T) *Builder {
				b := NewBuilder()
				b.app.options = newTestOptions(t)
				b.app.options.Trade.CredentialsFile = filepath.Join(t.TempDir(), "nope.yaml")
				return b
			},
			wantBuildErr: "loading credentials",
		},
		{
			name: "duplicate credentials should fail",
			setupBuilder: func(t *testing.T) *Builder {
				b := NewBuilder()
				b.app.options = newTestOptions(t)
				b.app.options.Trade.CredentialsFile = writeFile(t, "credentials.yaml", `
binance:
  alice:
    api_key: shared-key
    secret_key: shared-secret
    enabled: true
  bob:
    api_key: shared-key
    secret_key: shared-secret
    enabled: true
`)
				return b
			},
			wantBuildErr: "non unique credentials",
		},
		{
			name: "bad balance show limit should fail",
			setupBuilder: func(t *testing.T) *Builder {
				b := NewBuilder()
				b.app.options = newTestOptions(t)
				b.app.options.Bot.BalanceShowLimit = "lots"
				return b
			},
			wantBuildErr: "parsing balance show limit",
		},
		{
			name: "successful build with all components",
			setupBuilder: func(t *testing.T) *Builder {
				b := NewBuilder()
				b.app.options = newTestOptions(t)
				return b
			},
			validate: func(t *testing.T, app *App) {
				assert.NotNil(t, app.chat, "chat log should be set")
				assert.NotNil(t, app.trade, "trade manager should be set")
				assert.NotNil(t, app.bot, "bot should be set")
				assert.Len(t, app.credentials, 2)
				assert.Len(t, app.triggers.Exchanges(), 7)
				assert.NotNil(t, app.triggers.Exchange("telegram"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			app, err := buildAll(ctx, tt.setupBuilder(t))

			if tt.wantBuildErr != "" {
				require.Error(t, err, "Build should return error")
				assert.Contains(t, err.Error(), tt.wantBuildErr)
				return
			}

			require.NoError(t, err, "Build should not return error")
			if tt.validate != nil {
				tt.validate(t, app)
			}
		})
	}
}

func TestBuilderTwitterToggle(t *testing.T) {
	ctx := context.Background()

	b := NewBuilder()
	b.app.options = newTestOptions(t)
	app, err := buildAll(ctx, b)
	require.NoError(t, err)
	assert.Nil(t, app.twitter)
	assert.Equal(t, 2, app.triggers.Exchange("bittrex").PartCount(), "no stream part without twitter")

	b = NewBuilder()
	b.app.options = newTestOptions(t)
	b.app.options.Twitter.Enabled = true
	b.app.options.Twitter.ConsumerKey = "ck"
	b.app.options.Twitter.ConsumerSecret = "cs"
	b.app.options.Twitter.AccessToken = "at"
	b.app.options.Twitter.AccessSecret = "as"
	app, err = buildAll(ctx, b)
	require.NoError(t, err)
	assert.NotNil(t, app.twitter)
	assert.Equal(t, 3, app.triggers.Exchange("bittrex").PartCount())
	assert.Equal(t, 3, app.triggers.Exchange("coinbase_pro").PartCount())
}

func TestBuilderTwitterIncompleteCredentials(t *testing.T) {
	b := NewBuilder()
	b.app.options = newTestOptions(t)
	b.app.options.Twitter.Enabled = true
	b.app.options.Twitter.ConsumerKey = "ck"

	_, err := buildAll(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OAuth credentials are incomplete")
}

func TestStartupSummary(t *testing.T) {
	b := NewBuilder()
	b.app.options = newTestOptions(t)
	app, err := buildAll(context.Background(), b)
	require.NoError(t, err)

	summary := app.startupSummary()

	assert.Contains(t, summary, "Bot started.")
	assert.Contains(t, summary, "<b>Enabled phone accounts:</b> main (1 numbers)")
	assert.Contains(t, summary, "<b>Enabled trigger parts:</b>")
	assert.Contains(t, summary, "<code> binance(BTC: 75%, ETH: 75%, USDT: 75%): </code>")
	assert.Contains(t, summary, "<b>Limit order markup:</b> 15%")
	assert.Contains(t, summary, "<b>Order cancel delay:</b> 15 seconds")
	assert.NotContains(t, summary, "<b>Debug mode:</b>")

	b = NewBuilder()
	b.app.options = newTestOptions(t)
	b.app.options.Debug = true
	b.app.options.DisableBuy = true
	app, err = buildAll(context.Background(), b)
	require.NoError(t, err)

	summary = app.startupSummary()
	assert.Contains(t, summary, "<b>Debug mode:</b> on")
	assert.Contains(t, summary, "<b>Buying:</b> disabled")
}

func TestMain(m *testing.M) {
	// Clear os.Args to prevent interference with flag parsing.
	os.Args = []string{os.Args[0]}
	os.Exit(m.Run())
}
