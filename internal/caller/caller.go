// Package caller rings operator phones through the Twilio voice API when a
// listing with the call action fires. Numbers come from a YAML file keyed by
// account name; only enabled accounts and numbers are dialed.
package caller

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
)

const (
	defaultBaseURL = "https://api.twilio.com"

	// Twilio plays this demo message to the callee. The content does not
	// matter, the ringing phone is the signal.
	voiceURL = "http://demo.twilio.com/docs/voice.xml"
)

// Config holds the Twilio credentials and the numbers file location.
type Config struct {
	FromNumber  string
	AccountSID  string
	AuthKey     string
	NumbersFile string
}

// Account is a named group of phone numbers dialed together.
type Account struct {
	Name    string
	Numbers []string
}

// Caller dials configured phone numbers via Twilio.
type Caller struct {
	cfg     Config
	baseURL string
	http    *httpx.Client

	accounts []Account
	logger   *zap.Logger
}

type numberEntry struct {
	Enabled bool  `yaml:"enabled"`
	Number  int64 `yaml:"number"`
}

type accountEntry struct {
	Enabled bool          `yaml:"enabled"`
	Numbers []numberEntry `yaml:"numbers"`
}

// New loads the numbers file and validates every number up front so a typo
// surfaces at startup, not during an alert.
func New(cfg Config, http *httpx.Client, logger *zap.Logger) (*Caller, error) {
	raw, err := os.ReadFile(cfg.NumbersFile)
	if err != nil {
		return nil, fmt.Errorf("read phone numbers file: %w", err)
	}

	accounts, err := parseAccounts(raw, logger)
	if err != nil {
		return nil, err
	}

	return &Caller{
		cfg:      cfg,
		baseURL:  defaultBaseURL,
		http:     http,
		accounts: accounts,
		logger:   logger,
	}, nil
}

// AccountNames returns the enabled account names for the startup summary.
func (c *Caller) AccountNames() []string {
	names := make([]string, 0, len(c.accounts))
	for _, a := range c.accounts {
		names = append(names, a.Name)
	}
	return names
}

// NumberCount returns how many numbers CallAll dials.
func (c *Caller) NumberCount() int {
	n := 0
	for _, a := range c.accounts {
		n += len(a.Numbers)
	}
	return n
}

// CallAll dials every number of every enabled account concurrently. Failures
// are logged and never propagated: one unreachable phone must not stop the
// others from ringing.
func (c *Caller) CallAll(ctx context.Context) {
	var g errgroup.Group

	for _, account := range c.accounts {
		for _, number := range account.Numbers {
			to := number
			g.Go(func() error {
				if err := c.makeCall(ctx, to); err != nil {
					c.logger.Error("Call failed", zap.String("to", to), zap.Error(err))
				}
				return nil
			})
		}
	}

	_ = g.Wait()
}

func (c *Caller) makeCall(ctx context.Context, to string) error {
	c.logger.Info("Calling", zap.String("to", to))

	form := url.Values{}
	form.Set("From", c.cfg.FromNumber)
	form.Set("To", to)
	form.Set("Url", voiceURL)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build call request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result map[string]any
	if err := c.http.Do(req, &result); err != nil {
		return err
	}

	c.logger.Info("Call result", zap.String("to", to), zap.Any("result", result))
	return nil
}

func parseAccounts(raw []byte, logger *zap.Logger) ([]Account, error) {
	var file map[string]accountEntry
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse phone numbers file: %w", err)
	}

	names := make([]string, 0, len(file))
	for name := range file {
		names = append(names, name)
	}
	sort.Strings(names)

	var accounts []Account
	for _, name := range names {
		e := file[name]
		if !e.Enabled {
			logger.Info("Phone account disabled, ignoring", zap.String("account", name))
			continue
		}

		account := Account{Name: name}
		for _, n := range e.Numbers {
			number, err := parseNumber(n.Number)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", name, err)
			}
			if !n.Enabled {
				logger.Info("Phone number disabled, ignoring",
					zap.String("account", name), zap.String("number", number))
				continue
			}
			account.Numbers = append(account.Numbers, number)
		}

		accounts = append(accounts, account)
		logger.Info("Added phone account",
			zap.String("account", name), zap.Int("numbers", len(account.Numbers)))
	}

	return accounts, nil
}

// parseNumber accepts numbers in the 79991234567 form and returns them with
// the leading plus Twilio expects.
func parseNumber(n int64) (string, error) {
	s := strconv.FormatInt(n, 10)
	if len(s) != 11 {
		return "", fmt.Errorf("phone number %d must be 11 digits", n)
	}
	return "+" + s, nil
}
