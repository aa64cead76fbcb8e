// Package bittrex is the Bittrex trade venue: the v1.1 REST API plus the
// SignalR c2 hub for market summaries and account deltas.
package bittrex

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vtornik/listing-sniper/internal/domain"
)

const defaultRESTURL = "https://bittrex.com/api/v1.1"

// APIError is a success=false reply from the exchange.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "bittrex api error: " + e.Message
}

// Client covers the v1.1 endpoints the sniper needs. Private requests carry
// apikey and nonce in the query and an HMAC-SHA512 signature of the full URL
// in the apisign header.
type Client struct {
	apiKey    string
	secretKey string
	baseURL   string
	http      *http.Client
	nonce     func() string
}

func NewClient(apiKey, secretKey string) *Client {
	return &Client{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   defaultRESTURL,
		http:      &http.Client{Timeout: requestTimeout},
		nonce: func() string {
			return strconv.FormatInt(time.Now().UnixNano(), 10)
		},
	}
}

const requestTimeout = 10 * time.Second

// Balances fetches all account balances keyed by asset code. Bittrex splits
// a balance into total and available, so locked is the difference.
func (c *Client) Balances(ctx context.Context) (map[string]domain.Balance, error) {
	var rows []struct {
		Currency  string      `json:"Currency"`
		Balance   json.Number `json:"Balance"`
		Available json.Number `json:"Available"`
	}
	if err := c.get(ctx, "/account/getbalances", nil, true, &rows); err != nil {
		return nil, err
	}

	out := make(map[string]domain.Balance, len(rows))
	for _, row := range rows {
		total, err := numberOrZero(row.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse %s balance: %w", row.Currency, err)
		}
		available, err := numberOrZero(row.Available)
		if err != nil {
			return nil, fmt.Errorf("parse %s available balance: %w", row.Currency, err)
		}
		out[row.Currency] = domain.Balance{Free: available, Locked: total.Sub(available)}
	}
	return out, nil
}

// BuyLimit places a limit buy and returns the order uuid.
func (c *Client) BuyLimit(ctx context.Context, market string, quantity int64, rate string) (string, error) {
	params := url.Values{}
	params.Set("market", market)
	params.Set("quantity", strconv.FormatInt(quantity, 10))
	params.Set("rate", rate)

	var result struct {
		UUID string `json:"uuid"`
	}
	if err := c.get(ctx, "/market/buylimit", params, true, &result); err != nil {
		return "", err
	}
	return result.UUID, nil
}

// CancelOrder cancels an order by uuid and returns the raw result.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (string, error) {
	params := url.Values{}
	params.Set("uuid", orderID)

	var result json.RawMessage
	if err := c.get(ctx, "/market/cancel", params, true, &result); err != nil {
		return "", err
	}
	return string(result), nil
}

// OpenOrders lists the resting orders across all markets.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	var rows []struct {
		OrderUUID string `json:"OrderUuid"`
		Exchange  string `json:"Exchange"`
	}
	if err := c.get(ctx, "/market/getopenorders", nil, true, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.OpenOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.OpenOrder{ID: row.OrderUUID, Pair: row.Exchange})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, private bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if private {
		params.Set("apikey", c.apiKey)
		params.Set("nonce", c.nonce())
	}

	fullURL := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if private {
		req.Header.Set("apisign", c.signature(fullURL))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d (%s)", resp.StatusCode, body)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unmarshal bittrex response: %w", err)
	}
	if !envelope.Success {
		return &APIError{Message: envelope.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("unmarshal bittrex result: %w", err)
	}
	return nil
}

func (c *Client) signature(fullURL string) string {
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write([]byte(fullURL))
	return hex.EncodeToString(mac.Sum(nil))
}

// signChallenge signs the auth challenge for the account stream.
func (c *Client) signChallenge(challenge string) string {
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// numberOrZero parses a JSON number, treating absent and null values as
// zero the way the venue's nullable balances need.
func numberOrZero(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}
