// Package binance is the Binance trade venue: a signed REST client for the
// account surface, a public ticker stream and per-credential user data
// streams.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
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

const (
	defaultRESTURL = "https://api.binance.com/api"
	defaultWSURL   = "wss://stream.binance.com:9443/ws"

	publicVersion  = "v1"
	privateVersion = "v3"

	requestTimeout = 10 * time.Second
)

// APIError is a non-2xx reply from the exchange.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error: status %d: %s", e.Status, e.Body)
}

// Client covers the REST endpoints the sniper needs. Signed requests carry
// every parameter in the query string, a millisecond timestamp and an
// HMAC-SHA256 signature over the encoded query.
type Client struct {
	apiKey    string
	secretKey string
	baseURL   string
	http      *http.Client
	now       func() time.Time
}

func NewClient(apiKey, secretKey string) *Client {
	return &Client{
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   defaultRESTURL,
		http:      &http.Client{Timeout: requestTimeout},
		now:       time.Now,
	}
}

// AccountBalances fetches the account snapshot and returns its balances
// keyed by asset code.
func (c *Client) AccountBalances(ctx context.Context) (map[string]domain.Balance, error) {
	body, err := c.request(ctx, http.MethodGet, privateVersion, "account", nil, true)
	if err != nil {
		return nil, err
	}

	var dto struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, fmt.Errorf("unmarshal account response: %w", err)
	}

	out := make(map[string]domain.Balance, len(dto.Balances))
	for _, b := range dto.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("parse %s free balance: %w", b.Asset, err)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("parse %s locked balance: %w", b.Asset, err)
		}
		out[b.Asset] = domain.Balance{Free: free, Locked: locked}
	}
	return out, nil
}

// CreateLimitBuyOrder places a GTC limit buy and returns the order id.
func (c *Client) CreateLimitBuyOrder(ctx context.Context, symbol, quantity, price string) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", "BUY")
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", quantity)
	params.Set("price", price)

	body, err := c.request(ctx, http.MethodPost, privateVersion, "order", params, true)
	if err != nil {
		return "", err
	}

	var dto struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &dto); err != nil {
		return "", fmt.Errorf("unmarshal order response: %w", err)
	}
	return strconv.FormatInt(dto.OrderID, 10), nil
}

// CancelOrder cancels an order by id and returns the raw reply.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	body, err := c.request(ctx, http.MethodDelete, privateVersion, "order", params, true)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// OpenOrders lists the resting orders across all pairs.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	body, err := c.request(ctx, http.MethodGet, privateVersion, "openOrders", nil, true)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		OrderID int64  `json:"orderId"`
		Symbol  string `json:"symbol"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal open orders response: %w", err)
	}

	out := make([]domain.OpenOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.OpenOrder{ID: strconv.FormatInt(row.OrderID, 10), Pair: row.Symbol})
	}
	return out, nil
}

// CreateListenKey opens a user data stream and returns its listen key.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.request(ctx, http.MethodPost, publicVersion, "userDataStream", nil, false)
	if err != nil {
		return "", err
	}

	var dto struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &dto); err != nil {
		return "", fmt.Errorf("unmarshal listen key response: %w", err)
	}
	if dto.ListenKey == "" {
		return "", fmt.Errorf("empty listen key in response %q", body)
	}
	return dto.ListenKey, nil
}

// KeepaliveListenKey extends the listen key lifetime and returns the raw
// reply.
func (c *Client) KeepaliveListenKey(ctx context.Context, listenKey string) (string, error) {
	params := url.Values{}
	params.Set("listenKey", listenKey)

	body, err := c.request(ctx, http.MethodPut, publicVersion, "userDataStream", params, false)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) request(ctx context.Context, method, version, path string, params url.Values, sign bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if sign {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	}

	// The signature covers the exact encoded query and is appended last so
	// the server verifies the same bytes we signed.
	query := params.Encode()
	if sign {
		query += "&signature=" + c.signature(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, fmt.Sprintf("%s/%s/%s", c.baseURL, version, path), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.URL.RawQuery = query
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) signature(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
