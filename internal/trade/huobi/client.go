// Package huobi is the Huobi trade venue: the signed v1 REST API plus gzip
// compressed websocket streams for tickers and account updates.
package huobi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vtornik/listing-sniper/internal/domain"
)

const (
	defaultRESTURL = "https://api.huobi.pro"

	requestTimeout = 10 * time.Second

	signatureMethod  = "HmacSHA256"
	signatureVersion = "2"
	timestampLayout  = "2006-01-02T15:04:05"
)

// APIError is a status!=ok reply from the exchange.
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("huobi api error %s: %s", e.Code, e.Message)
}

// Client covers the private v1 endpoints the sniper needs. Every request
// carries the version 2 auth params and signature in the query string.
type Client struct {
	accessKey string
	secretKey string
	baseURL   string
	http      *http.Client
	now       func() time.Time
}

func NewClient(accessKey, secretKey string) *Client {
	return &Client{
		accessKey: accessKey,
		secretKey: secretKey,
		baseURL:   defaultRESTURL,
		http:      &http.Client{Timeout: requestTimeout},
		now:       time.Now,
	}
}

// AccountInfo is one account the credential owns. Orders go to the first one.
type AccountInfo struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	State string `json:"state"`
}

func (c *Client) Accounts(ctx context.Context) ([]AccountInfo, error) {
	var accounts []AccountInfo
	if err := c.request(ctx, http.MethodGet, "/v1/account/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Balances fetches the account balance list and folds the per-type rows into
// one balance per asset. Assets with nothing in trade or frozen are dropped.
func (c *Client) Balances(ctx context.Context, accountID int64) (map[string]domain.Balance, error) {
	var result struct {
		List []balanceRow `json:"list"`
	}
	path := fmt.Sprintf("/v1/account/accounts/%d/balance", accountID)
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	balances, err := foldBalances(result.List)
	if err != nil {
		return nil, err
	}
	for asset, balance := range balances {
		if balance.Free.IsZero() && balance.Locked.IsZero() {
			delete(balances, asset)
		}
	}
	return balances, nil
}

// PlaceLimitBuyOrder places a limit buy sized by quote amount and returns
// the order id.
func (c *Client) PlaceLimitBuyOrder(ctx context.Context, accountID int64, amount, symbol, price string) (string, error) {
	body := map[string]any{
		"account-id": accountID,
		"amount":     amount,
		"source":     "api",
		"symbol":     strings.ToLower(symbol),
		"price":      price,
		"type":       "buy-limit",
	}

	var orderID string
	if err := c.request(ctx, http.MethodPost, "/v1/order/orders/place", body, &orderID); err != nil {
		return "", err
	}
	return orderID, nil
}

// CancelOrder submits a cancel for an order by id and returns the venue's
// confirmation, which echoes the order id back.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (string, error) {
	var result string
	path := fmt.Sprintf("/v1/order/orders/%s/submitcancel", orderID)
	if err := c.request(ctx, http.MethodPost, path, nil, &result); err != nil {
		return "", err
	}
	return result, nil
}

// OpenOrders lists the resting orders on the account.
func (c *Client) OpenOrders(ctx context.Context, accountID int64) ([]domain.OpenOrder, error) {
	var rows []struct {
		ID     int64  `json:"id"`
		Symbol string `json:"symbol"`
	}
	body := map[string]any{"account-id": accountID}
	if err := c.request(ctx, http.MethodGet, "/v1/order/openOrders", body, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.OpenOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.OpenOrder{
			ID:   strconv.FormatInt(row.ID, 10),
			Pair: strings.ToUpper(row.Symbol),
		})
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	params := url.Values{}
	params.Set("AccessKeyId", c.accessKey)
	params.Set("SignatureMethod", signatureMethod)
	params.Set("SignatureVersion", signatureVersion)
	params.Set("Timestamp", c.now().UTC().Format(timestampLayout))

	host := c.baseURL
	if u, err := url.Parse(c.baseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	query := params.Encode()
	params.Set("Signature", signPayload(c.secretKey, method, host, path, query))

	var reqBody io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+params.Encode(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		Status  string          `json:"status"`
		ErrCode string          `json:"err-code"`
		ErrMsg  string          `json:"err-msg"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("unmarshal huobi response: %w", err)
	}
	if envelope.Status != "ok" {
		return &APIError{Code: envelope.ErrCode, Message: envelope.ErrMsg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("unmarshal huobi result: %w", err)
	}
	return nil
}

// signPayload builds the venue's version 2 signature: a base64 HMAC-SHA256
// over the method, host, path and encoded auth params joined by newlines.
// The account websocket authenticates with the same scheme.
func signPayload(secretKey, method, host, path, query string) string {
	payload := strings.Join([]string{method, host, path, query}, "\n")
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// balanceRow is one per-type balance entry. The venue reports an asset as
// separate trade and frozen rows.
type balanceRow struct {
	AccountID int64  `json:"account-id"`
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
}

func foldBalances(rows []balanceRow) (map[string]domain.Balance, error) {
	grouped := make(map[string]map[string]decimal.Decimal)
	for _, row := range rows {
		value, err := decimal.NewFromString(row.Balance)
		if err != nil {
			return nil, fmt.Errorf("parse %s %s balance: %w", row.Currency, row.Type, err)
		}
		asset := strings.ToUpper(row.Currency)
		if grouped[asset] == nil {
			grouped[asset] = make(map[string]decimal.Decimal)
		}
		grouped[asset][strings.ToLower(row.Type)] = value
	}

	out := make(map[string]domain.Balance, len(grouped))
	for asset, types := range grouped {
		out[asset] = domain.Balance{Free: types["trade"], Locked: types["frozen"]}
	}
	return out, nil
}
