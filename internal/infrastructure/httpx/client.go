package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout applies when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// Browser user agents attached to outgoing requests, one picked at random
// per request. Several of the polled surfaces refuse non-browser agents.
var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_13_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/65.0.3325.181 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Ubuntu Chromium/65.0.3325.181 Chrome/65.0.3325.181 Safari/537.36",
	"Mozilla/5.0 (Windows NT 6.1; Win64; x64; rv:60.0) Gecko/20100101 Firefox/60.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.13; rv:59.0) Gecko/20100101 Firefox/59.0",
	"Mozilla/5.0 (Windows NT 6.3; Win64; x64; rv:57.0) Gecko/20100101 Firefox/57.0",
}

// TooManyRequestsError is returned for HTTP 429 responses. RetryAfter is the
// integer Retry-After header value, 0 when the header is absent or malformed.
type TooManyRequestsError struct {
	RetryAfter int
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests, retry after %ds", e.RetryAfter)
}

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Client is the shared REST client: browser user agents, one global timeout
// and uniform rate-limit mapping for every surface the sniper polls.
type Client struct {
	hc  *http.Client
	log *zap.Logger
}

// New creates a Client with the given timeout. A non-positive timeout falls
// back to DefaultTimeout.
func New(timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		hc:  &http.Client{Timeout: timeout},
		log: log,
	}
}

// GetJSON fetches url and decodes the JSON response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	setHeaders(req, headers)
	return c.Do(req, out)
}

// GetRaw fetches url and returns the response body verbatim. Used for
// surfaces that prefix their JSON with anti-hijacking junk.
func (c *Client) GetRaw(ctx context.Context, url string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	setHeaders(req, headers)
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// PostForm sends a form-encoded POST and decodes the JSON response into out.
func (c *Client) PostForm(ctx context.Context, url string, form url.Values, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setHeaders(req, headers)
	return c.Do(req, out)
}

// PostJSON sends a JSON POST and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, headers map[string]string, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setHeaders(req, headers)
	return c.Do(req, out)
}

// Do sends a caller-built request with the shared defaults applied and, when
// out is non-nil, decodes the JSON response body into it. Callers that need
// basic auth or custom bodies build the request themselves.
func (c *Client) Do(req *http.Request, out any) error {
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL.Host, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", req.URL.Host, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		c.log.Debug("Rate limited", zap.String("host", req.URL.Host), zap.Int("retryAfter", retryAfter))
		return nil, &TooManyRequestsError{RetryAfter: retryAfter}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
