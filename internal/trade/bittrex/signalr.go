package bittrex

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultSignalRHTTPURL = "https://socket.bittrex.com/signalr"
	defaultSignalRWSURL   = "wss://socket.bittrex.com/signalr"

	signalRHub      = "c2"
	signalRProtocol = "1.5"
)

// hubMessage is one server-to-client hub invocation, e.g. a summary or
// balance delta.
type hubMessage struct {
	Method string
	Args   []json.RawMessage
}

type callResult struct {
	result json.RawMessage
	err    error
}

// signalRClient speaks just enough of the SignalR 1.5 wire protocol for the
// c2 hub: negotiate, connect, hub calls with reply correlation and the
// server push stream. One client serves one connection; reconnecting means
// dialing a fresh client.
type signalRClient struct {
	httpURL string
	wsURL   string
	http    *http.Client
	logger  *zap.Logger

	conn *websocket.Conn
	msgs chan hubMessage

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     int
	pending map[string]chan callResult
	failed  error
}

func newSignalRClient(httpURL, wsURL string, logger *zap.Logger) *signalRClient {
	return &signalRClient{
		httpURL: httpURL,
		wsURL:   wsURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		msgs:    make(chan hubMessage, 64),
		pending: make(map[string]chan callResult),
	}
}

// dial negotiates a connection token and opens the websocket transport.
func (c *signalRClient) dial(ctx context.Context) error {
	connectionData := `[{"name":"` + signalRHub + `"}]`

	query := url.Values{}
	query.Set("clientProtocol", signalRProtocol)
	query.Set("connectionData", connectionData)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpURL+"/negotiate?"+query.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create negotiate request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("negotiate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read negotiate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("negotiate: unexpected status code: %d (%s)", resp.StatusCode, body)
	}

	var negotiation struct {
		ConnectionToken string `json:"ConnectionToken"`
	}
	if err := json.Unmarshal(body, &negotiation); err != nil {
		return fmt.Errorf("unmarshal negotiate response: %w", err)
	}
	if negotiation.ConnectionToken == "" {
		return fmt.Errorf("negotiate: empty connection token in %q", body)
	}

	query = url.Values{}
	query.Set("transport", "webSockets")
	query.Set("clientProtocol", signalRProtocol)
	query.Set("connectionToken", negotiation.ConnectionToken)
	query.Set("connectionData", connectionData)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL+"/connect?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	return nil
}

// call invokes a hub method and waits for its reply.
func (c *signalRClient) call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}

	c.mu.Lock()
	if c.failed != nil {
		err := c.failed
		c.mu.Unlock()
		return nil, err
	}
	c.seq++
	id := strconv.Itoa(c.seq)
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload := map[string]any{"H": signalRHub, "M": method, "A": args, "I": id}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("call %s: %w", method, res.err)
		}
		return res.result, nil
	}
}

// messages returns the server push stream. The channel closes when the
// connection dies.
func (c *signalRClient) messages() <-chan hubMessage {
	return c.msgs
}

func (c *signalRClient) close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *signalRClient) readLoop() {
	defer close(c.msgs)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.failPending(err)
			return
		}

		var frame struct {
			I string          `json:"I"`
			R json.RawMessage `json:"R"`
			E string          `json:"E"`
			M []struct {
				M string            `json:"M"`
				A []json.RawMessage `json:"A"`
			} `json:"M"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("Unable to parse signalr frame", zap.ByteString("data", data), zap.Error(err))
			continue
		}

		if frame.I != "" {
			c.resolve(frame.I, frame.R, frame.E)
			continue
		}

		for _, m := range frame.M {
			c.msgs <- hubMessage{Method: m.M, Args: m.A}
		}
	}
}

func (c *signalRClient) resolve(id string, result json.RawMessage, errMsg string) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	if errMsg != "" {
		ch <- callResult{err: fmt.Errorf("hub error: %s", errMsg)}
		return
	}
	ch <- callResult{result: result}
}

func (c *signalRClient) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *signalRClient) failPending(err error) {
	c.mu.Lock()
	c.failed = err
	for id, ch := range c.pending {
		ch <- callResult{err: err}
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

// decodePayload unpacks one pushed argument: a base64 string wrapping a raw
// DEFLATE stream of JSON.
func decodePayload(arg json.RawMessage) ([]byte, error) {
	var encoded string
	if err := json.Unmarshal(arg, &encoded); err != nil {
		return nil, fmt.Errorf("decode payload wrapper: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode payload base64: %w", err)
	}

	reader := flate.NewReader(bytes.NewReader(raw))
	defer reader.Close()

	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("inflate payload: %w", err)
	}
	return payload, nil
}
