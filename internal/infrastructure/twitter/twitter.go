// Package twitter is a minimal client for the statuses filter stream, the
// surface exchanges announce listings on. It only follows users and hands
// decoded tweets to the caller.
package twitter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dghubble/oauth1"
	"go.uber.org/zap"
)

const defaultStreamURL = "https://stream.twitter.com/1.1/statuses/filter.json"

// maxMessageSize bounds one stream line. Extended tweets with entities stay
// well under it.
const maxMessageSize = 1 << 20

// Config carries the OAuth1 user context credentials.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// Tweet is one status from the filter stream, reduced to the fields the
// trigger parts read.
type Tweet struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	User struct {
		ID         int64  `json:"id"`
		ScreenName string `json:"screen_name"`
	} `json:"user"`
	Entities struct {
		Symbols []struct {
			Text string `json:"text"`
		} `json:"symbols"`
	} `json:"entities"`
}

// URL returns the public permalink of the tweet.
func (t Tweet) URL() string {
	return fmt.Sprintf("https://twitter.com/%s/status/%d", t.User.ScreenName, t.ID)
}

// Client opens filter streams over an OAuth1 signed connection. The signed
// http client carries no timeout: the stream body is endless.
type Client struct {
	http      *http.Client
	logger    *zap.Logger
	streamURL string
}

func New(cfg Config, logger *zap.Logger) *Client {
	oauth := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)

	return &Client{
		http:      oauth.Client(oauth1.NoContext, token),
		logger:    logger,
		streamURL: defaultStreamURL,
	}
}

// Follow opens a filter stream for the given user ids and calls handle for
// every tweet until the stream breaks or ctx is cancelled. Keep-alive blank
// lines and control messages such as delete notices are skipped. A clean
// server side EOF returns nil; the caller decides whether to reconnect.
func (c *Client) Follow(ctx context.Context, userIDs []string, handle func(Tweet)) error {
	form := url.Values{"follow": {strings.Join(userIDs, ",")}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stream status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Info("Stream connected", zap.String("follow", strings.Join(userIDs, ",")))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var tweet Tweet
		if err := json.Unmarshal(line, &tweet); err != nil {
			c.logger.Warn("Unable to decode stream message", zap.Error(err))
			continue
		}
		if tweet.User.ID == 0 || tweet.Text == "" {
			continue
		}

		c.logger.Info("Tweet",
			zap.String("author", tweet.User.ScreenName),
			zap.String("text", tweet.Text))
		handle(tweet)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
