package notify

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
)

// TelegramNotifier delivers chat log events to a Telegram channel
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
}

// NewTelegramNotifier creates a new TelegramNotifier
func NewTelegramNotifier(botToken, chatID string) (*TelegramNotifier, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("bot token and chat ID are required")
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org/bot",
	}, nil
}

// Send posts the event text to the channel. Raw events are assumed to carry
// valid HTML markup already; everything else is escaped so arbitrary feed
// content cannot break the HTML parse mode.
func (t *TelegramNotifier) Send(ctx context.Context, event Event) error {
	text := event.Text
	if !event.Raw {
		text = html.EscapeString(text)
	}

	apiURL := fmt.Sprintf("%s%s/sendMessage", t.baseURL, t.botToken)
	params := url.Values{}
	params.Add("chat_id", t.chatID)
	params.Add("text", text)
	params.Add("parse_mode", "HTML")
	if event.Silent {
		params.Add("disable_notification", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.URL.RawQuery = params.Encode()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status code: %d (%s)", resp.StatusCode, body)
	}

	return nil
}
