package notify

import (
	"context"
	"time"
)

// EventType classifies chat log events for downstream consumers.
type EventType string

// Event types published to the chat log.
const (
	TypeListing EventType = "listing"
	TypeOrder   EventType = "order"
	TypeWarning EventType = "warning"
	TypeInfo    EventType = "info"
	TypeStartup EventType = "startup"
)

// Event represents a single chat log entry. Text is plain text unless Raw is
// set, in which case it already contains Telegram-safe HTML markup. Silent
// events must not ring the channel.
type Event struct {
	At     time.Time `json:"ct"`
	Type   EventType `json:"event_type"`
	Text   string    `json:"text"`
	Silent bool      `json:"silent,omitempty"`
	Raw    bool      `json:"raw,omitempty"`
}

// Client represents a chat log delivery target contract
type Client interface {
	Send(ctx context.Context, event Event) error
}
