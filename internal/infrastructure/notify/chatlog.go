package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// QueueSize bounds the number of pending chat log events. Producers never
// block: events past the bound are dropped with an error log.
const QueueSize = 512

const sendTimeout = 5 * time.Second

// ChatLog is the process-wide alert channel: many producers, one consumer,
// strict FIFO delivery to every configured target.
type ChatLog struct {
	queue   chan Event
	targets []Client
	logger  *zap.Logger
}

// NewChatLog creates a new ChatLog delivering to the given targets
func NewChatLog(logger *zap.Logger, targets ...Client) *ChatLog {
	return &ChatLog{
		queue:   make(chan Event, QueueSize),
		targets: targets,
		logger:  logger,
	}
}

// Say enqueues a plain loud event of the given type.
func (c *ChatLog) Say(eventType EventType, text string) {
	c.Post(Event{Type: eventType, Text: text})
}

// Post enqueues an event without blocking. The timestamp is filled in when
// the caller leaves it zero.
func (c *ChatLog) Post(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case c.queue <- event:
	default:
		c.logger.Error("Chat log queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("text", event.Text))
	}
}

// Run consumes the queue until ctx is cancelled. Events are delivered one at
// a time so the channel keeps the enqueue order.
func (c *ChatLog) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.queue:
			c.deliver(ctx, event)
		}
	}
}

// Scoped returns a view of the chat log that prefixes every text with tag,
// e.g. "[binance][alice]". The tag is part of the delivered text, same as the
// component prefix on a log line.
func (c *ChatLog) Scoped(tag string) *Scope {
	return &Scope{log: c, tag: tag}
}

// Scope is a ChatLog view bound to one component tag.
type Scope struct {
	log *ChatLog
	tag string
}

// Say enqueues a plain loud event with the scope tag prepended.
func (s *Scope) Say(eventType EventType, text string) {
	s.Post(Event{Type: eventType, Text: text})
}

// Post enqueues an event with the scope tag prepended to its text.
func (s *Scope) Post(event Event) {
	event.Text = s.tag + " " + event.Text
	s.log.Post(event)
}

func (c *ChatLog) deliver(ctx context.Context, event Event) {
	var g errgroup.Group

	for _, target := range c.targets {
		t := target
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()

			if err := t.Send(sendCtx, event); err != nil {
				c.logger.Error("Failed to deliver chat log event",
					zap.Error(err),
					zap.String("event_type", string(event.Type)))
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.logger.Warn("Some chat log targets failed", zap.Error(err))
	}
}
