// Package trigger hosts the watch side of the sniper: parts that poll or
// stream exchange surfaces for asset codes, grouped per exchange into
// novelty sets that decide which codes count as fresh listings.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/vtornik/listing-sniper/internal/domain"
)

// Actions is the set of reactions a part asks for when it finds a new coin.
type Actions uint8

const (
	ActionBuy Actions = 1 << iota
	ActionCall
)

// Has reports whether action is part of the set.
func (a Actions) Has(action Actions) bool { return a&action != 0 }

// CallOnly reports whether the set is exactly {call}. Call-only parts track
// their coins separately so they never feed the buy path.
func (a Actions) CallOnly() bool { return a == ActionCall }

// PartView is the part descriptor the novelty pipeline needs.
type PartView interface {
	Source() domain.Source
	Actions() Actions
	PriceChangeLimit() int
}

// Part is one polled observation channel inside a trigger exchange.
type Part interface {
	PartView

	// Delay is the pause before every poll, including the first one.
	Delay() time.Duration

	// Get fetches the currently visible symbols. A recognized but unusable
	// response is reported as *PartError.
	Get(ctx context.Context) ([]domain.Symbol, error)
}

// StreamPart is a long lived producer of symbol batches, one session per
// Stream call. The owning exchange restarts it when it returns.
type StreamPart interface {
	PartView

	Stream(ctx context.Context, emit func([]domain.Symbol)) error
}

// PartError reports a poll response whose shape does not match what the
// part expects. The loop logs it and keeps polling.
type PartError struct {
	URL      string
	Response string
}

func (e *PartError) Error() string {
	return fmt.Sprintf("URL: %q, response: %q", e.URL, e.Response)
}

// PartConfig carries the descriptors shared by every part implementation.
// Venue packages embed it and fill the fields at construction time.
type PartConfig struct {
	PartSource  domain.Source
	PartActions Actions

	// Limit is the 24h price change ceiling passed to the buy fan-out.
	Limit int

	// PollDelay is the pause between polls. Zero re-polls immediately.
	PollDelay time.Duration
}

func (c PartConfig) Source() domain.Source { return c.PartSource }
func (c PartConfig) Actions() Actions      { return c.PartActions }
func (c PartConfig) PriceChangeLimit() int { return c.Limit }
func (c PartConfig) Delay() time.Duration  { return c.PollDelay }

// sleep waits for d or until ctx is cancelled. It reports whether the full
// wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
