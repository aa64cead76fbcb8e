package trade

import (
	"sync"

	"github.com/vtornik/listing-sniper/internal/domain"
)

// TickerBook is a concurrency safe pair -> ticker map. Venue connectors
// write it from their streams, the buy path reads it.
type TickerBook struct {
	mu      sync.RWMutex
	tickers map[string]domain.Ticker
}

func NewTickerBook() *TickerBook {
	return &TickerBook{tickers: make(map[string]domain.Ticker)}
}

// Get returns the ticker for pair.
func (b *TickerBook) Get(pair string) (domain.Ticker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ticker, ok := b.tickers[pair]
	return ticker, ok
}

// Set stores the ticker for pair, replacing any previous value.
func (b *TickerBook) Set(pair string, ticker domain.Ticker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickers[pair] = ticker
}

// Len returns the number of tracked pairs.
func (b *TickerBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tickers)
}
