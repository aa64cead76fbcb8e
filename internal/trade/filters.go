package trade

import (
	"sync"

	"github.com/vtornik/listing-sniper/internal/domain"
)

// FilterBook is a concurrency safe pair -> price filter map for venues that
// enforce per-pair price and amount precision on orders.
type FilterBook struct {
	mu      sync.RWMutex
	filters map[string]domain.PriceFilter
}

func NewFilterBook() *FilterBook {
	return &FilterBook{filters: make(map[string]domain.PriceFilter)}
}

// Get returns the filter for pair.
func (b *FilterBook) Get(pair string) (domain.PriceFilter, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	filter, ok := b.filters[pair]
	return filter, ok
}

// Replace swaps the whole filter set for a fresh snapshot.
func (b *FilterBook) Replace(filters map[string]domain.PriceFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = filters
}

// Len returns the number of tracked pairs.
func (b *FilterBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.filters)
}
