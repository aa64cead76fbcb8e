// Package coinmeta resolves asset codes to display names and info page URLs
// using the public CoinMarketCap quick search index. The index is fetched
// lazily and cached in memory for a day; lookups never fail the caller, a
// missing or stale index just means no metadata.
package coinmeta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
)

const (
	defaultAPIURL = "https://s2.coinmarketcap.com/generated/search/quick_search.json"
	coinURLFormat = "https://coinmarketcap.com/currencies/%s/"

	cacheTTL = 24 * time.Hour
)

type entry struct {
	Name   string   `json:"name"`
	Slug   string   `json:"slug"`
	Tokens []string `json:"tokens"`
}

// Meta is the resolved metadata for a coin code.
type Meta struct {
	Name string
	URL  string
}

// Index is a cached view of the quick search data.
type Index struct {
	http   *httpx.Client
	logger *zap.Logger
	apiURL string

	mu        sync.Mutex
	data      []entry
	updatedAt time.Time
}

// New creates an Index. The first fetch happens on Warmup or on the first
// Lookup, whichever comes first.
func New(http *httpx.Client, logger *zap.Logger) *Index {
	return &Index{
		http:   http,
		logger: logger,
		apiURL: defaultAPIURL,
	}
}

// Warmup fetches the index once so the first listing alert does not pay the
// download. Fetch errors are logged and swallowed.
func (i *Index) Warmup(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.fetch(ctx)
	i.logger.Info("Coin index warmed up", zap.Int("entries", len(i.data)))
}

// Lookup resolves a code to its name and info page URL. The second return
// value is false when the code is unknown or the index is unavailable.
func (i *Index) Lookup(ctx context.Context, code string) (Meta, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.data) == 0 || time.Since(i.updatedAt) > cacheTTL {
		i.logger.Info("Updating coin index")
		i.fetch(ctx)
	}

	for _, e := range i.data {
		for _, token := range e.Tokens {
			if token == code {
				i.logger.Info("Coin info found",
					zap.String("code", code),
					zap.String("name", e.Name),
					zap.String("slug", e.Slug))
				return Meta{Name: e.Name, URL: fmt.Sprintf(coinURLFormat, e.Slug)}, true
			}
		}
	}

	i.logger.Info("Coin info not found", zap.String("code", code))
	return Meta{}, false
}

func (i *Index) fetch(ctx context.Context) {
	var data []entry
	if err := i.http.GetJSON(ctx, i.apiURL, nil, &data); err != nil {
		i.logger.Warn("Fetching coin index failed", zap.Error(err))
		return
	}

	i.data = data
	i.updatedAt = time.Now()
}
