// Package coinbase watches the Coinbase blog feed on medium, where retail
// asset launches are announced with the ticker in parentheses.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/trigger"
)

const (
	// The collection stream of the-coinbase-blog. The body starts with an
	// anti hijacking prefix before the JSON document.
	mediumStreamURL = "https://medium.com/_/api/collections/c114225aeaf7/stream"
	blogURL         = "https://blog.coinbase.com/"

	launchPhrase = "is now available on coinbase"
)

var codeInTitle = regexp.MustCompile(`\(([A-Za-z0-9]+)\)`)

// New builds the Coinbase trigger exchange.
func New(deps trigger.Deps) *trigger.Exchange {
	return deps.NewExchange("coinbase", map[string]int{
		"BTC":  75,
		"ETH":  75,
		"USDT": 75,
		"BNB":  75,
	}, []trigger.Part{newMediumPart(deps)}, nil)
}

type mediumPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newMediumPart(deps trigger.Deps) *mediumPart {
	return &mediumPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIUnofficial,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  mediumStreamURL,
	}
}

// Get extracts tickers from post titles carrying the launch phrase. Launch
// posts come from the blog, so the symbols carry the site source rather than
// the part's own.
func (p *mediumPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	raw, err := p.http.GetRaw(ctx, p.url, nil)
	if err != nil {
		return nil, err
	}
	start := strings.Index(raw, "{")
	if start < 0 {
		return nil, &trigger.PartError{URL: p.url, Response: raw}
	}

	var out struct {
		Success bool `json:"success"`
		Payload struct {
			References struct {
				Post map[string]struct {
					Title string `json:"title"`
				} `json:"Post"`
			} `json:"references"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(raw[start:]), &out); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	if !out.Success {
		return nil, &trigger.PartError{URL: p.url, Response: raw[start:]}
	}

	seen := map[string]struct{}{}
	var coins []domain.Symbol
	for _, post := range out.Payload.References.Post {
		if !strings.Contains(strings.ToLower(post.Title), launchPhrase) {
			continue
		}
		for _, match := range codeInTitle.FindAllStringSubmatch(post.Title, -1) {
			code := match[1]
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			coins = append(coins, domain.Symbol{Code: code, Source: domain.SourceSite, URL: blogURL})
		}
	}
	return coins, nil
}
