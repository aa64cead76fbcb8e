// Package coinbasepro watches the professional Coinbase venue: the currency
// catalog, the blog feed on medium and the exchange's Twitter account.
package coinbasepro

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/twitter"
	"github.com/vtornik/listing-sniper/internal/trigger"
)

const (
	currenciesURL   = "https://api.pro.coinbase.com/currencies/"
	mediumStreamURL = "https://medium.com/_/api/collections/c114225aeaf7/stream"
	blogURL         = "https://blog.coinbase.com/"

	launchPhrase = "is launching on coinbase pro"

	// The exchange's own account.
	twitterUserID = "720487892670410753"
)

var (
	codeInTitle = regexp.MustCompile(`\(([A-Za-z0-9]+)\)`)
	capsToken   = regexp.MustCompile(`[A-Z]+\b`)
)

// New builds the Coinbase Pro trigger exchange. tw may be nil when the
// Twitter stream is disabled.
func New(deps trigger.Deps, tw *twitter.Client) *trigger.Exchange {
	parts := []trigger.Part{
		newCurrenciesPart(deps),
		newMediumPart(deps),
	}

	var streams []trigger.StreamPart
	if tw != nil {
		streams = append(streams, newTwitterPart(deps, tw))
	} else {
		deps.Logger.Warn("Twitter disabled", zap.String("trigger", "coinbase_pro"))
	}

	return deps.NewExchange("coinbase_pro", map[string]int{
		"BTC":  75,
		"ETH":  75,
		"USDT": 75,
		"BNB":  75,
	}, parts, streams)
}

// currenciesPart lists every currency with a wallet on the venue. The poll
// delay keeps the sniper under the public rate limit.
type currenciesPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newCurrenciesPart(deps trigger.Deps) *currenciesPart {
	return &currenciesPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIWallet,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       deps.DefaultLimit,
			PollDelay:   time.Second,
		},
		http: deps.HTTP,
		url:  currenciesURL,
	}
}

func (p *currenciesPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out []struct {
		ID string `json:"id"`
	}
	if err := p.http.GetJSON(ctx, p.url, nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &trigger.PartError{URL: p.url, Response: "empty currency list"}
	}

	coins := make([]domain.Symbol, 0, len(out))
	for _, row := range out {
		coins = append(coins, domain.Symbol{
			Code:   strings.ToUpper(row.ID),
			Source: p.Source(),
			URL:    p.url,
		})
	}
	return coins, nil
}

// mediumPart mirrors the Coinbase blog part with the venue's own launch
// phrase.
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

// twitterPart follows the exchange account. Launch tweets name the coin in
// upper case, so every caps token counts. Tweets mentioning USDC are pair
// shuffles of the stable coin, not listings.
type twitterPart struct {
	trigger.PartConfig
	client  *twitter.Client
	follows []string
}

func newTwitterPart(deps trigger.Deps, client *twitter.Client) *twitterPart {
	return &twitterPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceTwitter,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		client:  client,
		follows: []string{twitterUserID},
	}
}

func (p *twitterPart) Stream(ctx context.Context, emit func([]domain.Symbol)) error {
	return p.client.Follow(ctx, p.follows, func(tweet twitter.Tweet) {
		coins := p.coinsFrom(tweet)
		if len(coins) > 0 {
			emit(coins)
		}
	})
}

func (p *twitterPart) coinsFrom(tweet twitter.Tweet) []domain.Symbol {
	author := strconv.FormatInt(tweet.User.ID, 10)
	followed := false
	for _, id := range p.follows {
		if id == author {
			followed = true
			break
		}
	}
	if !followed {
		return nil
	}

	if strings.Contains(tweet.Text, "USDC") {
		return nil
	}

	seen := map[string]struct{}{}
	var coins []domain.Symbol
	for _, code := range capsToken.FindAllString(tweet.Text, -1) {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		coins = append(coins, domain.Symbol{Code: code, Source: p.Source(), URL: tweet.URL()})
	}
	return coins
}
