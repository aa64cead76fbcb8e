// Package bittrex watches the Bittrex public catalogs and the exchange's
// Twitter account, which tweets "market is open" with the coin as a cashtag.
package bittrex

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/twitter"
	"github.com/vtornik/listing-sniper/internal/trigger"
)

const (
	currenciesURL = "https://bittrex.com/api/v1.1/public/getcurrencies"
	marketsURL    = "https://bittrex.com/api/v1.1/public/getmarkets"

	// The exchange's own account. Listings are announced nowhere else first.
	twitterUserID = "1058405958626340869"

	openPhrase = "market is open"
)

// New builds the Bittrex trigger exchange. tw may be nil when the Twitter
// stream is disabled.
func New(deps trigger.Deps, tw *twitter.Client) *trigger.Exchange {
	parts := []trigger.Part{
		newCurrenciesPart(deps),
		newMarketsPart(deps),
	}

	var streams []trigger.StreamPart
	if tw != nil {
		streams = append(streams, newTwitterPart(deps, tw))
	} else {
		deps.Logger.Warn("Twitter disabled", zap.String("trigger", "bittrex"))
	}

	return deps.NewExchange("bittrex", map[string]int{
		"BTC":  75,
		"ETH":  75,
		"USDT": 75,
	}, parts, streams)
}

// currenciesPart lists every asset with a wallet on the venue.
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
		},
		http: deps.HTTP,
		url:  currenciesURL,
	}
}

func (p *currenciesPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Result  []struct {
			Currency string `json:"Currency"`
		} `json:"result"`
	}
	if err := p.http.GetJSON(ctx, p.url, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	coins := make([]domain.Symbol, 0, len(out.Result))
	for _, row := range out.Result {
		coins = append(coins, domain.Symbol{
			Code:   strings.ToUpper(row.Currency),
			Source: p.Source(),
			URL:    p.url,
		})
	}
	return coins, nil
}

// marketsPart lists the tradable pairs.
type marketsPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newMarketsPart(deps trigger.Deps) *marketsPart {
	return &marketsPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIPair,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  marketsURL,
	}
}

func (p *marketsPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Result  []struct {
			MarketCurrency string `json:"MarketCurrency"`
		} `json:"result"`
	}
	if err := p.http.GetJSON(ctx, p.url, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	coins := make([]domain.Symbol, 0, len(out.Result))
	for _, row := range out.Result {
		coins = append(coins, domain.Symbol{
			Code:   strings.ToUpper(row.MarketCurrency),
			Source: p.Source(),
			URL:    p.url,
		})
	}
	return coins, nil
}

// twitterPart follows the exchange account and reads the cashtags out of
// its market opening tweets.
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

// coinsFrom keeps opening announcements authored by the followed account.
// The stream also carries replies and mentions from other users.
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

	if !strings.Contains(strings.ToLower(tweet.Text), openPhrase) {
		return nil
	}

	seen := map[string]struct{}{}
	var coins []domain.Symbol
	for _, symbol := range tweet.Entities.Symbols {
		code := strings.ToUpper(symbol.Text)
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		coins = append(coins, domain.Symbol{Code: code, Source: p.Source(), URL: tweet.URL()})
	}
	return coins
}
