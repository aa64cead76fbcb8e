// Package upbit watches the crix master table behind the Upbit markets, a
// KRW venue whose listings move prices everywhere else.
package upbit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/trigger"
)

const crixMasterURL = "https://s3.ap-northeast-2.amazonaws.com/crix-production/crix_master"

// New builds the Upbit trigger exchange.
func New(deps trigger.Deps) *trigger.Exchange {
	return deps.NewExchange("upbit", map[string]int{
		"BTC":  75,
		"ETH":  75,
		"USDT": 75,
		"BNB":  75,
	}, []trigger.Part{
		newKRWPairsPart(deps),
		newBTCPairsPart(deps),
	}, nil)
}

// pairsPart reads the master table and keeps the base currencies quoted in
// one market. The nonce defeats the S3 edge cache.
type pairsPart struct {
	trigger.PartConfig
	http  *httpx.Client
	url   string
	quote string
	now   func() time.Time
}

func newKRWPairsPart(deps trigger.Deps) *pairsPart {
	return &pairsPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIPair,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       25,
		},
		http:  deps.HTTP,
		url:   crixMasterURL,
		quote: "KRW",
		now:   time.Now,
	}
}

func newBTCPairsPart(deps trigger.Deps) *pairsPart {
	return &pairsPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIPair,
			PartActions: trigger.ActionCall,
			Limit:       deps.DefaultLimit,
			PollDelay:   10 * time.Second,
		},
		http:  deps.HTTP,
		url:   crixMasterURL,
		quote: "BTC",
		now:   time.Now,
	}
}

func (p *pairsPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	url := fmt.Sprintf("%s?nonce=%d", p.url, p.now().Unix())

	var out []struct {
		BaseCurrencyCode  string `json:"baseCurrencyCode"`
		QuoteCurrencyCode string `json:"quoteCurrencyCode"`
	}
	if err := p.http.GetJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}

	var coins []domain.Symbol
	for _, row := range out {
		if !strings.EqualFold(row.QuoteCurrencyCode, p.quote) {
			continue
		}
		coins = append(coins, domain.Symbol{
			Code:   strings.ToUpper(row.BaseCurrencyCode),
			Source: p.Source(),
			URL:    url,
		})
	}
	return coins, nil
}
