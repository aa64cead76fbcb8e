// Package bithumb watches Bithumb, a KRW venue the sniper cannot trade on.
// Every part is call only: a listing there still moves the same coin on the
// tradable venues.
package bithumb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/trigger"
)

const (
	// The asset in the path is ignored, the endpoint always returns the
	// full wallet table.
	assetStatusURL = "https://www.bithumb.com/trade/getAsset/DASH"

	marketSiseURL   = "https://www.bithumb.com/resources/csv/market_sise.json"
	publicTickerURL = "https://api.bithumb.com/public/ticker/ALL"
	cafeBoardURL    = "https://cafe.bithumb.com/boards/43/contents"

	okStatus = "0000"

	announcementsDelay = 3 * time.Second
)

// codeInTitle captures the asset code a board title carries in parentheses.
var codeInTitle = regexp.MustCompile(`\(([A-Za-z0-9]+)\)`)

// listingPhrase is the Korean wording of a market addition notice.
const listingPhrase = "상장 및"

// New builds the Bithumb trigger exchange. The buy amounts are never
// consulted because every part is call only, they only show up in the
// startup report.
func New(deps trigger.Deps) *trigger.Exchange {
	parts := []trigger.Part{
		newAssetStatusPart(deps),
		newMarketSisePart(deps),
		newPublicTickerPart(deps),
		newAnnouncementsPart(deps),
	}
	return deps.NewExchange("bithumb", map[string]int{
		"BTC":  75,
		"ETH":  75,
		"USDT": 75,
	}, parts, nil)
}

// assetStatusPart reads the wallet status table behind the trade pages.
type assetStatusPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newAssetStatusPart(deps trigger.Deps) *assetStatusPart {
	return &assetStatusPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIWallet,
			PartActions: trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  assetStatusURL,
	}
}

func (p *assetStatusPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Error string                     `json:"error"`
		Data  map[string]json.RawMessage `json:"data"`
	}
	headers := map[string]string{"X-Requested-With": "XMLHttpRequest"}
	if err := p.http.GetJSON(ctx, p.url, headers, &out); err != nil {
		return nil, err
	}
	if out.Error != okStatus || len(out.Data) == 0 {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	coins := make([]domain.Symbol, 0, len(out.Data))
	for code := range out.Data {
		coins = append(coins, domain.Symbol{Code: code, Source: p.Source(), URL: p.url})
	}
	return coins, nil
}

// marketSisePart reads the quote table the site renders its market list from.
type marketSisePart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newMarketSisePart(deps trigger.Deps) *marketSisePart {
	return &marketSisePart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIUnofficial,
			PartActions: trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  marketSiseURL,
	}
}

func (p *marketSisePart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out []struct {
		Symbol string `json:"symbol"`
	}
	if err := p.http.GetJSON(ctx, p.url, nil, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &trigger.PartError{URL: p.url, Response: "empty market table"}
	}

	coins := make([]domain.Symbol, 0, len(out))
	for _, row := range out {
		coins = append(coins, domain.Symbol{Code: row.Symbol, Source: p.Source(), URL: p.url})
	}
	return coins, nil
}

// publicTickerPart reads the official all-markets ticker.
type publicTickerPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newPublicTickerPart(deps trigger.Deps) *publicTickerPart {
	return &publicTickerPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIPair,
			PartActions: trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  publicTickerURL,
	}
}

func (p *publicTickerPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Status string                     `json:"status"`
		Data   map[string]json.RawMessage `json:"data"`
	}
	if err := p.http.GetJSON(ctx, p.url, nil, &out); err != nil {
		return nil, err
	}
	if out.Status != okStatus || len(out.Data) == 0 {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	coins := make([]domain.Symbol, 0, len(out.Data))
	for code, raw := range out.Data {
		// the payload mixes coin objects with scalars such as "date"
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			continue
		}
		coins = append(coins, domain.Symbol{Code: code, Source: p.Source(), URL: p.url})
	}
	return coins, nil
}

// announcementsPart polls the cafe notice board, a DataTables backend that
// answers row arrays with the title in the third column.
type announcementsPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newAnnouncementsPart(deps trigger.Deps) *announcementsPart {
	return &announcementsPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceSite,
			PartActions: trigger.ActionCall,
			Limit:       deps.DefaultLimit,
			PollDelay:   announcementsDelay,
		},
		http: deps.HTTP,
		url:  cafeBoardURL,
	}
}

func (p *announcementsPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Data [][]json.RawMessage `json:"data"`
	}
	if err := p.http.PostForm(ctx, p.url, boardQuery(), nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return nil, &trigger.PartError{URL: p.url, Response: "no data rows"}
	}

	const titleColumn = 2

	seen := map[string]struct{}{}
	var coins []domain.Symbol
	for _, row := range out.Data {
		if len(row) <= titleColumn {
			continue
		}
		var title string
		if err := json.Unmarshal(row[titleColumn], &title); err != nil {
			continue
		}
		if !strings.Contains(title, listingPhrase) {
			continue
		}
		for _, match := range codeInTitle.FindAllStringSubmatch(title, -1) {
			code := match[1]
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			coins = append(coins, domain.Symbol{Code: code, Source: p.Source(), URL: p.url})
		}
	}
	return coins, nil
}

// boardQuery is the first page of the board in DataTables wire form.
func boardQuery() url.Values {
	form := url.Values{
		"draw":          {"1"},
		"start":         {"0"},
		"length":        {"15"},
		"search[value]": {""},
		"search[regex]": {"false"},
	}
	for i := 0; i < 5; i++ {
		col := fmt.Sprintf("columns[%d]", i)
		form.Set(col+"[data]", strconv.Itoa(i))
		form.Set(col+"[name]", "")
		form.Set(col+"[searchable]", "true")
		form.Set(col+"[orderable]", "false")
		form.Set(col+"[search][value]", "")
		form.Set(col+"[search][regex]", "false")
	}
	return form
}
