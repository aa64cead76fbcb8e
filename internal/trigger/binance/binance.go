// Package binance watches the Binance surfaces that betray a listing before
// the market opens: asset catalogs, pair lists and the announcement feed.
package binance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/trigger"
)

const (
	assetsURL        = "https://www.binance.com/gateway-api/v1/public/asset/asset/get-all-asset"
	assetLogosURL    = "https://www.binance.com/dictionary/getAssetPic.html"
	productsURL      = "https://www.binance.com/exchange-api/v2/public/asset-service/product/get-products"
	exchangeInfoURL  = "https://api.binance.com/api/v1/exchangeInfo"
	announcementsURL = "https://www.binance.com/gateway-api/v1/public/cms/article/catalog/list/query?catalogId=48&pageNo=1&pageSize=15"

	// okCode marks a successful gateway response.
	okCode = "000000"

	announcementsDelay = 3 * time.Second
)

// codeInTitle captures the asset code an announcement title carries in
// parentheses, e.g. "Binance Lists Decentraland (MANA)".
var codeInTitle = regexp.MustCompile(`\(([A-Za-z0-9]+)\)`)

var listingWords = []string{"list", "lists", "listing"}

// New builds the Binance trigger exchange.
func New(deps trigger.Deps) *trigger.Exchange {
	parts := []trigger.Part{
		newAssetsPart(deps),
		newAssetLogosPart(deps),
		newProductsPart(deps),
		newExchangeInfoPart(deps),
		newAnnouncementsPart(deps),
	}
	return deps.NewExchange("binance", map[string]int{
		"BTC":  75,
		"ETH":  75,
		"USDT": 75,
	}, parts, nil)
}

// assetsPart lists every asset the venue can hold. Deposits for a new coin
// open here before its market does.
type assetsPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newAssetsPart(deps trigger.Deps) *assetsPart {
	return &assetsPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIUnofficial,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  assetsURL,
	}
}

func (p *assetsPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Code string `json:"code"`
		Data []struct {
			AssetCode string `json:"assetCode"`
		} `json:"data"`
	}
	if err := p.http.PostForm(ctx, p.url, nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Code != okCode || len(out.Data) == 0 {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	coins := make([]domain.Symbol, 0, len(out.Data))
	for _, row := range out.Data {
		coins = append(coins, domain.Symbol{Code: row.AssetCode, Source: p.Source(), URL: p.url})
	}
	return coins, nil
}

// assetLogosPart reads the logo dictionary. Logos are uploaded while a
// listing is still being prepared.
type assetLogosPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newAssetLogosPart(deps trigger.Deps) *assetLogosPart {
	return &assetLogosPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIUnofficial,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  assetLogosURL,
	}
}

func (p *assetLogosPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Data []struct {
			Asset string `json:"asset"`
		} `json:"data"`
	}
	if err := p.http.PostForm(ctx, p.url, nil, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	coins := make([]domain.Symbol, 0, len(out.Data))
	for _, row := range out.Data {
		coins = append(coins, domain.Symbol{Code: row.Asset, Source: p.Source(), URL: p.url})
	}
	return coins, nil
}

// productsPart reads the market catalog that backs the exchange front page.
type productsPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newProductsPart(deps trigger.Deps) *productsPart {
	return &productsPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIPair,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  productsURL,
	}
}

func (p *productsPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Code string `json:"code"`
		Data []struct {
			BaseAsset string `json:"b"`
		} `json:"data"`
	}
	if err := p.http.GetJSON(ctx, p.url, nil, &out); err != nil {
		return nil, err
	}
	if out.Code != okCode || len(out.Data) == 0 {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	coins := make([]domain.Symbol, 0, len(out.Data))
	for _, row := range out.Data {
		coins = append(coins, domain.Symbol{Code: row.BaseAsset, Source: p.Source(), URL: p.url})
	}
	return coins, nil
}

// exchangeInfoPart reads the official trading rules endpoint.
type exchangeInfoPart struct {
	trigger.PartConfig
	http *httpx.Client
	url  string
}

func newExchangeInfoPart(deps trigger.Deps) *exchangeInfoPart {
	return &exchangeInfoPart{
		PartConfig: trigger.PartConfig{
			PartSource:  domain.SourceAPIPair,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       deps.DefaultLimit,
		},
		http: deps.HTTP,
		url:  exchangeInfoURL,
	}
}

func (p *exchangeInfoPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Symbols []struct {
			BaseAsset string `json:"baseAsset"`
		} `json:"symbols"`
	}
	if err := p.http.GetJSON(ctx, p.url, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Symbols) == 0 {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	coins := make([]domain.Symbol, 0, len(out.Symbols))
	for _, row := range out.Symbols {
		coins = append(coins, domain.Symbol{Code: row.BaseAsset, Source: p.Source(), URL: p.url})
	}
	return coins, nil
}

// announcementsPart scans the news catalog for listing announcements. It
// only rings the phone: the title regex is too loose to trade on.
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
		url:  announcementsURL,
	}
}

func (p *announcementsPart) Get(ctx context.Context) ([]domain.Symbol, error) {
	var out struct {
		Code string `json:"code"`
		Data struct {
			Articles []struct {
				Title string `json:"title"`
			} `json:"articles"`
		} `json:"data"`
	}
	if err := p.http.GetJSON(ctx, p.url, nil, &out); err != nil {
		return nil, err
	}
	if out.Code != okCode {
		return nil, &trigger.PartError{URL: p.url, Response: fmt.Sprintf("%+v", out)}
	}

	seen := map[string]struct{}{}
	var coins []domain.Symbol
	for _, article := range out.Data.Articles {
		title := strings.ToLower(strings.TrimSpace(article.Title))
		if !containsAny(title, listingWords) {
			continue
		}
		for _, match := range codeInTitle.FindAllStringSubmatch(title, -1) {
			code := strings.ToUpper(match[1])
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			coins = append(coins, domain.Symbol{Code: code, Source: p.Source(), URL: p.url})
		}
	}
	return coins, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
