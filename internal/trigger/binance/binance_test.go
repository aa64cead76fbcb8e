package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/infrastructure/httpx"
	"github.com/vtornik/listing-sniper/internal/infrastructure/notify"
	"github.com/vtornik/listing-sniper/internal/infrastructure/telemetry"
	"github.com/vtornik/listing-sniper/internal/trigger"
)

func newTestDeps() trigger.Deps {
	return trigger.Deps{
		HTTP:         httpx.New(time.Second, zap.NewNop()),
		Logger:       zap.NewNop(),
		Chat:         notify.NewChatLog(zap.NewNop()),
		Telemetry:    &telemetry.NoopProvider{},
		DefaultLimit: 25,
	}
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestNew(t *testing.T) {
	e := New(newTestDeps())

	assert.Equal(t, "binance", e.Name())
	assert.Equal(t, 75, e.BuyAmountPercent("BTC"))
	assert.Equal(t, 75, e.BuyAmountPercent("USDT"))
	assert.Equal(t, 0, e.BuyAmountPercent("BNB"))
	assert.Equal(t, 5, e.PartCount())
}

func TestAssetsPart_Get(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"code":"000000","data":[{"assetCode":"MANA"},{"assetCode":"BTC"}]}`))
	})

	p := newAssetsPart(newTestDeps())
	p.url = server.URL

	coins, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Symbol{
		{Code: "MANA", Source: domain.SourceAPIUnofficial, URL: server.URL},
		{Code: "BTC", Source: domain.SourceAPIUnofficial, URL: server.URL},
	}, coins)
}

func TestAssetsPart_BadShape(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":"100002","message":"system error"}`))
	})

	p := newAssetsPart(newTestDeps())
	p.url = server.URL

	_, err := p.Get(context.Background())

	var partErr *trigger.PartError
	require.ErrorAs(t, err, &partErr)
	assert.Equal(t, server.URL, partErr.URL)
}

func TestAssetLogosPart_Get(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"data":[{"asset":"MANA","logoUrl":"x"},{"asset":"LAMB","logoUrl":"y"}]}`))
	})

	p := newAssetLogosPart(newTestDeps())
	p.url = server.URL

	coins, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 2)
	assert.Equal(t, "MANA", coins[0].Code)
	assert.Equal(t, domain.SourceAPIUnofficial, coins[0].Source)

	empty := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	p.url = empty.URL

	_, err = p.Get(context.Background())
	var partErr *trigger.PartError
	assert.ErrorAs(t, err, &partErr)
}

func TestProductsPart_Get(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"code":"000000","data":[{"s":"MANABTC","b":"MANA","q":"BTC"}]}`))
	})

	p := newProductsPart(newTestDeps())
	p.url = server.URL

	coins, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Symbol{
		{Code: "MANA", Source: domain.SourceAPIPair, URL: server.URL},
	}, coins)
}

func TestExchangeInfoPart_Get(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"timezone":"UTC","symbols":[{"symbol":"MANABTC","baseAsset":"MANA"},{"symbol":"MANAETH","baseAsset":"MANA"}]}`))
	})

	p := newExchangeInfoPart(newTestDeps())
	p.url = server.URL

	coins, err := p.Get(context.Background())
	require.NoError(t, err)
	// the exchange dedupes by code, the part reports every row
	require.Len(t, coins, 2)
	assert.Equal(t, "MANA", coins[0].Code)
	assert.Equal(t, domain.SourceAPIPair, coins[0].Source)

	empty := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"symbols":[]}`))
	})
	p.url = empty.URL

	_, err = p.Get(context.Background())
	var partErr *trigger.PartError
	assert.ErrorAs(t, err, &partErr)
}

func TestAnnouncementsPart_Get(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":"000000","data":{"articles":[
			{"title":"Binance Lists Decentraland (MANA)"},
			{"title":"Binance Adds Margin Trading"},
			{"title":"Binance Will List Lambda (LAMB) and (MANA)"},
			{"title":"Notice of Removal (XYZ)"}
		]}}`))
	})

	p := newAnnouncementsPart(newTestDeps())
	p.url = server.URL

	coins, err := p.Get(context.Background())
	require.NoError(t, err)

	codes := make([]string, len(coins))
	for i, c := range coins {
		codes[i] = c.Code
	}
	assert.Equal(t, []string{"MANA", "LAMB"}, codes)

	assert.True(t, p.Actions().CallOnly())
	assert.Equal(t, announcementsDelay, p.Delay())
}

func TestAnnouncementsPart_BadCode(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":"500","data":null}`))
	})

	p := newAnnouncementsPart(newTestDeps())
	p.url = server.URL

	_, err := p.Get(context.Background())

	var partErr *trigger.PartError
	require.ErrorAs(t, err, &partErr)
	assert.Contains(t, partErr.Error(), server.URL)
}

func TestPartErrorPassesThroughRateLimit(t *testing.T) {
	server := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	p := newExchangeInfoPart(newTestDeps())
	p.url = server.URL

	_, err := p.Get(context.Background())

	var tooMany *httpx.TooManyRequestsError
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 30, tooMany.RetryAfter)
	assert.False(t, errors.As(err, new(*trigger.PartError)))
}
