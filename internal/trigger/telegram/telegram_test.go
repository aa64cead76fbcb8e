package telegram

import (
	"context"
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

func TestNew(t *testing.T) {
	e, feed := New(newTestDeps(), 40, 50)

	assert.Equal(t, "telegram", e.Name())
	assert.Equal(t, 70, e.BuyAmountPercent("BNB"))
	assert.Equal(t, 3, e.PartCount())
	require.NotNil(t, feed)

	assert.Equal(t, 25, feed.parts[domain.SourceTelegram].PriceChangeLimit())
	assert.Equal(t, 40, feed.parts[domain.SourceTGUpbitKRW].PriceChangeLimit())
	assert.Equal(t, 50, feed.parts[domain.SourceTGUpbitBTC].PriceChangeLimit())
}

func TestBufferPart_DrainOnGet(t *testing.T) {
	p := newBufferPart(domain.SourceTGUpbitKRW, 40)
	p.Add(domain.Symbol{Code: "MANA", Source: domain.SourceTGUpbitKRW})
	p.Add(domain.Symbol{Code: "LAMB", Source: domain.SourceTGUpbitKRW})

	coins, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, coins, 2)

	coins, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.Empty(t, coins)
}

func TestBufferPart_DedupesByCode(t *testing.T) {
	p := newBufferPart(domain.SourceTelegram, 25)
	p.Add(domain.Symbol{Code: "MANA", Source: domain.SourceTelegram, URL: "one"})
	p.Add(domain.Symbol{Code: "MANA", Source: domain.SourceTelegram, URL: "two"})

	coins, err := p.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "two", coins[0].URL)
}

func TestFeed_Add(t *testing.T) {
	_, feed := New(newTestDeps(), 40, 50)

	assert.True(t, feed.Add(domain.Symbol{Code: "MANA", Source: domain.SourceTGUpbitKRW}))
	assert.True(t, feed.Add(domain.Symbol{Code: "FAKE", Source: domain.SourceTelegram}))
	assert.False(t, feed.Add(domain.Symbol{Code: "MANA", Source: domain.SourceTwitter}))

	coins, err := feed.parts[domain.SourceTGUpbitKRW].Get(context.Background())
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, "MANA", coins[0].Code)
}
