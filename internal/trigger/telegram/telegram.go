// Package telegram hosts the trigger fed by the chat bot instead of by
// polling public APIs. Channel posts about Upbit markets and /fake_coin
// commands land in buffers that the check loops drain.
package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/trigger"
)

// drainDelay paces the buffer check loops. The buffers are in memory, so
// unlike the HTTP parts there is no request latency to slow the loop down.
const drainDelay = 100 * time.Millisecond

// New builds the telegram trigger exchange and the feed the bot pushes
// symbols through. The channel parts carry the Upbit price change limits:
// channel posts are about Upbit markets, wherever the buy lands.
func New(deps trigger.Deps, krwLimit, btcLimit int) (*trigger.Exchange, *Feed) {
	plain := newBufferPart(domain.SourceTelegram, deps.DefaultLimit)
	krw := newBufferPart(domain.SourceTGUpbitKRW, krwLimit)
	btc := newBufferPart(domain.SourceTGUpbitBTC, btcLimit)

	feed := &Feed{parts: map[domain.Source]*BufferPart{
		domain.SourceTelegram:   plain,
		domain.SourceTGUpbitKRW: krw,
		domain.SourceTGUpbitBTC: btc,
	}}

	e := deps.NewExchange("telegram", map[string]int{
		"BTC":  70,
		"BNB":  70,
		"ETH":  70,
		"USDT": 70,
	}, []trigger.Part{plain, krw, btc}, nil)

	return e, feed
}

// Feed routes pushed symbols to the buffer matching their source.
type Feed struct {
	parts map[domain.Source]*BufferPart
}

// Add pushes a symbol into its source buffer. It reports false when no
// buffer accepts the symbol's source.
func (f *Feed) Add(coin domain.Symbol) bool {
	part, ok := f.parts[coin.Source]
	if !ok {
		return false
	}
	part.Add(coin)
	return true
}

// BufferPart collects symbols pushed by the bot and hands them over on the
// next drain, deduplicated by code.
type BufferPart struct {
	trigger.PartConfig

	mu    sync.Mutex
	coins map[string]domain.Symbol
}

func newBufferPart(source domain.Source, limit int) *BufferPart {
	return &BufferPart{
		PartConfig: trigger.PartConfig{
			PartSource:  source,
			PartActions: trigger.ActionBuy | trigger.ActionCall,
			Limit:       limit,
			PollDelay:   drainDelay,
		},
		coins: map[string]domain.Symbol{},
	}
}

func (p *BufferPart) Add(coin domain.Symbol) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coins[coin.Code] = coin
}

func (p *BufferPart) Get(context.Context) ([]domain.Symbol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	coins := make([]domain.Symbol, 0, len(p.coins))
	for _, coin := range p.coins {
		coins = append(coins, coin)
	}
	p.coins = map[string]domain.Symbol{}
	return coins, nil
}
