package tgbot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/internal/trade"
	"github.com/vtornik/listing-sniper/pkg/utils/decimalutils"
)

const fakeCoinURL = "http://fake.telegram.url"

const helpText = `<b>Commands</b>
/balances - account balances per venue
/cancel - cancel every open order on every account
/delete_coin &lt;exchange&gt; &lt;coin&gt; - forget a coin so it can trigger again, one argument drops it everywhere (/dc)
/fake_coin &lt;coin&gt; - push a fake listing through the telegram trigger (/fk)
/help - this message`

func (b *Bot) cmdBalances(ctx context.Context, m *message) {
	accounts := b.allAccounts()

	snapshots := make([]map[string]domain.Balance, len(accounts))
	width := 0
	for i, va := range accounts {
		snapshots[i] = va.account.Balances()
		for asset := range snapshots[i] {
			if len(asset) > width {
				width = len(asset)
			}
		}
	}

	lines := []string{fmt.Sprintf("Assets that cost less than ₿%s are ignored.\n", b.cfg.BalanceShowLimitBTC)}

	owner := ""
	for i, va := range accounts {
		if va.account.Owner() != owner {
			if owner != "" {
				lines = append(lines, "")
			}
			owner = va.account.Owner()
			lines = append(lines, "<b>"+owner+"</b>")
		}
		lines = append(lines, "\t"+va.exchange.Name())

		assets := make([]string, 0, len(snapshots[i]))
		for asset := range snapshots[i] {
			assets = append(assets, asset)
		}
		sort.Strings(assets)

		shown := 0
		for _, asset := range assets {
			balance := snapshots[i][asset]
			if !b.showable(asset, balance.Total(), va.exchange) {
				continue
			}
			line := fmt.Sprintf("\t\t%-*s = %s", width, asset, decimalutils.Norm(balance.Free))
			if !balance.Free.Equal(balance.Total()) {
				line += "/" + decimalutils.Norm(balance.Total())
			}
			lines = append(lines, "<code>"+line+"</code>")
			shown++
		}
		if shown == 0 {
			lines = append(lines, "<i>\t\tno significant balances</i>")
		}
	}
	if len(accounts) > 0 {
		lines = append(lines, "")
	}

	b.reply(ctx, m, strings.Join(lines, "\n"))
}

// showable filters dust from the balance report. A missing ticker shows the
// asset rather than hiding funds the venue cannot price.
func (b *Bot) showable(asset string, total decimal.Decimal, e trade.Exchange) bool {
	limit := b.cfg.BalanceShowLimitBTC
	if decimalutils.Norm(total) == "0" {
		return false
	}
	if asset == "BTC" {
		return total.GreaterThanOrEqual(limit)
	}

	price, ok := b.priceInBTC(asset, e)
	if !ok {
		return true
	}

	cost := price.Mul(total)
	if cost.LessThan(limit) {
		b.logger.Info("Balance below show limit",
			zap.String("asset", asset),
			zap.String("total", total.String()),
			zap.String("cost", cost.String()))
		return false
	}
	return true
}

// priceInBTC prices one unit of asset in BTC using the venue's tickers.
// USD-like assets trade as the quote of the BTC pair, so their rate is the
// inverse.
func (b *Bot) priceInBTC(asset string, e trade.Exchange) (decimal.Decimal, bool) {
	usdLike := strings.Contains(asset, "USD")

	var pair string
	if usdLike {
		pair = e.MakePair("BTC", asset)
	} else {
		pair = e.MakePair(asset, "BTC")
	}

	ticker, ok := e.Ticker(pair)
	if !ok {
		b.logger.Warn("Ticker not found",
			zap.String("pair", pair),
			zap.String("exchange", e.Name()))
		return decimal.Decimal{}, false
	}

	if usdLike {
		if ticker.Price.IsZero() {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromInt(1).Div(ticker.Price), true
	}
	return ticker.Price, true
}

func (b *Bot) cmdCancel(ctx context.Context, m *message) {
	var wg sync.WaitGroup
	for _, va := range b.allAccounts() {
		va := va
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.cancelAccountOrders(ctx, m, va)
		}()
	}
	wg.Wait()

	b.reply(ctx, m, "cancel finished")
}

func (b *Bot) cancelAccountOrders(ctx context.Context, m *message, va venueAccount) {
	owner, venue := va.account.Owner(), va.exchange.Name()

	b.logger.Info("Fetching open orders", zap.String("owner", owner), zap.String("exchange", venue))
	open, err := va.account.OpenOrders(ctx)
	if err != nil {
		b.logger.Error("Unable to fetch open orders",
			zap.String("owner", owner),
			zap.String("exchange", venue),
			zap.Error(err))
		b.reply(ctx, m, fmt.Sprintf("%s@%s: unable to fetch open orders", owner, venue))
		return
	}
	b.logger.Info("Got open orders",
		zap.Int("count", len(open)),
		zap.String("owner", owner),
		zap.String("exchange", venue))

	cancelled := 0
	for _, order := range open {
		if _, err := va.account.CancelOrder(ctx, order.ID, order.Pair); err != nil {
			b.logger.Error("Unable to cancel order",
				zap.String("order_id", order.ID),
				zap.String("pair", order.Pair),
				zap.Error(err))
			continue
		}
		cancelled++
	}

	b.reply(ctx, m, fmt.Sprintf("%s@%s: canceled %d/%d orders", owner, venue, cancelled, len(open)))
}

func (b *Bot) cmdDeleteCoin(ctx context.Context, m *message, args []string) {
	switch len(args) {
	case 2:
		exchangeName, coin := args[0], args[1]
		if !b.triggers.DropCoin(exchangeName, coin) {
			b.reply(ctx, m, fmt.Sprintf("Unable to drop coin %q from exchange %q", coin, exchangeName))
			return
		}
		b.reply(ctx, m, fmt.Sprintf("Coin %q successfully dropped from exchange %q.", coin, exchangeName))
	case 1:
		coin := args[0]
		dropped := b.triggers.DropCoinAll(coin)
		if len(dropped) == 0 {
			b.reply(ctx, m, fmt.Sprintf("Unable to drop coin %q from any exchange", coin))
			return
		}
		b.reply(ctx, m, fmt.Sprintf("Coin %q successfully dropped from: %s.", coin, strings.Join(dropped, ", ")))
	default:
		b.reply(ctx, m, "Invalid arguments!")
	}
}

func (b *Bot) cmdFakeCoin(ctx context.Context, m *message, args []string) {
	if len(args) == 0 {
		b.reply(ctx, m, "Invalid arguments!")
		return
	}
	code := strings.ToUpper(args[0])

	if !b.feed.Add(domain.Symbol{Code: code, Source: domain.SourceTelegram, URL: fakeCoinURL}) {
		b.reply(ctx, m, fmt.Sprintf("No buffer accepts %s.", code))
		return
	}
	b.reply(ctx, m, fmt.Sprintf("Added %s to the fake trigger.", code))
}
