package tgbot

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/vtornik/listing-sniper/internal/domain"
)

const channelCoinURL = "http://from.telegram.channel"

// endpointMark tags raw Upbit endpoint dumps relayed into the channel.
const endpointMark = "Upbit Endpoint #"

// keywordTokens mark Korean listing event posts: 이벤트 (event) and 원화
// (Korean won).
var keywordTokens = []string{"이벤트", "원화"}

var (
	symbolInBrackets = regexp.MustCompile(`\(.*?([A-Z0-9]{2,}).*?\)`)
	dashBTC          = regexp.MustCompile(`BTC-([A-Z0-9]+)`)
	slashBTC         = regexp.MustCompile(`([A-Z0-9]+)/BTC`)
	dashKRW          = regexp.MustCompile(`KRW-([A-Z0-9]+)`)
	slashKRW         = regexp.MustCompile(`([A-Z0-9]+)/KRW`)
)

// handleChannelPost reads listing hints out of the watched channel and
// pushes them into the telegram trigger buffers. Posts from any other
// channel are ignored.
func (b *Bot) handleChannelPost(ctx context.Context, m *message) {
	if m.Chat.ID != b.cfg.ListenChannelID {
		return
	}

	btc := b.extractEndpointBTC(m.Text)
	krw := merge(b.extractEndpointKRW(m.Text), b.extractKeywordKRW(m.Text))

	if len(btc) == 0 && len(krw) == 0 {
		b.logger.Info("No symbols found in message", zap.String("text", m.Text))
		return
	}

	b.addSymbols(ctx, m, btc, domain.SourceTGUpbitBTC)
	b.addSymbols(ctx, m, krw, domain.SourceTGUpbitKRW)
}

func (b *Bot) addSymbols(ctx context.Context, m *message, codes map[string]struct{}, src domain.Source) {
	sorted := make([]string, 0, len(codes))
	for code := range codes {
		sorted = append(sorted, code)
	}
	sort.Strings(sorted)

	for _, code := range sorted {
		if !b.feed.Add(domain.Symbol{Code: code, Source: src, URL: channelCoinURL}) {
			b.logger.Error("No buffer for source", zap.String("source", string(src)))
			return
		}
		b.reply(ctx, m, fmt.Sprintf("Added %s for part %s.", code, src))
	}
}

// extractKeywordKRW pulls bracketed tickers out of Korean listing event
// posts, minus the blacklist.
func (b *Bot) extractKeywordKRW(text string) map[string]struct{} {
	found := false
	for _, token := range keywordTokens {
		if strings.Contains(text, token) {
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	return subtract(captures(symbolInBrackets, text), b.blacklist)
}

// extractEndpointBTC pulls BTC market symbols out of endpoint dumps,
// intersected with the whitelist.
func (b *Bot) extractEndpointBTC(text string) map[string]struct{} {
	if !strings.Contains(text, endpointMark) {
		return nil
	}
	codes := captures(slashBTC, text)
	for code := range captures(dashBTC, text) {
		codes[code] = struct{}{}
	}
	return intersect(codes, b.whitelist)
}

// extractEndpointKRW pulls KRW market symbols out of endpoint dumps, minus
// the blacklist.
func (b *Bot) extractEndpointKRW(text string) map[string]struct{} {
	if !strings.Contains(text, endpointMark) {
		return nil
	}
	codes := captures(slashKRW, text)
	for code := range captures(dashKRW, text) {
		codes[code] = struct{}{}
	}
	return subtract(codes, b.blacklist)
}

func captures(re *regexp.Regexp, text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, match := range re.FindAllStringSubmatch(text, -1) {
		out[match[1]] = struct{}{}
	}
	return out
}

func merge(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for code := range a {
		out[code] = struct{}{}
	}
	for code := range b {
		out[code] = struct{}{}
	}
	return out
}

func subtract(codes, banned map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for code := range codes {
		if _, ok := banned[code]; !ok {
			out[code] = struct{}{}
		}
	}
	return out
}

func intersect(codes, allowed map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for code := range codes {
		if _, ok := allowed[code]; ok {
			out[code] = struct{}{}
		}
	}
	return out
}
