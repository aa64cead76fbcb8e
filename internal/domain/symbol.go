package domain

import (
	"fmt"
	"regexp"
	"sort"
)

// Source tells where a symbol was first noticed.
type Source string

const (
	SourceAPIWallet     Source = "API wallet"
	SourceAPIPair       Source = "API pair"
	SourceAPIUnofficial Source = "API unofficial"
	SourceSite          Source = "Site"
	SourceJS            Source = "JS"
	SourceTwitter       Source = "Twitter"
	SourceTelegram      Source = "Telegram"
	SourceTGUpbitKRW    Source = "Upbit KRW channel"
	SourceTGUpbitBTC    Source = "Upbit BTC channel"
)

// Symbol is an asset code discovered on a trigger surface together with its
// provenance. Symbols with the same code refer to the same coin no matter
// where they were seen.
type Symbol struct {
	Code   string
	Source Source
	URL    string
}

func (s Symbol) String() string {
	if s.URL == "" {
		return fmt.Sprintf("%s (%s)", s.Code, s.Source)
	}
	return fmt.Sprintf("%s (%s, %s)", s.Code, s.Source, s.URL)
}

// excludedCodes never count as listings: quote assets the venues already
// trade plus service tokens that reappear in every feed.
var excludedCodes = map[string]struct{}{
	"BTC":    {},
	"ETH":    {},
	"KRW":    {},
	"PAX":    {},
	"DAI":    {},
	"BCHABC": {},
	"BCHSV":  {},
	"PST":    {},
	"BTT":    {},
	"CELR":   {},
}

// usdLike matches stablecoin style codes such as USD, USDT, BUSD, TUSD, USDS.
var usdLike = regexp.MustCompile(`^\w?USD\w?`)

// Excluded reports whether a code must never be processed as a new listing.
func Excluded(code string) bool {
	if _, ok := excludedCodes[code]; ok {
		return true
	}
	return usdLike.MatchString(code)
}

// ExcludedCodes returns the static exclusion list in sorted order.
func ExcludedCodes() []string {
	out := make([]string, 0, len(excludedCodes))
	for code := range excludedCodes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// ExcludedPattern returns the stablecoin pattern codes are matched against.
func ExcludedPattern() string {
	return usdLike.String()
}
