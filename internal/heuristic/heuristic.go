// Package heuristic holds the local pattern scorers used when an external
// signal source is unavailable, and by the impersonation analyzer.
package heuristic

import (
	"regexp"
	"sort"
	"strings"
)

// Tactic is a manipulation pattern found in message content.
type Tactic struct {
	Name    string
	Weight  int
	pattern *regexp.Regexp
}

var tactics = []Tactic{
	{Name: "urgency", Weight: 15, pattern: regexp.MustCompile(`(?i)\b(act now|last chance|only \d+ (spots|hours|minutes) left|expires? (today|soon|in \d+)|hurry|don'?t miss)\b`)},
	{Name: "guaranteed_returns", Weight: 25, pattern: regexp.MustCompile(`(?i)\b(guaranteed (profit|returns?)|risk[- ]free|\d{2,4}\s?% (daily|weekly|monthly|returns?|profit)|double your (money|crypto|btc|eth)|(2|10|100)x guaranteed)\b`)},
	{Name: "secrecy", Weight: 10, pattern: regexp.MustCompile(`(?i)\b(don'?t tell|keep (this|it) (secret|private|between us)|private (group|signal)|insider)\b`)},
	{Name: "payment_request", Weight: 20, pattern: regexp.MustCompile(`(?i)\b(send (me )?\d*\s?(btc|eth|usdt|sol|bnb|crypto)|deposit (first|now)|pay (a )?(fee|tax) to (withdraw|unlock)|gift cards?)\b`)},
	{Name: "giveaway", Weight: 20, pattern: regexp.MustCompile(`(?i)\b(giveaway|airdrop claim|send \d+ .{0,20}(get|receive) \d+ back|free (btc|eth|crypto|tokens))\b`)},
	{Name: "credential_phish", Weight: 25, pattern: regexp.MustCompile(`(?i)\b(seed phrase|recovery phrase|private key|verify your wallet|connect your wallet to (claim|validate))\b`)},
	{Name: "pump_signal", Weight: 15, pattern: regexp.MustCompile(`(?i)\b(pump (at|starts)|buy before|moon(ing)? soon|next 100x|to the moon)\b`)},
}

// ContentSignals is the outcome of scanning message text.
type ContentSignals struct {
	Score   int
	Tactics []string
}

// ScanContent scores text by the manipulation tactics it contains. Each
// tactic counts once.
func ScanContent(content string) ContentSignals {
	var s ContentSignals
	if strings.TrimSpace(content) == "" {
		return s
	}
	for _, t := range tactics {
		if t.pattern.MatchString(content) {
			s.Score += t.Weight
			s.Tactics = append(s.Tactics, t.Name)
		}
	}
	if s.Score > 100 {
		s.Score = 100
	}
	return s
}

var (
	walletPattern   = regexp.MustCompile(`^(0x[0-9a-f]{40}|(bc1|[13])[a-hj-np-z0-9]{25,59}|T[1-9a-hj-np-za-km-z]{33})$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{7,18}[0-9]$`)
	officialPattern = regexp.MustCompile(`(?i)(official|support|help ?desk|admin|customer ?care|verify|recovery|team)`)
	brandPattern    = regexp.MustCompile(`(?i)(binance|coinbase|metamask|trust ?wallet|kraken|ledger|trezor|uniswap|opensea|phantom)`)
	digitSwapRunes  = map[rune]rune{'0': 'o', '1': 'l', '3': 'e', '4': 'a', '5': 's', '7': 't'}
	suspiciousWords = []string{"giveaway", "airdrop", "doubler", "profit", "signals", "pump", "invest", "claim", "bonus"}
)

// IdentifierTags classifies one identifier by shape and wording.
func IdentifierTags(id string) []string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return nil
	}
	set := map[string]bool{}
	switch {
	case walletPattern.MatchString(id):
		set["wallet_address"] = true
	case phonePattern.MatchString(id):
		set["phone_number"] = true
	}
	for _, w := range suspiciousWords {
		if strings.Contains(id, w) {
			set["suspicious_keyword"] = true
			break
		}
	}
	if officialPattern.MatchString(id) {
		set["official_claim"] = true
	}
	if brandPattern.MatchString(undoDigitSwaps(id)) {
		set["brand_reference"] = true
		if !brandPattern.MatchString(id) {
			set["digit_swap"] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func undoDigitSwaps(s string) string {
	return strings.Map(func(r rune) rune {
		if to, ok := digitSwapRunes[r]; ok {
			return to
		}
		return r
	}, s)
}

// knownAssets are large, long-listed assets that never need a registry
// lookup to be considered established.
var knownAssets = map[string]bool{
	"BTC": true, "ETH": true, "USDT": true, "USDC": true, "BNB": true,
	"SOL": true, "XRP": true, "ADA": true, "DOGE": true, "TRX": true,
	"DOT": true, "MATIC": true, "LTC": true, "AVAX": true, "LINK": true,
	"DAI": true, "ATOM": true, "XLM": true, "BCH": true, "TON": true,
}

// KnownAsset reports whether symbol is on the established-asset allowlist.
func KnownAsset(symbol string) bool {
	return knownAssets[strings.ToUpper(strings.TrimSpace(symbol))]
}

// SymbolTags flags ticker shapes common among copycat and pump tokens.
func SymbolTags(symbol string) []string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return nil
	}
	var tags []string
	for known := range knownAssets {
		if s != known && (strings.HasPrefix(s, known) || strings.HasSuffix(s, known)) && len(s) <= len(known)+4 {
			tags = append(tags, "copycat_ticker")
			break
		}
	}
	if strings.ContainsAny(s, "0123456789") && len(s) >= 4 {
		tags = append(tags, "numbered_ticker")
	}
	for _, w := range []string{"MOON", "SAFE", "ELON", "INU", "100X", "PUMP"} {
		if strings.Contains(s, w) {
			tags = append(tags, "meme_ticker")
			break
		}
	}
	sort.Strings(tags)
	return tags
}
