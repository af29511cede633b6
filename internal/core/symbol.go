package core

import "strings"

var (
	shanghaiPrefixes = []string{"600", "601", "603", "605", "688", "689"}
	shenzhenPrefixes = []string{"000", "001", "002", "003", "300", "301"}
)

// NormalizeSymbol converts the accepted A-share spellings (600519, sh600519,
// 600519.SH) to the canonical CODE.EXCHANGE form. Symbols that do not look
// like six-digit A-share codes are upper-cased and returned unchanged.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))

	if code, exch, ok := strings.Cut(s, "."); ok {
		if isAShareCode(code) {
			return code + "." + exch
		}
		return s
	}

	for _, p := range []string{"SH", "SZ", "BJ"} {
		if rest, ok := strings.CutPrefix(s, p); ok && isAShareCode(rest) {
			return rest + "." + p
		}
	}

	if !isAShareCode(s) {
		return s
	}
	return s + "." + exchangeOf(s)
}

// MarketOf reports the market a canonical symbol trades on.
func MarketOf(symbol string) Market {
	code, _, _ := strings.Cut(NormalizeSymbol(symbol), ".")
	if isAShareCode(code) {
		return MarketCNA
	}
	return MarketUS
}

// IsSpecialTreatment reports whether a security name marks it as ST or in
// delisting arrangement; such names are excluded from the screening universe.
func IsSpecialTreatment(name string) bool {
	return strings.Contains(name, "ST") || strings.Contains(name, "退")
}

// exchangeOf maps a six-digit code to its exchange. Unknown prefixes fall back
// to Shenzhen, where most listed codes live.
func exchangeOf(code string) string {
	for _, p := range shanghaiPrefixes {
		if strings.HasPrefix(code, p) {
			return "SH"
		}
	}
	for _, p := range shenzhenPrefixes {
		if strings.HasPrefix(code, p) {
			return "SZ"
		}
	}
	if strings.HasPrefix(code, "920") {
		return "BJ"
	}
	return "SZ"
}

func isAShareCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
