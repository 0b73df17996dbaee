// Package symbol resolves the many venue renderings of one logical
// instrument ("AAPL", "AAPL.SMART", "SHSE.600000", "600000", "EURUSD",
// "EUR.USD") to a comparable alias set.
package symbol

import "strings"

// exchangePrefixes lists the venue-prefix conventions the resolver
// knows how to split (Exchange.Ticker), mirroring the manual handling
// in the original adapter for Chinese and Hong Kong venues.
var exchangePrefixes = map[string]bool{
	"SHSE": true,
	"SZSE": true,
	"SEHK": true,
	"HK":   true,
}

// Aliases returns the set of tokens considered equivalent to raw.
// Closed under composition for ticker, exchange-prefixed, numeric and
// forex renderings: the aliases of any member are a subset of
// Aliases(raw), so re-deriving from the output yields the same set.
func Aliases(raw string) map[string]bool {
	out := map[string]bool{}
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return out
	}
	out[s] = true

	// Base ticker before the first dot: AAPL.SMART -> AAPL, QQQ.ISLAND -> QQQ.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		base := s[:i]
		suffix := s[i+1:]
		switch {
		case exchangePrefixes[base] && suffix != "":
			// Exchange.Ticker convention: SHSE.600000, SEHK.00700. The
			// prefix names the venue, not the instrument, so it is not an alias.
			out[suffix] = true
			addNumericForm(out, suffix)
		case len(base) == 3 && len(suffix) == 3 && isAlpha(base) && isAlpha(suffix):
			// Dotted forex pair: the left currency alone is not an alias.
		case base != "":
			out[base] = true
			addNumericForm(out, base)
		}
	} else {
		addNumericForm(out, s)
	}

	// Forex pair concatenation: register the dotted form of a 6-letter
	// pair and the concatenated form of a dotted 3+3 pair, so EURUSD and
	// EUR.USD intersect directly.
	if len(s) == 6 && isAlpha(s) {
		out[s[:3]+"."+s[3:]] = true
	}
	if i := strings.IndexByte(s, '.'); i >= 0 {
		left, right := s[:i], s[i+1:]
		if len(left) == 3 && len(right) == 3 && isAlpha(left) && isAlpha(right) {
			out[left+right] = true
		}
	}

	return out
}

func addNumericForm(out map[string]bool, s string) {
	stripped := strings.TrimLeft(s, "0")
	if stripped == "" {
		stripped = "0"
	}
	if isDigits(s) {
		out[stripped] = true
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Match reports whether left and right denote the same logical
// instrument: their alias sets intersect.
func Match(left, right string) bool {
	if left == "" || right == "" {
		return false
	}
	a := Aliases(left)
	b := Aliases(right)
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}
