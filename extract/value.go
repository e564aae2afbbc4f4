package extract

import (
	"strconv"
	"strings"
)

// ParseValue normalizes a raw cell or token into a value and unit.
//
//	$100M       -> 100_000_000, currency-USD
//	€1.2bn      -> 1_200_000_000, currency-EUR
//	12%         -> 0.12, percentage
//	45,000      -> 45000, count
//	(12.5)      -> -12.5 (accounting negative)
//
// Unparseable input returns ok=false; callers drop the observation rather
// than guess.
func ParseValue(raw string) (float64, Unit, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, "", false
	}

	unit := UnitCount

	// Currency prefix.
	switch {
	case strings.HasPrefix(s, "$"):
		unit = UnitCurrencyUSD
		s = strings.TrimSpace(s[1:])
	case strings.HasPrefix(s, "€"):
		unit = UnitCurrencyEUR
		s = strings.TrimSpace(s[len("€"):])
	case strings.HasPrefix(s, "£"):
		unit = UnitCurrencyGBP
		s = strings.TrimSpace(s[len("£"):])
	case strings.HasPrefix(strings.ToUpper(s), "USD"):
		unit = UnitCurrencyUSD
		s = strings.TrimSpace(s[3:])
	case strings.HasPrefix(strings.ToUpper(s), "EUR"):
		unit = UnitCurrencyEUR
		s = strings.TrimSpace(s[3:])
	case strings.HasPrefix(strings.ToUpper(s), "GBP"):
		unit = UnitCurrencyGBP
		s = strings.TrimSpace(s[3:])
	}

	// Accounting negative: (12.5) means -12.5.
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasPrefix(s, "-") {
		negative = true
		s = strings.TrimSpace(s[1:])
	}

	// Percent suffix.
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		unit = UnitPercentage
	}

	// Magnitude suffix.
	multiplier := 1.0
	lower := strings.ToLower(s)
	for _, suf := range magnitudeSuffixes {
		if strings.HasSuffix(lower, suf.text) {
			multiplier = suf.factor
			s = strings.TrimSpace(s[:len(s)-len(suf.text)])
			break
		}
	}

	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, "", false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, "", false
	}

	// Percentages normalize to a fraction and never take magnitude suffixes.
	if unit == UnitPercentage {
		multiplier = 1
		v /= 100
	}
	if negative {
		v = -v
	}
	return v * multiplier, unit, true
}

// Longer suffixes first so "billion" is not consumed as a trailing "n".
var magnitudeSuffixes = []struct {
	text   string
	factor float64
}{
	{" billion", 1e9},
	{"billion", 1e9},
	{" million", 1e6},
	{"million", 1e6},
	{" thousand", 1e3},
	{"thousand", 1e3},
	{"bn", 1e9},
	{"mn", 1e6},
	{"b", 1e9},
	{"m", 1e6},
	{"k", 1e3},
}
