package extract

import (
	"regexp"
	"strings"
)

// Period normalization. Fiscal years render as FY2023, quarters as 2023Q1.
// Two-digit years pivot at 50: 23 -> 2023, 98 -> 1998.

var (
	yearRe = regexp.MustCompile(`^(?:FY\s?)?((?:19|20)\d{2})$`)

	// Q1 2023, Q1-2023, Q1/23
	quarterFirstRe = regexp.MustCompile(`^Q([1-4])[\s\-/]?((?:19|20)?\d{2})$`)

	// 2023 Q1, 2023-Q1, 1Q23, 1Q2023
	quarterLastRe = regexp.MustCompile(`^((?:19|20)\d{2})[\s\-/]?Q([1-4])$`)
	quarterNumRe  = regexp.MustCompile(`^([1-4])Q((?:19|20)?\d{2})$`)

	// periodScanRe finds period mentions inside running text.
	periodScanRe = regexp.MustCompile(`(?i)\b(FY\s?(?:19|20)\d{2}|Q[1-4][\s\-/]?(?:19|20)?\d{2}|[1-4]Q(?:19|20)?\d{2}|(?:19|20)\d{2}[\s\-/]?Q[1-4]|(?:19|20)\d{2})\b`)
)

// NormalizePeriod parses a period token into canonical form.
func NormalizePeriod(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}

	if m := yearRe.FindStringSubmatch(s); m != nil {
		return "FY" + m[1], true
	}
	if m := quarterFirstRe.FindStringSubmatch(s); m != nil {
		return expandYear(m[2]) + "Q" + m[1], true
	}
	if m := quarterLastRe.FindStringSubmatch(s); m != nil {
		return m[1] + "Q" + m[2], true
	}
	if m := quarterNumRe.FindStringSubmatch(s); m != nil {
		return expandYear(m[2]) + "Q" + m[1], true
	}
	return "", false
}

// FindPeriod returns the first normalizable period mention in text.
func FindPeriod(text string) (string, bool) {
	for _, m := range periodScanRe.FindAllString(text, -1) {
		if p, ok := NormalizePeriod(m); ok {
			return p, true
		}
	}
	return "", false
}

// IsQuarter reports whether a canonical period is quarterly.
func IsQuarter(period string) bool {
	return strings.Contains(period, "Q")
}

// PeriodYear returns the four-digit year of a canonical period, or 0.
func PeriodYear(period string) int {
	digits := period
	digits = strings.TrimPrefix(digits, "FY")
	if i := strings.IndexByte(digits, 'Q'); i >= 0 {
		digits = digits[:i]
	}
	if len(digits) != 4 {
		return 0
	}
	y := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0
		}
		y = y*10 + int(r-'0')
	}
	return y
}

// PeriodQuarter returns the quarter number of a canonical period, or 0 for
// fiscal years.
func PeriodQuarter(period string) int {
	i := strings.IndexByte(period, 'Q')
	if i < 0 || i+1 >= len(period) {
		return 0
	}
	q := period[i+1]
	if q < '1' || q > '4' {
		return 0
	}
	return int(q - '0')
}

func expandYear(y string) string {
	if len(y) == 4 {
		return y
	}
	// Two-digit year, pivot at 50.
	if y >= "50" {
		return "19" + y
	}
	return "20" + y
}
