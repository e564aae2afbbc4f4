package extract

import (
	"sort"
	"strings"
)

// Vocabulary maps canonical metric labels to the synonyms that identify
// them in report text and table stubs.
type Vocabulary map[string][]string

// DefaultVocabulary covers the universal metrics every annual report is
// expected to state, regardless of industry.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		"total_revenue": {
			"total sales", "net sales", "turnover", "revenue", "total revenue",
		},
		"operating_costs": {
			"operating expenses", "cost of goods sold", "cogs", "operating costs",
		},
		"net_income": {
			"profit for the year", "profit after tax", "earnings", "net income",
		},
		"employee_count": {
			"number of employees", "headcount", "ftes", "workforce", "employees",
		},
		"total_assets": {
			"total assets", "assets",
		},
		"cash_flow_from_operations": {
			"operating cash flow", "cash flow from operations",
		},
	}
}

// Merge returns a copy of v with extra synonyms folded in. New labels are
// added; existing labels gain the extra synonyms.
func (v Vocabulary) Merge(extra Vocabulary) Vocabulary {
	out := make(Vocabulary, len(v)+len(extra))
	for label, syns := range v {
		out[label] = append([]string(nil), syns...)
	}
	for label, syns := range extra {
		out[label] = append(out[label], syns...)
	}
	return out
}

// matcher resolves raw label text to canonical labels. Longer synonyms are
// tried first so "total revenue" is never shadowed by "revenue".
type matcher struct {
	entries []vocabEntry
}

type vocabEntry struct {
	synonym string
	label   string
}

func newMatcher(v Vocabulary) *matcher {
	var entries []vocabEntry
	for label, syns := range v {
		for _, s := range syns {
			entries = append(entries, vocabEntry{synonym: strings.ToLower(s), label: label})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].synonym) != len(entries[j].synonym) {
			return len(entries[i].synonym) > len(entries[j].synonym)
		}
		return entries[i].synonym < entries[j].synonym
	})
	return &matcher{entries: entries}
}

// canonical resolves a table stub or label token to its canonical label.
// The whole cell must be (or start with) a known synonym.
func (m *matcher) canonical(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	for _, e := range m.entries {
		if s == e.synonym || strings.HasPrefix(s, e.synonym+" ") {
			return e.label, true
		}
	}
	return "", false
}

// find locates synonym occurrences inside running text, returning the
// canonical label and the byte offset just past the match.
func (m *matcher) find(lowerText string) []vocabHit {
	var hits []vocabHit
	claimed := make([]bool, len(lowerText))
	for _, e := range m.entries {
		from := 0
		for {
			i := strings.Index(lowerText[from:], e.synonym)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(e.synonym)
			from = end
			if !wordBoundary(lowerText, start, end) {
				continue
			}
			// Longest-synonym-first ordering: an already claimed span means a
			// longer synonym matched here.
			if claimed[start] {
				continue
			}
			for j := start; j < end; j++ {
				claimed[j] = true
			}
			hits = append(hits, vocabHit{label: e.label, end: end})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].end < hits[j].end })
	return hits
}

type vocabHit struct {
	label string
	end   int
}

func wordBoundary(s string, start, end int) bool {
	if start > 0 && isWordChar(s[start-1]) {
		return false
	}
	if end < len(s) && isWordChar(s[end]) {
		return false
	}
	return true
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}
