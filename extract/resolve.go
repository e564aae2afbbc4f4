package extract

import (
	"sort"

	"github.com/finlens/reportpipe/segment"
)

// Resolve deduplicates observations of the same (label, period) pair.
// Higher confidence wins; on a confidence tie, table provenance beats text;
// a remaining tie keeps the earliest observation. Output order is sorted by
// label then period so identical input always yields identical output.
func Resolve(observed []Metric) []Metric {
	type key struct {
		label  string
		period string
	}

	winners := make(map[key]Metric)
	var order []key
	for _, m := range observed {
		k := key{label: m.Label, period: m.Period}
		cur, exists := winners[k]
		if !exists {
			winners[k] = m
			order = append(order, k)
			continue
		}
		if beats(m, cur) {
			winners[k] = m
		}
	}

	out := make([]Metric, 0, len(winners))
	for _, k := range order {
		out = append(out, winners[k])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Label != out[j].Label {
			return out[i].Label < out[j].Label
		}
		return out[i].Period < out[j].Period
	})
	return out
}

// beats reports whether challenger replaces incumbent.
func beats(challenger, incumbent Metric) bool {
	if challenger.Confidence != incumbent.Confidence {
		return challenger.Confidence > incumbent.Confidence
	}
	if challenger.SourceType != incumbent.SourceType {
		return challenger.SourceType == segment.BlockTable
	}
	// Equal confidence and provenance: first observation stands.
	return false
}
