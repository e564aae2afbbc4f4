// Package extract pulls labeled financial metrics out of segmented blocks.
// Tables are the primary source; labeled and narrative text are secondary.
// Conflicting observations of the same (label, period) pair are resolved
// deterministically before results leave the package.
package extract

import "github.com/finlens/reportpipe/segment"

// Unit is the normalized unit of a metric value.
type Unit string

const (
	UnitCurrencyUSD Unit = "currency-USD"
	UnitCurrencyEUR Unit = "currency-EUR"
	UnitCurrencyGBP Unit = "currency-GBP"
	UnitPercentage  Unit = "percentage"
	UnitCount       Unit = "count"
)

// Metric is one extracted observation: a canonical label, a normalized
// value, and where it came from.
type Metric struct {
	DocumentID string  `json:"document_id"`
	Label      string  `json:"label"`
	Value      float64 `json:"value"`
	Unit       Unit    `json:"unit"`
	Period     string  `json:"period,omitempty"`
	Confidence float64 `json:"confidence"`

	// Source points at the block the value was read from.
	Source segment.Ref `json:"source"`

	// SourceType records whether the value came from a table or text block.
	// Table observations win confidence ties during resolution.
	SourceType segment.BlockType `json:"source_type"`
}

// Extraction confidence by provenance. Tables carry explicit structure;
// labeled text is weaker; narrative proximity is weakest.
const (
	confTable     = 0.9
	confLabeled   = 0.6
	confNarrative = 0.5
)
