// WHAT: Tests for metric extraction: table grids (stub-labeled and
// header-labeled), narrative and labeled text, and conflict resolution.
// WHY: Extraction confidence drives which number ends up in the published
// result; these paths must prefer structured sources deterministically.
package extract

import (
	"context"
	"math"
	"testing"

	"github.com/finlens/reportpipe/segment"
)

func TestExtractHeaderLabeledTable(t *testing.T) {
	// The metric name sits in the header stub; value rows zip against the
	// period columns.
	e := New(Config{})
	blocks := []segment.Block{{
		Type:      segment.BlockTable,
		PageIndex: 2,
		Grid: [][]string{
			{"Revenue", "2022", "2023"},
			{"$100M", "$120M"},
		},
	}}

	ms, err := e.Extract(context.Background(), "doc_1", blocks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("got %d metrics, want 2: %+v", len(ms), ms)
	}

	for i, want := range []struct {
		period string
		value  float64
	}{
		{"FY2022", 100e6},
		{"FY2023", 120e6},
	} {
		m := ms[i]
		if m.Label != "total_revenue" || m.Period != want.period || m.Value != want.value {
			t.Errorf("metric %d = %+v, want total_revenue %s %.0f", i, m, want.period, want.value)
		}
		if m.Unit != UnitCurrencyUSD {
			t.Errorf("metric %d unit = %s, want currency-USD", i, m.Unit)
		}
		if m.Confidence != confTable {
			t.Errorf("metric %d confidence = %.2f, want %.2f", i, m.Confidence, confTable)
		}
	}
}

func TestExtractStubLabeledTable(t *testing.T) {
	e := New(Config{})
	blocks := []segment.Block{{
		Type: segment.BlockTable,
		Grid: [][]string{
			{"Metric", "FY2022", "FY2023"},
			{"Net income", "$10M", "$12M"},
			{"Total assets", "€2.5bn", "€2.8bn"},
			{"Unrelated note", "n/a", "n/a"},
		},
	}}

	ms, err := e.Extract(context.Background(), "doc_1", blocks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ms) != 4 {
		t.Fatalf("got %d metrics, want 4: %+v", len(ms), ms)
	}

	byKey := map[string]Metric{}
	for _, m := range ms {
		byKey[m.Label+"/"+m.Period] = m
	}
	if m := byKey["net_income/FY2023"]; m.Value != 12e6 || m.Unit != UnitCurrencyUSD {
		t.Errorf("net_income FY2023 = %+v", m)
	}
	if m := byKey["total_assets/FY2022"]; m.Value != 2.5e9 || m.Unit != UnitCurrencyEUR {
		t.Errorf("total_assets FY2022 = %+v", m)
	}
}

func TestExtractLabeledText(t *testing.T) {
	e := New(Config{})
	blocks := []segment.Block{{
		Type: segment.BlockText,
		Text: "Total revenue: $4.2 billion in FY2023\nHeadcount: 45,000",
	}}

	ms, err := e.Extract(context.Background(), "doc_1", blocks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	byLabel := map[string]Metric{}
	for _, m := range ms {
		byLabel[m.Label] = m
	}

	rev, ok := byLabel["total_revenue"]
	if !ok {
		t.Fatalf("total_revenue missing: %+v", ms)
	}
	if rev.Value != 4.2e9 || rev.Unit != UnitCurrencyUSD || rev.Period != "FY2023" {
		t.Errorf("revenue = %+v", rev)
	}
	if rev.Confidence != confLabeled {
		t.Errorf("revenue confidence = %.2f, want %.2f", rev.Confidence, confLabeled)
	}

	hc, ok := byLabel["employee_count"]
	if !ok {
		t.Fatalf("employee_count missing: %+v", ms)
	}
	if hc.Value != 45000 || hc.Unit != UnitCount {
		t.Errorf("headcount = %+v", hc)
	}
}

func TestExtractNarrativeText(t *testing.T) {
	e := New(Config{})
	blocks := []segment.Block{{
		Type: segment.BlockText,
		Text: "Revenue in 2023 reached $120M despite headwinds.",
	}}

	ms, err := e.Extract(context.Background(), "doc_1", blocks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ms) != 1 {
		t.Fatalf("got %d metrics, want 1: %+v", len(ms), ms)
	}
	m := ms[0]
	if m.Label != "total_revenue" || m.Value != 120e6 || m.Period != "FY2023" {
		t.Errorf("metric = %+v", m)
	}
	if m.Confidence != confNarrative {
		t.Errorf("confidence = %.2f, want %.2f for narrative", m.Confidence, confNarrative)
	}
}

func TestExtractDropsUnparseableValues(t *testing.T) {
	e := New(Config{})
	blocks := []segment.Block{{
		Type: segment.BlockText,
		Text: "Revenue: not disclosed this year.",
	}}

	ms, err := e.Extract(context.Background(), "doc_1", blocks)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(ms) != 0 {
		t.Errorf("got %d metrics, want 0: %+v", len(ms), ms)
	}
}

func TestResolvePrefersHigherConfidence(t *testing.T) {
	low := Metric{Label: "total_revenue", Period: "FY2023", Value: 1, Confidence: 0.5, SourceType: segment.BlockText}
	high := Metric{Label: "total_revenue", Period: "FY2023", Value: 2, Confidence: 0.9, SourceType: segment.BlockText}

	got := Resolve([]Metric{low, high})
	if len(got) != 1 || got[0].Value != 2 {
		t.Errorf("Resolve = %+v, want the 0.9-confidence value", got)
	}
}

func TestResolveTableBeatsTextOnTie(t *testing.T) {
	text := Metric{Label: "net_income", Period: "FY2023", Value: 1, Confidence: 0.7, SourceType: segment.BlockText}
	table := Metric{Label: "net_income", Period: "FY2023", Value: 2, Confidence: 0.7, SourceType: segment.BlockTable}

	// Order must not matter.
	for _, input := range [][]Metric{{text, table}, {table, text}} {
		got := Resolve(input)
		if len(got) != 1 || got[0].Value != 2 {
			t.Errorf("Resolve(%+v) = %+v, want the table value", input, got)
		}
	}
}

func TestResolveKeepsDistinctPeriods(t *testing.T) {
	ms := []Metric{
		{Label: "total_revenue", Period: "FY2022", Value: 100},
		{Label: "total_revenue", Period: "FY2023", Value: 120},
	}
	got := Resolve(ms)
	if len(got) != 2 {
		t.Fatalf("Resolve collapsed distinct periods: %+v", got)
	}
	// Output sorted by label then period.
	if got[0].Period != "FY2022" || got[1].Period != "FY2023" {
		t.Errorf("order = %s, %s", got[0].Period, got[1].Period)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw   string
		value float64
		unit  Unit
		ok    bool
	}{
		{"$100M", 100e6, UnitCurrencyUSD, true},
		{"€1.2bn", 1.2e9, UnitCurrencyEUR, true},
		{"£3.4 million", 3.4e6, UnitCurrencyGBP, true},
		{"84.2%", 0.842, UnitPercentage, true},
		{"12%", 0.12, UnitPercentage, true},
		{"45,000", 45000, UnitCount, true},
		{"(12.5)", -12.5, UnitCount, true},
		{"$4.2 billion", 4.2e9, UnitCurrencyUSD, true},
		{"12 thousand", 12000, UnitCount, true},
		{"n/a", 0, "", false},
		{"", 0, "", false},
		{"revenue", 0, "", false},
	}
	for _, tt := range tests {
		v, u, ok := ParseValue(tt.raw)
		if ok != tt.ok || math.Abs(v-tt.value) > 1e-12 || (ok && u != tt.unit) {
			t.Errorf("ParseValue(%q) = (%v, %s, %v), want (%v, %s, %v)",
				tt.raw, v, u, ok, tt.value, tt.unit, tt.ok)
		}
	}
}

func TestNormalizePeriod(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"2023", "FY2023", true},
		{"FY2023", "FY2023", true},
		{"FY 2023", "FY2023", true},
		{"Q1 2023", "2023Q1", true},
		{"1Q23", "2023Q1", true},
		{"2023 Q4", "2023Q4", true},
		{"Q3/98", "1998Q3", true},
		{"13", "", false},
		{"Q5 2023", "", false},
		{"total", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePeriod(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizePeriod(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMatcherPrefersLongestSynonym(t *testing.T) {
	m := newMatcher(DefaultVocabulary())
	if label, ok := m.canonical("Total revenue"); !ok || label != "total_revenue" {
		t.Errorf("canonical(Total revenue) = %q, %v", label, ok)
	}
	if label, ok := m.canonical("Cash flow from operations"); !ok || label != "cash_flow_from_operations" {
		t.Errorf("canonical = %q, %v", label, ok)
	}
	if _, ok := m.canonical("Miscellaneous"); ok {
		t.Error("unknown stub must not canonicalize")
	}
}
