// Package insight derives human-readable findings from extracted metrics:
// period-over-period changes, net margin, and outlier detection against a
// trailing average. Every insight cites the metrics supporting it. When the
// inputs for a rule are missing or degenerate the rule emits nothing rather
// than a defaulted statement.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/finlens/reportpipe/extract"
)

// Severity grades an insight.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityNotable Severity = "notable"
	SeverityAnomaly Severity = "anomaly"
)

// MetricRef cites a metric by its resolved identity.
type MetricRef struct {
	Label  string `json:"label"`
	Period string `json:"period"`
}

// Insight is one derived finding.
type Insight struct {
	DocumentID string      `json:"document_id"`
	Statement  string      `json:"statement"`
	Severity   Severity    `json:"severity"`
	Supporting []MetricRef `json:"supporting"`
}

// Config configures the generator.
type Config struct {
	// OutlierMultiple flags a value this many times its trailing average.
	// Default: 2.5.
	OutlierMultiple float64

	// NotableChangePct is the absolute period-over-period change, in
	// percent, that upgrades a change insight to notable. Default: 25.
	NotableChangePct float64

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.OutlierMultiple <= 0 {
		c.OutlierMultiple = 2.5
	}
	if c.NotableChangePct <= 0 {
		c.NotableChangePct = 25
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Generator derives insights from resolved metrics.
type Generator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Generator.
func New(cfg Config) *Generator {
	cfg.defaults()
	return &Generator{cfg: cfg, logger: cfg.Logger}
}

// Generate runs every rule over the metric set. Output order is stable:
// change insights by label, then margins by period, then outliers.
func (g *Generator) Generate(ctx context.Context, docID string, metrics []extract.Metric) ([]Insight, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series := buildSeries(metrics)

	var out []Insight
	out = append(out, g.changeInsights(docID, series)...)
	out = append(out, g.marginInsights(docID, series)...)
	out = append(out, g.outlierInsights(docID, series)...)

	g.logger.Debug("insights generated", "document_id", docID, "count", len(out))
	return out, nil
}

// point is one metric observation positioned on a period timeline.
type point struct {
	metric extract.Metric
	year   int
	qtr    int // 0 for fiscal years
}

// buildSeries groups metrics by label and granularity, sorted by period.
// Annual and quarterly observations never mix in one series.
func buildSeries(metrics []extract.Metric) map[string][]point {
	series := make(map[string][]point)
	for _, m := range metrics {
		year := extract.PeriodYear(m.Period)
		if year == 0 {
			continue
		}
		key := m.Label
		qtr := extract.PeriodQuarter(m.Period)
		if qtr > 0 {
			key += "/quarterly"
		}
		series[key] = append(series[key], point{metric: m, year: year, qtr: qtr})
	}
	for key := range series {
		pts := series[key]
		sort.Slice(pts, func(i, j int) bool {
			if pts[i].year != pts[j].year {
				return pts[i].year < pts[j].year
			}
			return pts[i].qtr < pts[j].qtr
		})
		series[key] = pts
	}
	return series
}

// changeInsights compares consecutive periods within each series.
func (g *Generator) changeInsights(docID string, series map[string][]point) []Insight {
	var out []Insight
	for _, key := range sortedKeys(series) {
		pts := series[key]
		for i := 1; i < len(pts); i++ {
			prev, cur := pts[i-1], pts[i]
			if !consecutive(prev, cur) || prev.metric.Value == 0 {
				continue
			}
			pct := (cur.metric.Value - prev.metric.Value) / math.Abs(prev.metric.Value) * 100

			verb := "rose"
			if pct < 0 {
				verb = "fell"
			}
			sev := SeverityInfo
			if math.Abs(pct) >= g.cfg.NotableChangePct {
				sev = SeverityNotable
			}
			out = append(out, Insight{
				DocumentID: docID,
				Statement: fmt.Sprintf("%s %s %.1f%% from %s to %s (%s to %s)",
					humanLabel(cur.metric.Label), verb, math.Abs(pct),
					prev.metric.Period, cur.metric.Period,
					formatValue(prev.metric), formatValue(cur.metric)),
				Severity: sev,
				Supporting: []MetricRef{
					{Label: prev.metric.Label, Period: prev.metric.Period},
					{Label: cur.metric.Label, Period: cur.metric.Period},
				},
			})
		}
	}
	return out
}

// marginInsights computes net margin where both net income and revenue exist
// for the same period. Zero revenue omits the period.
func (g *Generator) marginInsights(docID string, series map[string][]point) []Insight {
	revenue := indexByPeriod(series, "total_revenue")
	income := indexByPeriod(series, "net_income")

	var periods []string
	for p := range income {
		if _, ok := revenue[p]; ok {
			periods = append(periods, p)
		}
	}
	sort.Strings(periods)

	var out []Insight
	for _, p := range periods {
		rev, inc := revenue[p], income[p]
		if rev.Value == 0 {
			continue
		}
		margin := inc.Value / rev.Value * 100
		out = append(out, Insight{
			DocumentID: docID,
			Statement:  fmt.Sprintf("Net margin was %.1f%% in %s", margin, p),
			Severity:   SeverityInfo,
			Supporting: []MetricRef{
				{Label: "net_income", Period: p},
				{Label: "total_revenue", Period: p},
			},
		})
	}
	return out
}

// outlierInsights flags values far above the trailing average of the
// preceding observations in their series. At least two priors are required.
func (g *Generator) outlierInsights(docID string, series map[string][]point) []Insight {
	var out []Insight
	for _, key := range sortedKeys(series) {
		pts := series[key]
		for i := 2; i < len(pts); i++ {
			sum := 0.0
			for _, p := range pts[:i] {
				sum += math.Abs(p.metric.Value)
			}
			avg := sum / float64(i)
			if avg == 0 {
				continue
			}
			cur := pts[i]
			ratio := math.Abs(cur.metric.Value) / avg
			if ratio < g.cfg.OutlierMultiple {
				continue
			}

			refs := make([]MetricRef, 0, i+1)
			for _, p := range pts[:i+1] {
				refs = append(refs, MetricRef{Label: p.metric.Label, Period: p.metric.Period})
			}
			out = append(out, Insight{
				DocumentID: docID,
				Statement: fmt.Sprintf("%s in %s (%s) is %.1fx its trailing average",
					humanLabel(cur.metric.Label), cur.metric.Period,
					formatValue(cur.metric), ratio),
				Severity:   SeverityAnomaly,
				Supporting: refs,
			})
		}
	}
	return out
}

func consecutive(prev, cur point) bool {
	if prev.qtr == 0 && cur.qtr == 0 {
		return cur.year == prev.year+1
	}
	if cur.year == prev.year {
		return cur.qtr == prev.qtr+1
	}
	return cur.year == prev.year+1 && prev.qtr == 4 && cur.qtr == 1
}

func indexByPeriod(series map[string][]point, label string) map[string]extract.Metric {
	out := make(map[string]extract.Metric)
	for _, key := range []string{label, label + "/quarterly"} {
		for _, p := range series[key] {
			out[p.metric.Period] = p.metric
		}
	}
	return out
}

func sortedKeys(series map[string][]point) []string {
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// humanLabel renders a canonical label for prose: "total_revenue" becomes
// "Total revenue".
func humanLabel(label string) string {
	s := strings.ReplaceAll(label, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatValue renders a metric value compactly for statements.
func formatValue(m extract.Metric) string {
	prefix := ""
	switch m.Unit {
	case extract.UnitCurrencyUSD:
		prefix = "$"
	case extract.UnitCurrencyEUR:
		prefix = "€"
	case extract.UnitCurrencyGBP:
		prefix = "£"
	case extract.UnitPercentage:
		// Stored as a fraction (12% -> 0.12); render back as percent.
		return trimZero(fmt.Sprintf("%.1f", m.Value*100)) + "%"
	}

	v := m.Value
	neg := ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	switch {
	case v >= 1e9:
		return neg + prefix + trimZero(fmt.Sprintf("%.1f", v/1e9)) + "B"
	case v >= 1e6:
		return neg + prefix + trimZero(fmt.Sprintf("%.1f", v/1e6)) + "M"
	case v >= 1e3:
		return neg + prefix + trimZero(fmt.Sprintf("%.1f", v/1e3)) + "K"
	default:
		return neg + prefix + trimZero(fmt.Sprintf("%.1f", v))
	}
}

func trimZero(s string) string {
	return strings.TrimSuffix(s, ".0")
}
