package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/finlens/reportpipe/segment"
)

// Config configures the extractor.
type Config struct {
	// Vocabulary maps canonical labels to synonyms. Default: the universal
	// metric set.
	Vocabulary Vocabulary

	// Logger for extraction diagnostics.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Vocabulary == nil {
		c.Vocabulary = DefaultVocabulary()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Extractor pulls metrics from segmented blocks.
type Extractor struct {
	cfg     Config
	matcher *matcher
	logger  *slog.Logger
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	cfg.defaults()
	return &Extractor{
		cfg:     cfg,
		matcher: newMatcher(cfg.Vocabulary),
		logger:  cfg.Logger,
	}
}

// Extract walks every block, collects metric observations, and resolves
// conflicts. Unparseable values are dropped, never guessed. The result is
// deterministic for identical input.
func (e *Extractor) Extract(ctx context.Context, docID string, blocks []segment.Block) ([]Metric, error) {
	var observed []Metric
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch b.Type {
		case segment.BlockTable:
			observed = append(observed, e.fromTable(docID, b)...)
		case segment.BlockText:
			observed = append(observed, e.fromText(docID, b)...)
		}
	}

	resolved := Resolve(observed)
	e.logger.Debug("metrics extracted",
		"document_id", docID,
		"observed", len(observed),
		"resolved", len(resolved))
	return resolved, nil
}

// fromTable reads a grid: one header row naming periods, stub column (or
// header stub) naming the metric, value cells at the intersections.
func (e *Extractor) fromTable(docID string, b segment.Block) []Metric {
	headerIdx, periodByCol := findHeaderRow(b.Grid)
	if headerIdx < 0 {
		return nil
	}

	header := b.Grid[headerIdx]
	headerLabel, headerHasLabel := e.matcher.canonical(header[0])

	var orderedPeriods []string
	for col := 0; col < len(header); col++ {
		if p, ok := periodByCol[col]; ok {
			orderedPeriods = append(orderedPeriods, p)
		}
	}

	var out []Metric
	for _, row := range b.Grid[headerIdx+1:] {
		if len(row) == 0 {
			continue
		}

		if label, ok := e.matcher.canonical(row[0]); ok {
			// Stub-labeled row: align value cells to header columns.
			for col := 1; col < len(row) && col < len(header); col++ {
				period, isPeriodCol := periodByCol[col]
				if !isPeriodCol {
					continue
				}
				if m, ok := e.metricFrom(docID, b, label, period, row[col], confTable); ok {
					out = append(out, m)
				}
			}
			continue
		}

		// Label-less value row: the header stub names the metric and the
		// values zip against the period columns in order.
		if headerHasLabel && allValues(row) && len(row) <= len(orderedPeriods) {
			for i, cell := range row {
				if m, ok := e.metricFrom(docID, b, headerLabel, orderedPeriods[i], cell, confTable); ok {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// fromText scans narrative lines for synonym mentions followed by a value.
// "revenue: $120M" is a labeled statement; "revenue in 2023 reached $120M"
// is narrative and scores lower.
func (e *Extractor) fromText(docID string, b segment.Block) []Metric {
	var out []Metric
	for _, line := range strings.Split(b.Text, "\n") {
		lower := strings.ToLower(line)
		for _, hit := range e.matcher.find(lower) {
			window := lower[hit.end:]
			if len(window) > 80 {
				window = window[:80]
			}

			value, period, labeled, ok := scanWindow(window)
			if !ok {
				continue
			}
			if period == "" {
				if p, found := FindPeriod(line); found {
					period = p
				}
			}

			conf := confNarrative
			if labeled {
				conf = confLabeled
			}
			if m, ok := e.metricFrom(docID, b, hit.label, period, value, conf); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func (e *Extractor) metricFrom(docID string, b segment.Block, label, period, raw string, conf float64) (Metric, bool) {
	v, unit, ok := ParseValue(raw)
	if !ok {
		return Metric{}, false
	}
	return Metric{
		DocumentID: docID,
		Label:      label,
		Value:      v,
		Unit:       unit,
		Period:     period,
		Confidence: conf,
		Source:     b.Ref(),
		SourceType: b.Type,
	}, true
}

// scanWindow walks the tokens after a synonym mention looking for the first
// parseable value, collecting a period mention on the way. labeled is true
// when the synonym is joined to the value by ':' or '='.
func scanWindow(window string) (value, period string, labeled, ok bool) {
	lead := strings.TrimSpace(window)
	labeled = strings.HasPrefix(lead, ":") || strings.HasPrefix(lead, "=")

	tokens := strings.FieldsFunc(window, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ':' || r == '=' || r == ';'
	})
	for i, tok := range tokens {
		if i >= 8 {
			break
		}
		tok = strings.Trim(tok, ".,")
		if tok == "" {
			continue
		}
		if p, isPeriod := NormalizePeriod(tok); isPeriod {
			if period == "" {
				period = p
			}
			continue
		}
		if _, _, parses := ParseValue(tok); parses {
			// "4.2 billion" splits across tokens; reattach the magnitude.
			if i+1 < len(tokens) {
				if next := strings.Trim(tokens[i+1], ".,"); isMagnitudeWord(next) {
					tok += " " + next
				}
			}
			return tok, period, labeled, true
		}
	}
	return "", period, labeled, false
}

func isMagnitudeWord(s string) bool {
	switch strings.ToLower(s) {
	case "billion", "million", "thousand", "bn", "mn":
		return true
	}
	return false
}

// findHeaderRow locates the first row containing period cells and maps
// column index to canonical period.
func findHeaderRow(grid [][]string) (int, map[int]string) {
	for i, row := range grid {
		periods := make(map[int]string)
		for col, cell := range row {
			if p, ok := NormalizePeriod(cell); ok {
				periods[col] = p
			}
		}
		if len(periods) > 0 {
			return i, periods
		}
	}
	return -1, nil
}

// allValues reports whether every cell in the row parses as a value.
func allValues(row []string) bool {
	for _, cell := range row {
		if _, _, ok := ParseValue(cell); !ok {
			return false
		}
	}
	return len(row) > 0
}
