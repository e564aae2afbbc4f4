// Package classify assigns an industry label to a segmented document by
// scoring its text against a keyword taxonomy. Classification never fails:
// weak evidence lands on the taxonomy's fallback label with zero confidence.
package classify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/finlens/reportpipe/segment"
)

// Result is the industry decision for one document.
type Result struct {
	DocumentID      string         `json:"document_id"`
	Label           string         `json:"label"`
	Confidence      float64        `json:"confidence"`
	TaxonomyVersion string         `json:"taxonomy_version"`
	Scores          map[string]int `json:"scores,omitempty"`
}

// Classifier scores documents against a fixed taxonomy.
type Classifier struct {
	tax    *Taxonomy
	logger *slog.Logger
}

// New creates a Classifier. A nil taxonomy selects the built-in one.
func New(tax *Taxonomy, logger *slog.Logger) *Classifier {
	if tax == nil {
		tax = DefaultTaxonomy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{tax: tax, logger: logger}
}

// Classify scores the document's text and table content against every label
// and returns the best match. Ties resolve to the earliest declared label.
// A winning score below the taxonomy minimum yields the fallback label with
// confidence 0.
func (c *Classifier) Classify(ctx context.Context, docID string, blocks []segment.Block) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := collectText(blocks)

	scores := make(map[string]int, len(c.tax.Labels))
	best := -1
	bestLabel := ""
	for _, label := range c.tax.Labels {
		score := scoreLabel(text, label)
		scores[label.Name] = score
		// Strictly greater: first declared label wins ties.
		if score > best {
			best = score
			bestLabel = label.Name
		}
	}

	res := &Result{
		DocumentID:      docID,
		TaxonomyVersion: c.tax.Version,
		Scores:          scores,
	}
	if best < c.tax.MinScore {
		res.Label = c.tax.FallbackLabel
		res.Confidence = 0
	} else {
		res.Label = bestLabel
		res.Confidence = confidence(best)
	}

	c.logger.Debug("document classified",
		"document_id", docID,
		"label", res.Label,
		"confidence", res.Confidence,
		"taxonomy", c.tax.Version)

	return res, nil
}

// collectText lowercases and concatenates all narrative text plus table
// cells. Figures contribute nothing.
func collectText(blocks []segment.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		switch b.Type {
		case segment.BlockText:
			sb.WriteString(b.Text)
			sb.WriteByte('\n')
		case segment.BlockTable:
			for _, row := range b.Grid {
				sb.WriteString(strings.Join(row, " "))
				sb.WriteByte('\n')
			}
		}
	}
	return strings.ToLower(sb.String())
}

// scoreLabel counts keyword occurrences and adds 2 per matched phrase.
func scoreLabel(text string, label Label) int {
	score := 0
	for _, kw := range label.Keywords {
		score += strings.Count(text, strings.ToLower(kw))
	}
	for _, ph := range label.Phrases {
		if strings.Contains(text, strings.ToLower(ph)) {
			score += 2
		}
	}
	return score
}

// confidence normalizes a raw score into [0,1]. Twenty keyword hits is
// treated as full confidence.
func confidence(score int) float64 {
	c := float64(score) / 20
	if c > 1 {
		c = 1
	}
	return c
}
