// Package segment partitions each page of an ingested PDF into typed blocks:
// narrative text, tables (with their cell grid preserved), and figures.
//
// Geometry is recovered from content-stream text operators, so block regions
// are expressed in extracted-line coordinates rather than points. Every page
// yields at least one block; a whole-page text block is the fallback when no
// structure is detected.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/finlens/reportpipe/ingest"
)

// BlockType identifies the structural role of a page region.
type BlockType string

const (
	BlockText   BlockType = "text"
	BlockTable  BlockType = "table"
	BlockFigure BlockType = "figure"
)

// Region locates a block within its page in extracted-line indices.
type Region struct {
	FirstLine int `json:"first_line"`
	LastLine  int `json:"last_line"`
}

// Block is a segmented, typed region of a page. Read-only after segmentation.
type Block struct {
	DocumentID   string     `json:"document_id"`
	PageIndex    int        `json:"page_index"`
	Type         BlockType  `json:"type"`
	Region       Region     `json:"region"`
	ReadingOrder int        `json:"reading_order"`
	Text         string     `json:"text,omitempty"`
	Grid         [][]string `json:"grid,omitempty"`
}

// Ref identifies a block within a document for provenance pointers.
type Ref struct {
	PageIndex    int `json:"page_index"`
	ReadingOrder int `json:"reading_order"`
}

// Ref returns the provenance pointer for b.
func (b *Block) Ref() Ref {
	return Ref{PageIndex: b.PageIndex, ReadingOrder: b.ReadingOrder}
}

// Config configures the segmenter.
type Config struct {
	// TableThreshold is the minimum confidence for promoting a grid-like
	// region to a table block; below it the region stays narrative text.
	// Tunable recall/precision tradeoff. Default: 0.6.
	TableThreshold float64

	// Logger for quality signals.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.TableThreshold <= 0 {
		c.TableThreshold = 0.6
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Segmenter splits pages into labeled blocks with a reading order.
type Segmenter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Segmenter.
func New(cfg Config) *Segmenter {
	cfg.defaults()
	return &Segmenter{cfg: cfg, logger: cfg.Logger}
}

// Segment partitions every page of src into blocks. Each page produces at
// least one block. Cancellation is checked between pages, never mid-page.
func (s *Segmenter) Segment(ctx context.Context, src *ingest.Source) ([]Block, *Quality, error) {
	pdfCtx := src.PDF()
	doc := src.Doc

	var blocks []Block
	totalChars := 0
	var allText strings.Builder

	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("segment page %d: %w", pageNr, err)
		}

		pageIdx := pageNr - 1
		lines := extractPageLines(pdfCtx, pageNr)
		pageBlocks := s.segmentLines(doc.ID, pageIdx, lines)

		// Figure block for pages carrying image XObjects.
		if pdfCtx.Optimize != nil && len(pdfcpu.ImageObjNrs(pdfCtx, pageNr)) > 0 {
			pageBlocks = append(pageBlocks, Block{
				DocumentID: doc.ID,
				PageIndex:  pageIdx,
				Type:       BlockFigure,
				Region:     Region{FirstLine: 0, LastLine: max(0, len(lines)-1)},
			})
		}

		// Fallback: every page yields at least one block.
		if len(pageBlocks) == 0 {
			pageBlocks = append(pageBlocks, Block{
				DocumentID: doc.ID,
				PageIndex:  pageIdx,
				Type:       BlockText,
				Text:       strings.Join(lines, "\n"),
			})
		}

		// Reading order: top-to-bottom within the page.
		for i := range pageBlocks {
			pageBlocks[i].ReadingOrder = i
		}
		blocks = append(blocks, pageBlocks...)

		for _, l := range lines {
			totalChars += len([]rune(l))
			allText.WriteString(l)
			allText.WriteByte('\n')
		}
	}

	q := newQuality(pdfCtx.PageCount, totalChars, allText.String(), blocks)
	if q.PrintableRatio < 0.85 {
		// Quality signal only; degraded extraction is not an error.
		s.logger.Warn("low segmentation quality",
			"document_id", doc.ID,
			"printable_ratio", q.PrintableRatio,
			"chars_per_page", q.CharsPerPage)
	}

	return blocks, q, nil
}

// segmentLines walks a page's lines, promoting grid-like runs to table
// blocks and grouping the rest into text blocks.
func (s *Segmenter) segmentLines(docID string, pageIdx int, lines []string) []Block {
	var blocks []Block
	var textStart = -1
	var textLines []string

	flushText := func(end int) {
		joined := strings.TrimSpace(strings.Join(textLines, "\n"))
		if joined != "" {
			blocks = append(blocks, Block{
				DocumentID: docID,
				PageIndex:  pageIdx,
				Type:       BlockText,
				Region:     Region{FirstLine: textStart, LastLine: end},
				Text:       joined,
			})
		}
		textStart = -1
		textLines = nil
	}

	i := 0
	for i < len(lines) {
		run, rows := tableRunAt(lines, i)
		if run > 1 && tableScore(rows) >= s.cfg.TableThreshold {
			flushText(i - 1)
			blocks = append(blocks, Block{
				DocumentID: docID,
				PageIndex:  pageIdx,
				Type:       BlockTable,
				Region:     Region{FirstLine: i, LastLine: i + run - 1},
				Grid:       rows,
			})
			i += run
			continue
		}
		if textStart < 0 {
			textStart = i
		}
		textLines = append(textLines, lines[i])
		i++
	}
	flushText(len(lines) - 1)
	return blocks
}

// tableRunAt returns the length of the grid-like run starting at index
// start, along with its cell rows. A run requires at least two consecutive
// lines splitting into two or more cells.
func tableRunAt(lines []string, start int) (int, [][]string) {
	var rows [][]string
	for i := start; i < len(lines); i++ {
		cells := splitCells(lines[i])
		if len(cells) < 2 {
			break
		}
		rows = append(rows, cells)
	}
	if len(rows) < 2 {
		return 0, nil
	}
	return len(rows), rows
}

// splitCells splits a line into cells on pipes, tabs, or runs of two or
// more spaces. Single spaces never split: they separate words, not columns.
func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var seps []string
	if strings.Contains(line, "|") {
		seps = strings.Split(line, "|")
	} else if strings.Contains(line, "\t") {
		seps = strings.Split(line, "\t")
	} else {
		seps = splitOnSpaceRuns(line)
	}

	var cells []string
	for _, c := range seps {
		c = strings.TrimSpace(c)
		if c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

func splitOnSpaceRuns(line string) []string {
	var parts []string
	var sb strings.Builder
	spaces := 0
	for _, r := range line {
		if r == ' ' {
			spaces++
			continue
		}
		if spaces >= 2 && sb.Len() > 0 {
			parts = append(parts, sb.String())
			sb.Reset()
		} else if spaces == 1 && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		spaces = 0
		sb.WriteRune(r)
	}
	if sb.Len() > 0 {
		parts = append(parts, sb.String())
	}
	return parts
}

// tableScore rates how table-like a run of cell rows is, in [0,1].
// Column-count consistency dominates; numeric cell density and row count
// contribute. Ambiguous grids without ruling land below typical thresholds
// and stay text.
func tableScore(rows [][]string) float64 {
	if len(rows) < 2 {
		return 0
	}

	counts := make(map[int]int)
	for _, r := range rows {
		counts[len(r)]++
	}
	mode := 0
	for _, n := range counts {
		if n > mode {
			mode = n
		}
	}
	consistency := float64(mode) / float64(len(rows))

	numeric, total := 0, 0
	for _, r := range rows {
		for _, c := range r {
			total++
			if looksNumeric(c) {
				numeric++
			}
		}
	}
	numericFrac := 0.0
	if total > 0 {
		numericFrac = float64(numeric) / float64(total)
	}

	rowFactor := float64(len(rows)) / 5.0
	if rowFactor > 1 {
		rowFactor = 1
	}

	return 0.5*consistency + 0.3*numericFrac + 0.2*rowFactor
}

// looksNumeric reports whether a cell reads as a numeric value, allowing
// currency symbols, separators, magnitude suffixes, and percent signs.
func looksNumeric(cell string) bool {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return false
	}
	digits := 0
	for _, r := range cell {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == ',' || r == '-' || r == '(' || r == ')' || r == '%' || r == ' ':
		case r == '$' || r == '€' || r == '£':
		case r == 'B' || r == 'M' || r == 'K' || r == 'b' || r == 'm' || r == 'k' || r == 'n':
		default:
			return false
		}
	}
	return digits > 0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
