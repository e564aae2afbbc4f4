package segment

import (
	"strings"
	"unicode"
)

// Quality captures advisory metrics about how well a document segmented.
// It never fails a run; the pipeline logs it and moves on.
type Quality struct {
	PageCount      int     `json:"page_count"`
	CharsPerPage   float64 `json:"chars_per_page"`
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
	TableBlocks    int     `json:"table_blocks"`
	FigureBlocks   int     `json:"figure_blocks"`
}

func newQuality(pageCount, totalChars int, fullText string, blocks []Block) *Quality {
	q := &Quality{PageCount: pageCount}
	if pageCount > 0 {
		q.CharsPerPage = float64(totalChars) / float64(pageCount)
	}
	q.PrintableRatio = printableRatio(fullText)
	q.WordlikeRatio = wordlikeRatio(fullText)
	for _, b := range blocks {
		switch b.Type {
		case BlockTable:
			q.TableBlocks++
		case BlockFigure:
			q.FigureBlocks++
		}
	}
	return q
}

// printableRatio returns the ratio of printable characters in text.
// Excludes PUA U+E000-U+F8FF, control chars < U+0020 (except \n\r\t), U+FFFD.
func printableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

// wordlikeRatio returns the ratio of word-like tokens (length 2-15) to total tokens.
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}
