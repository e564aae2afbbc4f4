package segment

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// extractPageLines extracts the text of one page as lines, following the
// content-stream operator sequence. Text-showing operators accumulate onto
// the current line; line-motion operators (TD, T*, ') flush it. Td within a
// line leaves a column gap so grid rows survive as multi-cell lines.
func extractPageLines(pdfCtx *model.Context, pageNr int) []string {
	r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
	if err != nil {
		return nil
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return nil
	}
	return linesFromStream(data)
}

// linesFromStream parses PDF content stream operators into text lines.
func linesFromStream(data []byte) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		line := cleanLine(cur.String())
		if line != "" {
			out = append(out, line)
		}
		cur.Reset()
	}

	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		switch {
		// Tj / TJ: show text on the current line.
		case bytes.HasSuffix(raw, []byte("Tj")), bytes.HasSuffix(raw, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(raw, -1) {
				cur.WriteString(decodePDFString(m[1]))
			}

		// ': move to next line, then show text.
		case bytes.HasSuffix(raw, []byte("'")) && bytes.Contains(raw, []byte("(")):
			flush()
			for _, m := range pdfStringRe.FindAllSubmatch(raw, -1) {
				cur.WriteString(decodePDFString(m[1]))
			}

		// TD / T*: line motion.
		case bytes.HasSuffix(raw, []byte("TD")), bytes.Equal(raw, []byte("T*")):
			flush()

		// Td: horizontal reposition within the line. Two spaces so cell
		// boundaries survive for grid detection.
		case bytes.HasSuffix(raw, []byte("Td")):
			if cur.Len() > 0 {
				cur.WriteString("  ")
			}

		// ET: end of a text object.
		case bytes.Equal(raw, []byte("ET")):
			flush()
		}
	}
	flush()
	return out
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\':
				sb.WriteByte('\\')
			case '(':
				sb.WriteByte('(')
			case ')':
				sb.WriteByte(')')
			default:
				// Octal escape (e.g. \040 for space).
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
						i++
						val = val*8 + int(raw[i]-'0')
						if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
							i++
							val = val*8 + int(raw[i]-'0')
						}
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanLine drops non-printable runes and trims, preserving interior spacing
// so multi-space column gaps survive.
func cleanLine(line string) string {
	var sb strings.Builder
	for _, r := range line {
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\t' {
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

func isGarbageRune(r rune) bool {
	// Private Use Area
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	// Replacement character
	if r == 0xFFFD {
		return true
	}
	// Control chars except whitespace
	if r < 0x0020 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	return false
}
