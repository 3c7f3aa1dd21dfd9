// Package display renders query results as aligned text tables. Cell widths
// are measured with runewidth so CJK content lines up in monospaced output.
package display

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// RenderTable renders headers and rows as a pipe-delimited table.
// Rows shorter than the header are padded with "-".
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	normalized := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(headers))
		for i := range headers {
			cell := "-"
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				cell = sanitizeCell(row[i])
			}
			cells[i] = cell
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
		normalized = append(normalized, cells)
	}

	var b strings.Builder
	writeRow(&b, headers, widths)
	writeSeparator(&b, widths)
	for _, row := range normalized {
		writeRow(&b, row, widths)
	}
	return strings.TrimRight(b.String(), "\n")
}

// sanitizeCell keeps cells single-line so the table stays rectangular.
func sanitizeCell(cell string) string {
	replaced := strings.NewReplacer("\r\n", " ", "\n", " ", "|", "/").Replace(cell)
	return strings.TrimSpace(replaced)
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	b.WriteString("|")
	for i, cell := range cells {
		b.WriteString(" ")
		b.WriteString(cell)
		b.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(cell)))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func writeSeparator(b *strings.Builder, widths []int) {
	b.WriteString("|")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteString("|")
	}
	b.WriteString("\n")
}
