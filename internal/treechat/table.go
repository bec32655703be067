package treechat

import (
	"bufio"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

const tablePadding = 2

// writeTable renders an aligned text table. Column widths use display width
// so names with wide runes line up.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	cols := len(headers)
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	if cols == 0 {
		return nil
	}

	widths := make([]int, cols)
	measure := func(row []string) {
		for idx, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[idx] {
				widths[idx] = w
			}
		}
	}
	measure(headers)
	for _, row := range rows {
		measure(row)
	}

	writer := bufio.NewWriter(out)
	writeRow := func(row []string) {
		for idx := 0; idx < cols; idx++ {
			cell := ""
			if idx < len(row) {
				cell = row[idx]
			}
			writer.WriteString(cell)
			if idx < cols-1 {
				pad := widths[idx] - runewidth.StringWidth(cell)
				writer.WriteString(strings.Repeat(" ", pad+tablePadding))
			}
		}
		writer.WriteString("\n")
	}

	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
	return writer.Flush()
}
