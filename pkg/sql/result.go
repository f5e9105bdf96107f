package sql

import (
	"strings"

	"github.com/CesarPetrescu/CrabSQL/pkg/catalog"
)

// Result is what a statement returns: a row set for queries, an
// affected count or message for everything else.
type Result struct {
	Columns      []string
	Rows         [][]catalog.Value
	RowsAffected int64
	Message      string
}

// okResult builds a non-query result.
func okResult(affected int64, msg string) *Result {
	return &Result{RowsAffected: affected, Message: msg}
}

// IsQuery reports whether the result carries a row set.
func (r *Result) IsQuery() bool { return r.Columns != nil }

// Format renders the result as aligned text, the shape the line
// protocol and the REPL both print.
func (r *Result) Format() string {
	if !r.IsQuery() {
		if r.Message != "" {
			return r.Message
		}
		return "OK"
	}
	widths := make([]int, len(r.Columns))
	for i, c := range r.Columns {
		widths[i] = len(c)
	}
	cells := make([][]string, len(r.Rows))
	for ri, row := range r.Rows {
		cells[ri] = make([]string, len(row))
		for ci, v := range row {
			s := v.String()
			cells[ri][ci] = s
			if ci < len(widths) && len(s) > widths[ci] {
				widths[ci] = len(s)
			}
		}
	}
	var b strings.Builder
	writeRow := func(vals []string) {
		b.WriteString("|")
		for i, s := range vals {
			b.WriteString(" ")
			b.WriteString(s)
			b.WriteString(strings.Repeat(" ", widths[i]-len(s)+1))
			b.WriteString("|")
		}
		b.WriteString("\n")
	}
	sep := func() {
		b.WriteString("+")
		for _, w := range widths {
			b.WriteString(strings.Repeat("-", w+2))
			b.WriteString("+")
		}
		b.WriteString("\n")
	}
	sep()
	writeRow(r.Columns)
	sep()
	for _, row := range cells {
		writeRow(row)
	}
	sep()
	return b.String()
}
