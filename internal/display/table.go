package display

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Table renders rows as an ASCII table
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	palette    *Palette
	padding    int
}

// NewTable creates a table with the given headers
func NewTable(palette *Palette, headers ...string) *Table {
	if palette == nil {
		palette = NewPalette(false, DefaultColorTheme())
	}
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		palette:    palette,
		padding:    1,
	}
}

// AlignRight right-aligns column, for sizes and counts
func (t *Table) AlignRight(column int) *Table {
	t.alignments[column] = AlignRight
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table as a string
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.columnWidths()
	border := t.border(widths)

	var b strings.Builder
	b.WriteString(border)
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		b.WriteString(border)
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	b.WriteString(border)
	return b.String()
}

// RenderTo renders the table to the specified writer
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	widths := make([]int, cols)
	for _, row := range append([][]string{t.headers}, t.rows...) {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	return widths
}

func (t *Table) border(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2*t.padding))
		b.WriteString("+")
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString("|")
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		gap := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if header {
			cell = t.palette.Colorize(cell, t.palette.Theme().Primary)
		}

		pad := strings.Repeat(" ", t.padding)
		b.WriteString(pad)
		if t.alignments[i] == AlignRight {
			b.WriteString(gap + cell)
		} else {
			b.WriteString(cell + gap)
		}
		b.WriteString(pad)
		b.WriteString("|")
	}
	b.WriteString("\n")
	return b.String()
}
