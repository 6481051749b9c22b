package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Align selects how a column is padded
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// style returns a color that honors noColor
func style(noColor bool, attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if noColor {
		c.DisableColor()
	}
	return c
}

// Table renders rows under a header line, used for sidecar lists
type Table struct {
	writer  io.Writer
	headers []string
	align   []Align
	rows    [][]string
	noColor bool
}

// TableOptions configures table behavior
type TableOptions struct {
	NoColor bool
	// Align holds per-column alignment; missing columns are left aligned
	Align []Align
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, headers []string, opts *TableOptions) *Table {
	t := &Table{
		writer:  w,
		headers: headers,
		align:   make([]Align, len(headers)),
	}
	if opts != nil {
		t.noColor = opts.NoColor
		copy(t.align, opts.Align)
	}
	return t
}

// AddRow adds a row to the table. Extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows added
func (t *Table) Len() int {
	return len(t.rows)
}

// Render renders the table to the writer
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = width(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && width(cell) > widths[i] {
				widths[i] = width(cell)
			}
		}
	}

	bold := style(t.noColor, color.Bold, color.FgCyan)
	gray := style(t.noColor, color.FgHiBlack)

	t.line(widths, t.headers, bold)

	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("─", w)
	}
	t.line(widths, rule, gray)

	for _, row := range t.rows {
		t.line(widths, row, nil)
	}
}

func (t *Table) line(widths []int, cells []string, c *color.Color) {
	n := len(cells)
	if n > len(widths) {
		n = len(widths)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		// the last left-aligned cell needs no trailing padding
		if i == n-1 && t.align[i] == AlignLeft {
			parts[i] = cells[i]
			continue
		}
		parts[i] = pad(cells[i], widths[i], t.align[i])
	}
	text := strings.Join(parts, "  ")
	if c != nil {
		c.Fprintln(t.writer, text)
	} else {
		fmt.Fprintln(t.writer, text)
	}
}

func width(s string) int {
	return utf8.RuneCountInString(s)
}

// pad pads s with spaces to reach the target width
func pad(s string, w int, a Align) string {
	n := width(s)
	if n >= w {
		return s
	}
	fill := strings.Repeat(" ", w-n)
	if a == AlignRight {
		return fill + s
	}
	return s + fill
}

// KeyValueTable renders aligned "key: value" lines
type KeyValueTable struct {
	writer  io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValueTable creates a new key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{writer: w, noColor: noColor}
}

// AddRow adds a key-value pair to the table
func (t *KeyValueTable) AddRow(key, value string) {
	t.keys = append(t.keys, key)
	t.values = append(t.values, value)
}

// Render renders the key-value table
func (t *KeyValueTable) Render() {
	keyWidth := 0
	for _, k := range t.keys {
		if width(k) > keyWidth {
			keyWidth = width(k)
		}
	}

	cyan := style(t.noColor, color.FgCyan)
	for i, k := range t.keys {
		cyan.Fprint(t.writer, pad(k+":", keyWidth+1, AlignLeft))
		fmt.Fprintf(t.writer, " %s\n", t.values[i])
	}
}

// Section is a titled block of indented lines
type Section struct {
	writer  io.Writer
	title   string
	lines   []string
	noColor bool
}

// NewSection creates a new section
func NewSection(w io.Writer, title string, noColor bool) *Section {
	return &Section{writer: w, title: title, noColor: noColor}
}

// AddLine adds a line to the section
func (s *Section) AddLine(line string) {
	s.lines = append(s.lines, line)
}

// AddLinef adds a formatted line to the section
func (s *Section) AddLinef(format string, args ...any) {
	s.AddLine(fmt.Sprintf(format, args...))
}

// Render renders the section followed by a blank line. An empty section
// prints "(none)" under its title.
func (s *Section) Render() {
	style(s.noColor, color.Bold, color.FgCyan).Fprintln(s.writer, s.title)
	if len(s.lines) == 0 {
		style(s.noColor, color.FgHiBlack).Fprintln(s.writer, "  (none)")
	}
	for _, line := range s.lines {
		fmt.Fprintf(s.writer, "  %s\n", line)
	}
	fmt.Fprintln(s.writer)
}

// Divider renders a horizontal divider line
func Divider(w io.Writer, n int, noColor bool) {
	if n == 0 {
		n = 80
	}
	style(noColor, color.FgHiBlack).Fprintln(w, strings.Repeat("─", n))
}

// Header renders a styled header
func Header(w io.Writer, title string, noColor bool) {
	style(noColor, color.Bold, color.FgCyan).Fprintln(w, title)
	Divider(w, width(title), noColor)
}
