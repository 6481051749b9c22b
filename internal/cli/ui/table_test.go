package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"#", "Name", "Hash"}, &TableOptions{
		NoColor: true,
		Align:   []Align{AlignRight},
	})
	table.AddRow("0", "@compiler", "3f2a")
	table.AddRow("10", "foo.bc", "99ab")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, " #  Name       Hash", lines[0])
	assert.Equal(t, "──  ─────────  ────", lines[1])
	assert.Equal(t, " 0  @compiler  3f2a", lines[2])
	assert.Equal(t, "10  foo.bc     99ab", lines[3])
	assert.Equal(t, 2, table.Len())
}

func TestTable_ExtraCellsDropped(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, []string{"Key"}, &TableOptions{NoColor: true})
	table.AddRow("a", "ignored")
	table.Render()

	assert.NotContains(t, buf.String(), "ignored")
}

func TestTable_NoHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, nil, nil).Render()
	assert.Empty(t, buf.String())
}

func TestKeyValueTable(t *testing.T) {
	var buf bytes.Buffer
	kv := NewKeyValueTable(&buf, true)
	kv.AddRow("Version", "004")
	kv.AddRow("Size", "1.2 kB")
	kv.Render()

	assert.Equal(t, "Version: 004\nSize:    1.2 kB\n", buf.String())
}

func TestKeyValueTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewKeyValueTable(&buf, true).Render()
	assert.Empty(t, buf.String())
}

func TestSection(t *testing.T) {
	var buf bytes.Buffer
	s := NewSection(&buf, "Pragmas", true)
	s.AddLine("rs_fp_relaxed")
	s.AddLinef("%s = %s", "version", "1")
	s.Render()

	assert.Equal(t, "Pragmas\n  rs_fp_relaxed\n  version = 1\n\n", buf.String())
}

func TestSection_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewSection(&buf, "Exported vars", true).Render()
	assert.Equal(t, "Exported vars\n  (none)\n\n", buf.String())
}

func TestHeaderAndDivider(t *testing.T) {
	var buf bytes.Buffer
	Header(&buf, "Sidecar", true)
	assert.Equal(t, "Sidecar\n───────\n", buf.String())

	buf.Reset()
	Divider(&buf, 0, true)
	assert.Equal(t, strings.Repeat("─", 80)+"\n", buf.String())
}

func TestPad(t *testing.T) {
	assert.Equal(t, "ab  ", pad("ab", 4, AlignLeft))
	assert.Equal(t, "  ab", pad("ab", 4, AlignRight))
	assert.Equal(t, "abcdef", pad("abcdef", 4, AlignLeft))
	assert.Equal(t, "─ ", pad("─", 2, AlignLeft))
}
