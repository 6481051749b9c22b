package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTwo(t *testing.T, h *harness) {
	t.Helper()
	h.write("a.bc", "AAA")
	h.write("b.bc", "BBB")
	_, _, err := h.run("build", "a.bc", "--dump-ir")
	require.NoError(t, err)
	_, _, err = h.run("build", "b.bc")
	require.NoError(t, err)
}

func TestCleanCommand(t *testing.T) {
	h := newHarness(t)
	buildTwo(t, h)

	out, _, err := h.run("clean", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, ".bccache/a.o")
	assert.Contains(t, out, ".bccache/b.o")
	assert.Contains(t, out, "Would remove 2 entries")
	assert.FileExists(t, filepath.Join(".bccache", "a.o"))

	out, _, err = h.run("clean", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ removed 2 entries")

	for _, f := range []string{"a.o", "a.o.info", "a.o.ll", "b.o", "b.o.info"} {
		assert.NoFileExists(t, filepath.Join(".bccache", f))
	}
	// lock files stay without --locks
	assert.FileExists(t, filepath.Join(".bccache", "a.o.lock"))

	out, _, err = h.run("clean", "--yes", "--locks")
	require.NoError(t, err)
	assert.Contains(t, out, "lock files")

	entries, err := os.ReadDir(".bccache")
	require.NoError(t, err)
	assert.Empty(t, entries)

	out, _, err = h.run("clean", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "cache is empty")
}

func TestCleanCommand_Confirmation(t *testing.T) {
	h := newHarness(t)
	buildTwo(t, h)

	var asked string
	h.confirm = func(msg string) (bool, error) {
		asked = msg
		return false, nil
	}

	out, _, err := h.run("clean")
	require.NoError(t, err)
	assert.Contains(t, asked, "Remove 2 entries")
	assert.Contains(t, out, "Aborted")
	assert.FileExists(t, filepath.Join(".bccache", "a.o"))

	h.confirm = func(string) (bool, error) { return true, nil }
	_, _, err = h.run("clean")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(".bccache", "a.o"))
}

func TestScanCache_Orphans(t *testing.T) {
	h := newHarness(t)
	h.write("cache/gone.o.info", "x")
	h.write("cache/gone.o.ll", "x")
	h.write("cache/notes.txt", "x")

	entries, locks, err := scanCache("cache", true)
	require.NoError(t, err)
	assert.Empty(t, locks)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Join("cache", "gone.o"), entries[0].object)
	assert.Len(t, entries[0].files, 2)
}
