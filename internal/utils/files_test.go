package utils

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "foo.o")

	err := WriteFileAtomic(path, 0o600, func(w io.Writer) error {
		_, err := io.WriteString(w, "first")
		return err
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestWriteFileAtomic_FailureKeepsOldContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.o")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	cause := errors.New("compiler crashed")
	err := WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return cause
	})
	assert.ErrorIs(t, err, cause)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestTempSibling_Discard(t *testing.T) {
	dir := t.TempDir()
	tmp, err := CreateTempSibling(filepath.Join(dir, "foo.o"))
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(tmp.Name()))

	tmp.Discard()
	assert.NoFileExists(t, tmp.Name())
	assert.NoFileExists(t, filepath.Join(dir, "foo.o"))
}

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "foo.o.info")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	assert.NoError(t, RemoveIfExists(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, RemoveIfExists(path))
}

func TestFindFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.o", "a.o.info", "a.o.ll", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.o"), 0o755))

	files, err := FindFiles(dir, ".o", ".info")
	require.NoError(t, err)
	sort.Strings(files)
	assert.Equal(t, []string{filepath.Join(dir, "a.o"), filepath.Join(dir, "a.o.info")}, files)

	all, err := FindFiles(dir)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	missing, err := FindFiles(filepath.Join(dir, "nope"), ".o")
	require.NoError(t, err)
	assert.Empty(t, missing)
}
