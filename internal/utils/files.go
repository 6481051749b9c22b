package utils

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes a file through a temporary sibling and renames it
// into place, so readers see either the old content or the complete new one.
// The temporary file is removed on every failure path.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) error {
	tmp, err := CreateTempSibling(path)
	if err != nil {
		return err
	}
	return tmp.Publish(perm, write)
}

// TempSibling is a temporary file living next to its final destination.
type TempSibling struct {
	*os.File
	dest string
}

// CreateTempSibling creates a hidden temporary file in the directory of dest
func CreateTempSibling(dest string) (*TempSibling, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", dest, err)
	}
	return &TempSibling{File: f, dest: dest}, nil
}

// Publish runs write against the temp file, syncs it and renames it over the
// destination. On error the temp file is discarded and dest is untouched.
func (t *TempSibling) Publish(perm os.FileMode, write func(w io.Writer) error) error {
	if write != nil {
		if err := write(t.File); err != nil {
			t.Discard()
			return fmt.Errorf("failed to write %s: %w", t.dest, err)
		}
	}
	return t.Commit(perm)
}

// Commit syncs, closes and renames the temp file onto its destination
func (t *TempSibling) Commit(perm os.FileMode) error {
	if err := t.Chmod(perm); err != nil {
		t.Discard()
		return fmt.Errorf("failed to set mode on %s: %w", t.Name(), err)
	}
	if err := t.Sync(); err != nil {
		t.Discard()
		return fmt.Errorf("failed to sync %s: %w", t.Name(), err)
	}
	if err := t.Close(); err != nil {
		os.Remove(t.Name())
		return fmt.Errorf("failed to close %s: %w", t.Name(), err)
	}
	if err := os.Rename(t.Name(), t.dest); err != nil {
		os.Remove(t.Name())
		return fmt.Errorf("failed to publish %s: %w", t.dest, err)
	}
	return nil
}

// Discard closes and removes the temp file
func (t *TempSibling) Discard() {
	t.Close()
	os.Remove(t.Name())
}

// RemoveIfExists removes path, treating a missing file as success
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FindFiles lists the regular files directly inside dir whose extension is
// one of exts. A missing directory yields no files.
func FindFiles(dir string, exts ...string) ([]string, error) {
	var files []string

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if matchesExt(entry, exts) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	return files, nil
}

func matchesExt(entry fs.DirEntry, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := filepath.Ext(entry.Name())
	for _, want := range exts {
		if ext == want {
			return true
		}
	}
	return false
}
