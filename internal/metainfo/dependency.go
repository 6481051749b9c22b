package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Verify checks a record against the live dependency hashes. Every entry in
// the record's table must be present in live with an identical hash, and
// every live dependency must appear in the table. The first violation is
// returned as a *StaleError.
func Verify(info *Info, live map[string]Digest) error {
	recorded := make(map[string]struct{}, len(info.Dependencies))

	for _, dep := range info.Dependencies {
		name, err := info.pool.LookupString(dep.Name)
		if err != nil {
			return &StaleError{Name: fmt.Sprintf("#%d", dep.Name), Reason: err.Error()}
		}
		recorded[name] = struct{}{}

		want, ok := live[name]
		if !ok {
			return &StaleError{Name: name, Reason: "no longer a dependency"}
		}
		if !bytes.Equal(want[:], dep.Hash[:]) {
			return &StaleError{
				Name:   name,
				Reason: fmt.Sprintf("hash %s, recorded %s", want, dep.Hash),
			}
		}
	}

	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := recorded[name]; !ok {
			return &StaleError{Name: name, Reason: "not recorded"}
		}
	}

	return nil
}

// IsFresh reports whether Verify accepts the record
func IsFresh(info *Info, live map[string]Digest) bool {
	return Verify(info, live) == nil
}

// Builtins caches the hashes of runtime components that ship with the
// toolchain. A component is hashed the first time it is asked for and the
// result is kept for the lifetime of the Builtins value; concurrent first
// requests share a single computation. Failures are not cached.
type Builtins struct {
	mu      sync.RWMutex
	digests map[string]Digest
	group   singleflight.Group
}

// NewBuiltins creates an empty builtin hash cache
func NewBuiltins() *Builtins {
	return &Builtins{digests: make(map[string]Digest)}
}

// Load hashes every listed component that is not cached yet
func (b *Builtins) Load(paths ...string) error {
	for _, path := range paths {
		if _, err := b.Digest(path); err != nil {
			return err
		}
	}
	return nil
}

// Digest returns the cached hash of the component at path, computing it on
// first use. Paths are cleaned so equivalent spellings share one entry.
func (b *Builtins) Digest(path string) (Digest, error) {
	key := filepath.Clean(path)

	if d, ok := b.cached(key); ok {
		return d, nil
	}

	v, err, _ := b.group.Do(key, func() (any, error) {
		if d, ok := b.cached(key); ok {
			return d, nil
		}

		d, err := hashFile(key)
		if err != nil {
			return Digest{}, err
		}

		b.mu.Lock()
		b.digests[key] = d
		b.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return Digest{}, err
	}
	return v.(Digest), nil
}

func (b *Builtins) cached(key string) (Digest, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.digests[key]
	return d, ok
}

// HashFile computes the SHA-1 of the file at path
func HashFile(path string) (Digest, error) {
	return hashFile(path)
}

func hashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	hasher := sha1.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, nil
}
