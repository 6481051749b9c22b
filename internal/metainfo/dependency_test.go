package metainfo

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	bitcode := []byte("define void @root() { ret void }")
	changed := append([]byte(nil), bitcode...)
	changed[len(changed)-1] ^= 0x01

	info := New()
	info.AddDependency("foo.bc", SumBytes(bitcode))
	info.AddDependency("libclcore.bc", SumString("core"))

	tests := []struct {
		name    string
		live    map[string]Digest
		wantErr bool
		stale   string
	}{
		{
			name: "identical",
			live: map[string]Digest{
				"foo.bc":       SumBytes(bitcode),
				"libclcore.bc": SumString("core"),
			},
		},
		{
			name: "one byte differs",
			live: map[string]Digest{
				"foo.bc":       SumBytes(changed),
				"libclcore.bc": SumString("core"),
			},
			wantErr: true,
			stale:   "foo.bc",
		},
		{
			name: "recorded dependency missing from live set",
			live: map[string]Digest{
				"foo.bc": SumBytes(bitcode),
			},
			wantErr: true,
			stale:   "libclcore.bc",
		},
		{
			name: "live dependency not recorded",
			live: map[string]Digest{
				"foo.bc":       SumBytes(bitcode),
				"libclcore.bc": SumString("core"),
				"extra.bc":     SumString("extra"),
			},
			wantErr: true,
			stale:   "extra.bc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(info, tt.live)
			if !tt.wantErr {
				assert.NoError(t, err)
				assert.True(t, IsFresh(info, tt.live))
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStale)

			var se *StaleError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.stale, se.Name)
			assert.False(t, IsFresh(info, tt.live))
		})
	}
}

func TestVerify_EmptyTable(t *testing.T) {
	assert.NoError(t, Verify(New(), map[string]Digest{}))
	assert.Error(t, Verify(New(), map[string]Digest{"foo.bc": {}}))
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libclcore.bc")
	require.NoError(t, os.WriteFile(path, []byte("core"), 0o644))

	d, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, SumString("core"), d)

	_, err = HashFile(filepath.Join(t.TempDir(), "missing.bc"))
	assert.Error(t, err)
}

func TestBuiltins_CachesFirstHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libclcore.bc")
	require.NoError(t, os.WriteFile(path, []byte("core"), 0o644))

	b := NewBuiltins()
	first, err := b.Digest(path)
	require.NoError(t, err)

	// later edits are not observed for the lifetime of the cache
	require.NoError(t, os.WriteFile(path, []byte("patched"), 0o644))
	second, err := b.Digest(filepath.Join(filepath.Dir(path), ".", "libclcore.bc"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuiltins_FailuresAreNotCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.bc")
	b := NewBuiltins()

	_, err := b.Digest(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("late"), 0o644))
	d, err := b.Digest(path)
	require.NoError(t, err)
	assert.Equal(t, SumString("late"), d)
}

func TestBuiltins_Concurrent(t *testing.T) {
	dir := t.TempDir()
	paths := make([]string, 4)
	for i := range paths {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".bc")
		require.NoError(t, os.WriteFile(paths[i], []byte(paths[i]), 0o644))
	}

	b := NewBuiltins()
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := paths[i%len(paths)]
			d, err := b.Digest(path)
			if err != nil {
				errs <- err
				return
			}
			if d != SumString(path) {
				errs <- assert.AnError
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}

	require.NoError(t, b.Load(paths...))
}
