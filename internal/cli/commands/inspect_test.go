package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/bccache/internal/driver"
	"github.com/conduit-lang/bccache/internal/toolchain"
)

func TestInspectCommand(t *testing.T) {
	h := newHarness(t)
	h.write("blur.bc", "BLUR")
	h.fake.SetFacts("blur.bc", &toolchain.Facts{
		OptLevel:      3,
		Threadable:    true,
		Pragmas:       []toolchain.Pragma{{Key: "rs_fp_relaxed"}, {Key: "version", Value: "1"}},
		ObjectSlots:   []uint32{4},
		ExportVars:    []string{"gCount"},
		ExportForeach: []toolchain.ForeachFunc{{Name: "root", Signature: 0x1f}},
	})

	_, _, err := h.run("build", "blur.bc")
	require.NoError(t, err)

	for _, target := range []string{".bccache/blur.o", ".bccache/blur.o.info"} {
		out, _, err := h.run("inspect", target)
		require.NoError(t, err, target)

		assert.Contains(t, out, "Sidecar .bccache/blur.o.info")
		assert.Contains(t, out, "Format version:  004")
		assert.Contains(t, out, "Threadable:      true")
		assert.Contains(t, out, "Float precision: relaxed")
		assert.Contains(t, out, "Dependencies (5)")
		assert.Contains(t, out, driver.DepFacts)
		assert.Contains(t, out, driver.DepCompiler)
		assert.Contains(t, out, driver.DepFingerprint)
		assert.Contains(t, out, "blur.bc")
		assert.Contains(t, out, "  rs_fp_relaxed\n")
		assert.Contains(t, out, "  version = 1\n")
		assert.Contains(t, out, "  gCount\n")
		assert.Contains(t, out, "  root (signature 0x1f)\n")
		assert.Contains(t, out, "Exported functions\n  (none)\n")
	}

	out, _, err := h.run("inspect", ".bccache/blur.o", "--raw")
	require.NoError(t, err)
	assert.Contains(t, out, "threadable: true")
}

func TestInspectCommand_MissingObject(t *testing.T) {
	h := newHarness(t)
	h.write("blur.bc", "BLUR")
	_, _, err := h.run("build", "blur.bc")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(".bccache", "blur.o")))

	out, _, err := h.run("inspect", ".bccache/blur.o")
	require.NoError(t, err)
	assert.Contains(t, out, ".bccache/blur.o (missing)")
}

func TestInspectCommand_InvalidSidecar(t *testing.T) {
	h := newHarness(t)
	h.write(".bccache/blur.o.info", "not a sidecar")

	_, stderr, err := h.run("inspect", ".bccache/blur.o")
	require.Error(t, err)
	assert.Contains(t, stderr, "INVALID SIDECAR")
	assert.Contains(t, stderr, "rebuilt on its next build")

	_, stderr, err = h.run("inspect", "nothing.o")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, stderr, "nothing.o.info")
}
