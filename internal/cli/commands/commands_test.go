package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conduit-lang/bccache/internal/cli/config"
	"github.com/conduit-lang/bccache/internal/toolchain/toolchaintest"
)

// syncBuffer is shared between a command and a watcher goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	t       *testing.T
	dir     string
	fake    *toolchaintest.Fake
	confirm Confirm
}

// newHarness runs commands in a fresh working directory with a fake
// toolchain
func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })

	t.Setenv("BCCACHE_LOG_LEVEL", "error")
	t.Cleanup(func() { color.NoColor = false })

	return &harness{
		t:    t,
		dir:  dir,
		fake: toolchaintest.New(),
		confirm: func(string) (bool, error) {
			return false, errors.New("unexpected prompt")
		},
	}
}

func (h *harness) root() *cobra.Command {
	return newRootCommand(&app{
		newToolchain: func(*config.Config, string, *zap.Logger) Toolchain { return h.fake },
		confirm:      h.confirm,
	})
}

func (h *harness) runContext(ctx context.Context, stdout, stderr io.Writer, args ...string) error {
	cmd := h.root()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	return cmd.ExecuteContext(ctx)
}

func (h *harness) run(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	err := h.runContext(context.Background(), &stdout, &stderr, args...)
	return stdout.String(), stderr.String(), err
}

func (h *harness) write(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
	return name
}
