package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conduit-lang/bccache/internal/cli/config"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestAffected(t *testing.T) {
	triggers := map[string][]string{
		"/w/a.bc":   {"a.bc"},
		"/w/b.bc":   {"b.bc"},
		"/w/rt.bc":  {"a.bc", "b.bc"},
		"/w/a.yaml": {"a.bc"},
	}
	order := []string{"b.bc", "a.bc"}

	assert.Equal(t, []string{"a.bc"}, affected(triggers, []string{"/w/a.yaml"}, order))
	assert.Equal(t, []string{"b.bc", "a.bc"}, affected(triggers, []string{"/w/rt.bc"}, order))
	assert.Empty(t, affected(triggers, []string{"/w/other"}, order))
}

func TestRebuilderBuild_UnreadableInputWarns(t *testing.T) {
	h := newHarness(t)
	h.write("a.bc", "A")

	a := &app{
		newToolchain: func(*config.Config, string, *zap.Logger) Toolchain { return h.fake },
		noColor:      true,
		logger:       zap.NewNop(),
	}
	a.cfg = loadConfig(t)

	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	r := &rebuilder{app: a, cmd: cmd, flags: &unitFlags{}}

	err := r.build(context.Background(), []string{"missing.bc", "a.bc"})
	require.Error(t, err)

	var rep reported
	assert.ErrorAs(t, err, &rep)
	assert.True(t, strings.HasPrefix(stderr.String(), "⚠️ failed to read missing.bc"), stderr.String())
	assert.Contains(t, stdout.String(), "built .bccache/a.o")
}

func TestRebuilderTriggers(t *testing.T) {
	h := newHarness(t)
	h.write("bccache.yml", "runtime_path: rt/libclcore.bc\n")
	h.write("src/blur.bc", "BLUR")

	a := &app{}
	a.cfg = loadConfig(t)
	r := &rebuilder{app: a, flags: &unitFlags{}}

	triggers, err := r.triggers([]string{"src/blur.bc"})
	require.NoError(t, err)

	abs := func(p string) string {
		p, err := filepath.Abs(p)
		require.NoError(t, err)
		return p
	}
	assert.Equal(t, map[string][]string{
		abs("src/blur.bc"):     {"src/blur.bc"},
		abs("src/blur.yaml"):   {"src/blur.bc"},
		abs("rt/libclcore.bc"): {"src/blur.bc"},
	}, triggers)
}

func TestWatchCommand(t *testing.T) {
	h := newHarness(t)
	h.write("blur.bc", "V1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- h.runContext(ctx, &stdout, &stderr, "watch", "blur.bc", "--delay", "20ms")
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "Watching")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, stdout.String(), "built .bccache/blur.o")

	h.write("blur.bc", "V2")
	require.Eventually(t, func() bool {
		return strings.Count(stdout.String(), "built .bccache/blur.o") == 2
	}, 5*time.Second, 10*time.Millisecond)

	// a manifest change triggers a rebuild pass
	h.write("blur.yaml", "threadable: true\n")
	require.Eventually(t, func() bool {
		return strings.Count(stdout.String(), "built .bccache/blur.o") == 3 || strings.Contains(stdout.String(), "cache hit")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchCommand_NameNeedsOneInput(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.run("watch", "a.bc", "b.bc", "--name", "x.bc")
	assert.ErrorContains(t, err, "--name needs exactly one input")
}
