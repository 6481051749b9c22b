package commands

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "bccache", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"version", "build", "group", "compat", "verify", "inspect", "clean", "watch"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"config", "no-color", "verbose"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)
	Version, GitCommit = "1.2.3", "abc123"
	t.Cleanup(func() { Version, GitCommit = "dev", "unknown" })

	// version works even with a broken config
	h.write("bccache.yml", "log:\n  level: loud\n")

	out, _, err := h.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "bccache version: 1.2.3")
	assert.Contains(t, out, "abc123")
	assert.Contains(t, out, "Sidecar format:  004")
}

func TestConfigErrorIsReported(t *testing.T) {
	h := newHarness(t)
	h.write("bccache.yml", "cache_dir: \"\"\nlog:\n  format: xml\n")
	h.write("blur.bc", "BC")

	_, stderr, err := h.run("build", "blur.bc")
	require.Error(t, err)
	assert.Contains(t, stderr, "CONFIGURATION ERROR")
	assert.Contains(t, stderr, "- cache_dir must not be empty")
	assert.Contains(t, stderr, "- log.format")

	var r reported
	assert.True(t, errors.As(err, &r))
}

func TestExplicitConfigFile(t *testing.T) {
	h := newHarness(t)
	h.write("conf/custom.yml", "cache_dir: elsewhere\n")
	h.write("blur.bc", "BC")

	out, _, err := h.run("--config", "conf/custom.yml", "build", "blur.bc")
	require.NoError(t, err)
	assert.Contains(t, out, "built elsewhere/blur.o")
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "", commandLine("triple", ""))
	assert.Equal(t, "triple=armv7", commandLine("triple", "armv7"))
	assert.Equal(t, "a=1 c=3", commandLine("a", "1", "b", "", "c", "3"))
}
