package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/bccache/internal/cli/ui"
	"github.com/conduit-lang/bccache/internal/driver"
)

// unitFlags are shared by the commands that address one cached unit
type unitFlags struct {
	name     string
	checksum string
	runtime  string
	cacheDir string
	dumpIR   bool
	progress bool
}

func (f *unitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Resource name (default: file name)")
	cmd.Flags().StringVar(&f.checksum, "checksum", "", "Build checksum (default: build_checksum from config)")
	cmd.Flags().StringVar(&f.runtime, "runtime", "", "Runtime library to link (default: runtime_path from config)")
	cmd.Flags().StringVar(&f.cacheDir, "cache-dir", "", "Cache directory (default: cache_dir from config)")
}

// buildRequest resolves flags against the configuration
func (a *app) buildRequest(path string, f *unitFlags) (driver.BuildRequest, error) {
	data, err := readInput(path)
	if err != nil {
		return driver.BuildRequest{}, err
	}

	req := driver.BuildRequest{
		CacheDir:      firstNonEmpty(f.cacheDir, a.cfg.CacheDir),
		ResourceName:  firstNonEmpty(f.name, filepath.Base(path)),
		Bitcode:       data,
		CommandLine:   commandLine("triple", a.cfg.Toolchain.Triple),
		BuildChecksum: firstNonEmpty(f.checksum, a.cfg.BuildChecksum),
		RuntimePath:   firstNonEmpty(f.runtime, a.cfg.RuntimePath),
		DumpIR:        f.dumpIR || a.cfg.DumpIR,
	}
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// withProgress runs fn under a spinner on stderr when asked to
func (a *app) withProgress(cmd *cobra.Command, enabled bool, message string, fn func() error) error {
	if !enabled {
		return fn()
	}
	return ui.WithSpinner(cmd.ErrOrStderr(), message, a.noColor, fn)
}

// printResult reports a finished build on w
func (a *app) printResult(w io.Writer, res *driver.Result) {
	size := "?"
	if fi, err := os.Stat(res.ObjectPath); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}

	if res.CacheHit {
		ui.WriteSuccess(w, fmt.Sprintf("cache hit %s (%s)", res.ObjectPath, size), a.noColor)
		return
	}
	ui.WriteSuccess(w, fmt.Sprintf("built %s (%s) in %s", res.ObjectPath, size, res.Duration.Round(time.Millisecond)), a.noColor)
}

func newBuildCommand(a *app) *cobra.Command {
	var flags unitFlags

	cmd := &cobra.Command{
		Use:   "build <file.bc>",
		Short: "Compile a bitcode unit through the cache",
		Long: `Compile one bitcode unit into <cache-dir>/<name>.o unless the cached object
is still fresh.

A cached object is reused when its sidecar lists exactly the current
inputs: the bitcode, the runtime library, the compiler identity, the
command line, the platform fingerprint and the build checksum.`,
		Example: `  # Build with the settings from bccache.yml
  bccache build blur.bc

  # Link a runtime library and keep the IR next to the object
  bccache build blur.bc --runtime lib/libclcore.bc --dump-ir

  # Store the unit under another name
  bccache build out/tmp123.bc --name blur.bc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.buildRequest(args[0], &flags)
			if err != nil {
				return err
			}
			d, err := a.driver(args[0])
			if err != nil {
				return err
			}

			var res *driver.Result
			err = a.withProgress(cmd, flags.progress, "building "+req.ResourceName, func() error {
				res, err = d.Build(cmd.Context(), req)
				return err
			})
			if err != nil {
				return a.reportBuild(cmd.ErrOrStderr(), "build", err)
			}
			a.printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.dumpIR, "dump-ir", false, "Write textual IR to <object>.ll")
	cmd.Flags().BoolVar(&flags.progress, "progress", false, "Show a spinner while building")

	return cmd
}
