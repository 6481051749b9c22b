package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/bccache/internal/cli/config"
	"github.com/conduit-lang/bccache/internal/cli/ui"
	"github.com/conduit-lang/bccache/internal/driver"
	"github.com/conduit-lang/bccache/internal/filelock"
	"github.com/conduit-lang/bccache/internal/logging"
	"github.com/conduit-lang/bccache/internal/toolchain"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// Toolchain is what the commands need from a toolchain
type Toolchain interface {
	toolchain.Frontend
	toolchain.Compiler
}

// ToolchainFactory creates the toolchain for one invocation. manifestDir
// is where facts manifests are looked up.
type ToolchainFactory func(cfg *config.Config, manifestDir string, logger *zap.Logger) Toolchain

// ExecToolchain runs the LLVM tools named in the configuration
func ExecToolchain(cfg *config.Config, manifestDir string, logger *zap.Logger) Toolchain {
	return toolchain.NewExec(cfg.Toolchain.Tools(), toolchain.ManifestFacts{Dir: manifestDir}, logger)
}

// app is the state shared by every command of one invocation
type app struct {
	newToolchain ToolchainFactory
	confirm      Confirm

	configPath string
	noColor    bool
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

// setup loads the configuration and builds the logger
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(err, a.noColor))
		return reported{err}
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// manifestDir is the configured manifest directory, or the directory of
// the first input
func (a *app) manifestDir(inputs ...string) string {
	if a.cfg.Toolchain.ManifestDir != "" || len(inputs) == 0 {
		return a.cfg.Toolchain.ManifestDir
	}
	return filepath.Dir(inputs[0])
}

func (a *app) driver(inputs ...string) (*driver.Driver, error) {
	tc := a.newToolchain(a.cfg, a.manifestDir(inputs...), a.logger.Named("toolchain"))
	return driver.New(driver.Options{
		Frontend:    tc,
		Compiler:    tc,
		Logger:      a.logger.Named("driver"),
		Locker:      filelock.New(a.cfg.LockTimeout),
		Fingerprint: a.cfg.Fingerprint,
		Triple:      a.cfg.Toolchain.Triple,
	})
}

// reportBuild prints a failed build and passes the error through
func (a *app) reportBuild(w io.Writer, command string, err error) error {
	fmt.Fprint(w, ui.BuildFailure(err, command, a.noColor))
	return reported{err}
}

// reported marks an error whose message was already printed
type reported struct{ error }

func (r reported) Unwrap() error { return r.error }

// commandLine is recorded as build provenance; it lists only the settings
// that change the object.
func commandLine(parts ...string) string {
	var kept []string
	for i := 0; i+1 < len(parts); i += 2 {
		if parts[i+1] != "" {
			kept = append(kept, parts[i]+"="+parts[i+1])
		}
	}
	return strings.Join(kept, " ")
}

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{newToolchain: ExecToolchain, confirm: surveyConfirm})
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bccache",
		Short: "Bitcode compile cache",
		Long: color.CyanString(`bccache - compile cache for bitcode units

bccache compiles bitcode into native objects and keeps each object next to
a binary info sidecar. The sidecar records the hash of every input, so an
unchanged unit is served from the cache instead of being compiled again.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.noColor {
				color.NoColor = true
			}
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default: ./bccache.yml)")
	rootCmd.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log every build step")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newBuildCommand(a))
	rootCmd.AddCommand(newGroupCommand(a))
	rootCmd.AddCommand(newCompatCommand(a))
	rootCmd.AddCommand(newVerifyCommand(a))
	rootCmd.AddCommand(newInspectCommand(a))
	rootCmd.AddCommand(newCleanCommand(a))
	rootCmd.AddCommand(newWatchCommand(a))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the bccache version, Git commit, build date, Go version and sidecar format version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), color.NoColor)
			kv.AddRow("bccache version", Version)
			kv.AddRow("Git commit", GitCommit)
			kv.AddRow("Build date", BuildDate)
			kv.AddRow("Go version", goVer)
			kv.AddRow("Sidecar format", sidecarVersion())
			kv.Render()
		},
	}
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var r reported
		if !errors.As(err, &r) {
			errorColor := color.New(color.FgRed, color.Bold)
			errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return err
	}
	return nil
}

// readInput reads one bitcode file
func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
