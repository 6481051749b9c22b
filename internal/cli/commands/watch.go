package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/bccache/internal/cli/ui"
	"github.com/conduit-lang/bccache/internal/toolchain"
	"github.com/conduit-lang/bccache/internal/watch"
)

// rebuilder builds a fixed set of inputs through the cache
type rebuilder struct {
	app   *app
	cmd   *cobra.Command
	flags *unitFlags
}

// build rebuilds inputs with a fresh driver, so a changed runtime library
// is hashed again. Every input is attempted.
func (r *rebuilder) build(ctx context.Context, inputs []string) error {
	d, err := r.app.driver(inputs...)
	if err != nil {
		return err
	}

	var errs []error
	for _, input := range inputs {
		req, err := r.app.buildRequest(input, r.flags)
		if err != nil {
			fmt.Fprint(r.cmd.ErrOrStderr(), ui.Warning(err.Error(), r.app.noColor))
			errs = append(errs, reported{err})
			continue
		}
		res, err := d.Build(ctx, req)
		if err != nil {
			errs = append(errs, r.app.reportBuild(r.cmd.ErrOrStderr(), "watch", err))
			continue
		}
		r.app.printResult(r.cmd.OutOrStdout(), res)
	}
	return errors.Join(errs...)
}

// triggers maps every watched path to the inputs it affects: each input,
// its facts manifest and the runtime library.
func (r *rebuilder) triggers(inputs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	add := func(path, input string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		out[abs] = append(out[abs], input)
		return nil
	}

	runtime := firstNonEmpty(r.flags.runtime, r.app.cfg.RuntimePath)
	for _, input := range inputs {
		name := firstNonEmpty(r.flags.name, filepath.Base(input))
		manifests := toolchain.ManifestFacts{Dir: r.app.manifestDir(input)}

		paths := []string{input, manifests.ManifestPath(name)}
		if runtime != "" {
			paths = append(paths, runtime)
		}
		for _, p := range paths {
			if err := add(p, input); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// affected returns the inputs touched by a batch of changed paths, in
// input order
func affected(triggers map[string][]string, changed []string, order []string) []string {
	hit := make(map[string]bool)
	for _, c := range changed {
		for _, input := range triggers[c] {
			hit[input] = true
		}
	}
	var inputs []string
	for _, input := range order {
		if hit[input] {
			inputs = append(inputs, input)
		}
	}
	return inputs
}

func newWatchCommand(a *app) *cobra.Command {
	var (
		flags unitFlags
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <file.bc> [file.bc...]",
		Short: "Rebuild units whenever their inputs change",
		Long: `Build the given units, then watch each unit, its facts manifest and the
runtime library, and rebuild the affected units on every change. Failed
builds are reported and watching continues. Stop with Ctrl+C.`,
		Example: `  bccache watch blur.bc histogram.bc --runtime lib/libclcore.bc`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.name != "" && len(args) > 1 {
				return fmt.Errorf("--name needs exactly one input")
			}
			ctx := cmd.Context()
			r := &rebuilder{app: a, cmd: cmd, flags: &flags}

			triggers, err := r.triggers(args)
			if err != nil {
				return err
			}
			paths := make([]string, 0, len(triggers))
			for p := range triggers {
				paths = append(paths, p)
			}
			sort.Strings(paths)

			fw, err := watch.NewFileWatcher(watch.Options{
				Files:  paths,
				Delay:  delay,
				Logger: a.logger.Named("watch"),
			}, func(changed []string) error {
				return r.build(ctx, affected(triggers, changed, args))
			})
			if err != nil {
				return err
			}
			if err := fw.Start(); err != nil {
				return err
			}
			defer fw.Stop()

			// failures of the first build are reported like later ones
			_ = r.build(ctx, args)

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %d files, press Ctrl+C to stop\n", len(paths))
			<-ctx.Done()
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.dumpIR, "dump-ir", false, "Write textual IR to <object>.ll")
	cmd.Flags().DurationVar(&delay, "delay", watch.DefaultDelay, "Wait this long for writes to settle")

	return cmd
}
