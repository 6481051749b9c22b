package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/bccache/internal/driver"
)

func newCompatCommand(a *app) *cobra.Command {
	var (
		output string
		flags  unitFlags
	)

	cmd := &cobra.Command{
		Use:   "compat -o <output> <file.bc>",
		Short: "Compile a unit with its info embedded in the object",
		Long: `Compile one bitcode unit for loaders that read the info record from the
object itself. The record is placed in an object section, no sidecar is
written and the cache is never consulted.`,
		Example: `  bccache compat -o lib/librs.blur.so blur.bc`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			req := driver.CompatRequest{
				Name:          firstNonEmpty(flags.name, filepath.Base(args[0])),
				Bitcode:       data,
				OutputPath:    output,
				BuildChecksum: firstNonEmpty(flags.checksum, a.cfg.BuildChecksum),
				RuntimePath:   firstNonEmpty(flags.runtime, a.cfg.RuntimePath),
				DumpIR:        flags.dumpIR || a.cfg.DumpIR,
			}

			d, err := a.driver(args[0])
			if err != nil {
				return err
			}
			res, err := d.BuildCompat(cmd.Context(), req)
			if err != nil {
				return a.reportBuild(cmd.ErrOrStderr(), "compat", err)
			}
			a.printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Object path")
	cmd.Flags().StringVar(&flags.name, "name", "", "Unit name (default: file name)")
	cmd.Flags().StringVar(&flags.checksum, "checksum", "", "Build checksum (default: build_checksum from config)")
	cmd.Flags().StringVar(&flags.runtime, "runtime", "", "Runtime library to link (default: runtime_path from config)")
	cmd.Flags().BoolVar(&flags.dumpIR, "dump-ir", false, "Write textual IR to <object>.ll")

	return cmd
}
