package commands

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/bccache/internal/driver"
)

func newGroupCommand(a *app) *cobra.Command {
	var (
		output   string
		runtime  string
		slots    []uint
		dumpIR   bool
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "group -o <output> <a.bc> <b.bc> ...",
		Short: "Fuse several bitcode units into one cached object",
		Long: `Link the units of a script group into one module and compile it to
<output without extension>.o, next to its sidecar.

Each unit gets a slot; by default the units take slots 0, 1, 2, ... in
argument order. Changing any unit, the order or the slots rebuilds the
group.`,
		Example: `  bccache group -o out/fused.so blur.bc histogram.bc
  bccache group -o out/fused.so blur.bc histogram.bc --slot 3 --slot 1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return fmt.Errorf("--output is required")
			}

			req := driver.GroupRequest{
				OutputPath:  output,
				RuntimePath: firstNonEmpty(runtime, a.cfg.RuntimePath),
				DumpIR:      dumpIR || a.cfg.DumpIR,
			}
			for _, path := range args {
				data, err := readInput(path)
				if err != nil {
					return err
				}
				req.Units = append(req.Units, driver.GroupUnit{Name: filepath.Base(path), Bitcode: data})
			}

			var err error
			req.Slots, err = groupSlots(slots, len(args))
			if err != nil {
				return err
			}

			d, err := a.driver(args...)
			if err != nil {
				return err
			}

			var res *driver.Result
			err = a.withProgress(cmd, progress, fmt.Sprintf("building group of %d", len(args)), func() error {
				res, err = d.BuildGroup(cmd.Context(), req)
				return err
			})
			if err != nil {
				return a.reportBuild(cmd.ErrOrStderr(), "group", err)
			}
			a.printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path; the object is written beside it with a .o extension")
	cmd.Flags().StringVar(&runtime, "runtime", "", "Runtime library to link (default: runtime_path from config)")
	cmd.Flags().UintSliceVar(&slots, "slot", nil, "Slot of each unit, in argument order")
	cmd.Flags().BoolVar(&dumpIR, "dump-ir", false, "Write textual IR to <object>.ll")
	cmd.Flags().BoolVar(&progress, "progress", false, "Show a spinner while building")

	return cmd
}

// groupSlots defaults to argument order and rejects values that do not
// fit a slot
func groupSlots(flags []uint, units int) ([]uint32, error) {
	if len(flags) == 0 {
		slots := make([]uint32, units)
		for i := range slots {
			slots[i] = uint32(i)
		}
		return slots, nil
	}
	if len(flags) != units {
		return nil, fmt.Errorf("got %d --slot values for %d units", len(flags), units)
	}
	slots := make([]uint32, len(flags))
	for i, s := range flags {
		if s > math.MaxUint32 {
			return nil, fmt.Errorf("slot %d out of range", s)
		}
		slots[i] = uint32(s)
	}
	return slots, nil
}
