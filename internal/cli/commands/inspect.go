package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/bccache/internal/cli/ui"
	"github.com/conduit-lang/bccache/internal/metainfo"
)

// sidecarVersion is the format version without its padding
func sidecarVersion() string {
	return strings.TrimRight(string(metainfo.Version[:]), "\x00")
}

func newInspectCommand(a *app) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "inspect <object|sidecar>",
		Short: "Show the contents of an info sidecar",
		Long: `Decode an info sidecar and print its header, dependencies, pragmas,
object slots and exports. Given an object path, its sidecar is read.`,
		Example: `  bccache inspect .bccache/blur.o
  bccache inspect .bccache/blur.o.info --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infoPath := args[0]
			if _, ok := metainfo.ObjectPathFor(infoPath); !ok {
				infoPath = metainfo.PathFor(infoPath)
			}

			info, err := metainfo.ReadFile(infoPath, nil)
			if err != nil {
				fmt.Fprint(cmd.ErrOrStderr(), ui.InvalidSidecar(infoPath, err, a.noColor))
				return reported{err}
			}

			if raw {
				return info.Dump(cmd.OutOrStdout())
			}
			printInfo(cmd.OutOrStdout(), infoPath, info, a.noColor)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print the plain listing instead of tables")

	return cmd
}

func printInfo(w io.Writer, infoPath string, info *metainfo.Info, noColor bool) {
	str := func(idx metainfo.StringIndex) string {
		s, err := info.Str(idx)
		if err != nil {
			return "<" + err.Error() + ">"
		}
		return s
	}

	ui.Header(w, "Sidecar "+infoPath, noColor)

	kv := ui.NewKeyValueTable(w, noColor)
	kv.AddRow("Format version", sidecarVersion())
	kv.AddRow("Size", humanize.Bytes(info.Header().Size()))
	objectPath, _ := metainfo.ObjectPathFor(infoPath)
	if fi, err := os.Stat(objectPath); err == nil {
		kv.AddRow("Object", fmt.Sprintf("%s (%s, %s)", objectPath, humanize.Bytes(uint64(fi.Size())), humanize.Time(fi.ModTime())))
	} else {
		kv.AddRow("Object", objectPath+" (missing)")
	}
	kv.AddRow("Threadable", strconv.FormatBool(info.Threadable))
	kv.AddRow("Debug info", strconv.FormatBool(info.HasDebugInfo))
	kv.AddRow("Float precision", info.FloatPrecision().String())
	kv.Render()
	fmt.Fprintln(w)

	deps := ui.NewSection(w, fmt.Sprintf("Dependencies (%d)", len(info.Dependencies)), noColor)
	if len(info.Dependencies) > 0 {
		var b strings.Builder
		table := ui.NewTable(&b, []string{"#", "Name", "SHA-1"}, &ui.TableOptions{
			NoColor: noColor,
			Align:   []ui.Align{ui.AlignRight},
		})
		for i, d := range info.Dependencies {
			table.AddRow(strconv.Itoa(i), str(d.Name), d.Hash.String())
		}
		table.Render()
		for _, line := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
			deps.AddLine(line)
		}
	}
	deps.Render()

	pragmas := ui.NewSection(w, "Pragmas", noColor)
	for _, p := range info.Pragmas {
		if p.Value == metainfo.NoString {
			pragmas.AddLine(str(p.Key))
			continue
		}
		pragmas.AddLinef("%s = %s", str(p.Key), str(p.Value))
	}
	pragmas.Render()

	slots := ui.NewSection(w, "Object slots", noColor)
	for _, s := range info.ObjectSlots {
		slots.AddLine(strconv.FormatUint(uint64(s), 10))
	}
	slots.Render()

	vars := ui.NewSection(w, "Exported variables", noColor)
	for _, v := range info.ExportVars {
		vars.AddLine(str(v))
	}
	vars.Render()

	funcs := ui.NewSection(w, "Exported functions", noColor)
	for _, f := range info.ExportFuncs {
		funcs.AddLine(str(f))
	}
	funcs.Render()

	foreach := ui.NewSection(w, "Exported kernels", noColor)
	for _, f := range info.ExportForeach {
		foreach.AddLinef("%s (signature %#x)", str(f.Name), f.Signature)
	}
	foreach.Render()
}
