package metainfo

import (
	"fmt"
	"io"
)

// Dump writes a human readable listing of the record to w
func (i *Info) Dump(w io.Writer) error {
	p := &dumpPrinter{w: w, info: i}

	p.printf("threadable: %t\n", i.Threadable)
	p.printf("debug info: %t\n", i.HasDebugInfo)
	p.printf("float precision: %s\n", i.FloatPrecision())

	p.section(ListDependencies, len(i.Dependencies))
	for _, d := range i.Dependencies {
		p.printf("  %s %s\n", d.Hash, p.str(d.Name))
	}

	p.section(ListPragmas, len(i.Pragmas))
	for _, pr := range i.Pragmas {
		p.printf("  %s = %q\n", p.str(pr.Key), p.str(pr.Value))
	}

	p.section(ListObjectSlots, len(i.ObjectSlots))
	for _, slot := range i.ObjectSlots {
		p.printf("  %d\n", slot)
	}

	p.section(ListExportVars, len(i.ExportVars))
	for _, name := range i.ExportVars {
		p.printf("  %s\n", p.str(name))
	}

	p.section(ListExportFuncs, len(i.ExportFuncs))
	for _, name := range i.ExportFuncs {
		p.printf("  %s\n", p.str(name))
	}

	p.section(ListExportForeach, len(i.ExportForeach))
	for _, f := range i.ExportForeach {
		p.printf("  %s (signature %#x)\n", p.str(f.Name), f.Signature)
	}

	return p.err
}

type dumpPrinter struct {
	w    io.Writer
	info *Info
	err  error
}

func (p *dumpPrinter) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *dumpPrinter) section(k ListKind, n int) {
	p.printf("%s list (%d):\n", k, n)
}

func (p *dumpPrinter) str(idx StringIndex) string {
	if idx == NoString {
		return ""
	}
	s, err := p.info.pool.LookupString(idx)
	if err != nil {
		return fmt.Sprintf("<bad string %d>", idx)
	}
	return s
}
