// Package toolchain defines the collaborators the build driver delegates to:
// a Frontend that loads, links and fuses bitcode modules and reports their
// source facts, and a Compiler that turns a module into a native object.
package toolchain

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/conduit-lang/bccache/internal/metainfo"
)

// OptLevel is the code generator optimization level, 0 through 3.
type OptLevel int

// DefaultOptLevel is used when a unit does not ask for a level
const DefaultOptLevel OptLevel = 3

// Valid reports whether the level is one the code generator accepts
func (o OptLevel) Valid() bool {
	return o >= 0 && o <= 3
}

// Config holds the settings a compiler keeps between compiles. Two configs
// are equal exactly when reconfiguring would be a no-op.
type Config struct {
	Triple    string
	OptLevel  OptLevel
	Precision metainfo.FloatPrecision
}

// Module is a loaded bitcode unit owned by a Frontend.
type Module interface {
	Name() string
	Digest() metainfo.Digest
}

// Pragma is a compiler directive as reported by the frontend
type Pragma struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// ForeachFunc is an exported kernel and its parameter bitmask
type ForeachFunc struct {
	Name      string `yaml:"name"`
	Signature uint32 `yaml:"signature"`
}

// Facts are the cacheable properties of a source unit.
type Facts struct {
	Threadable    bool          `yaml:"threadable"`
	DebugInfo     bool          `yaml:"debug_info"`
	OptLevel      OptLevel      `yaml:"opt_level"`
	Pragmas       []Pragma      `yaml:"pragmas"`
	ObjectSlots   []uint32      `yaml:"object_slots"`
	ExportVars    []string      `yaml:"export_vars"`
	ExportFuncs   []string      `yaml:"export_funcs"`
	ExportForeach []ForeachFunc `yaml:"export_foreach"`
}

// Validate rejects facts that cannot be stored in a sidecar
func (f *Facts) Validate() error {
	if !f.OptLevel.Valid() {
		return fmt.Errorf("invalid optimization level %d", f.OptLevel)
	}

	check := func(what, s string, allowEmpty bool) error {
		if s == "" && !allowEmpty {
			return fmt.Errorf("empty %s", what)
		}
		if strings.IndexByte(s, 0) >= 0 {
			return fmt.Errorf("%s %q contains a NUL byte", what, s)
		}
		return nil
	}

	for _, p := range f.Pragmas {
		if err := check("pragma key", p.Key, false); err != nil {
			return err
		}
		if err := check("pragma value", p.Value, true); err != nil {
			return err
		}
	}
	for _, name := range f.ExportVars {
		if err := check("export var", name, false); err != nil {
			return err
		}
	}
	for _, name := range f.ExportFuncs {
		if err := check("export func", name, false); err != nil {
			return err
		}
	}
	for _, fn := range f.ExportForeach {
		if err := check("foreach kernel", fn.Name, false); err != nil {
			return err
		}
	}
	return nil
}

// Frontend loads source units and prepares them for code generation.
type Frontend interface {
	// Load parses bitcode into a module
	Load(ctx context.Context, name string, bitcode []byte) (Module, error)
	// AddBuildChecksum attaches a build checksum to the module
	AddBuildChecksum(m Module, checksum string) error
	// Facts reports the cacheable properties of a module
	Facts(ctx context.Context, m Module) (*Facts, error)
	// FactsSource returns the bytes the facts of the unit called name are
	// derived from, or nil when the unit has default facts. It is read
	// before the unit is loaded.
	FactsSource(ctx context.Context, name string) ([]byte, error)
	// LinkRuntime merges the runtime support module at runtimePath into m.
	// An empty runtimePath returns m unchanged.
	LinkRuntime(ctx context.Context, m Module, runtimePath string) (Module, error)
	// Fuse merges several units into one synthetic module named name
	Fuse(ctx context.Context, name string, units []Module, slots []uint32) (Module, error)
}

// CompileRequest describes one code generation run
type CompileRequest struct {
	Module Module
	// Output receives the native object
	Output io.Writer
	// IR receives textual IR when non-nil
	IR io.Writer
	// EmbeddedInfo is stored in the object's metadata section when non-nil
	EmbeddedInfo []byte
}

// Compiler generates native code. Configure is only called when the
// settings differ from the ones of the previous call.
type Compiler interface {
	// Identity describes the compiler build, recorded as provenance
	Identity() string
	Configure(ctx context.Context, cfg Config) error
	Compile(ctx context.Context, req CompileRequest) error
}
