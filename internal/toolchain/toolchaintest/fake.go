// Package toolchaintest provides an in-memory toolchain for driver tests.
package toolchaintest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conduit-lang/bccache/internal/metainfo"
	"github.com/conduit-lang/bccache/internal/toolchain"
)

// Module is a fake module; its bitcode is arbitrary bytes
type Module struct {
	name     string
	Data     []byte
	Checksum string
	Runtime  []byte
	Units    []string
}

// Name returns the unit name
func (m *Module) Name() string { return m.name }

// Digest hashes the module contents
func (m *Module) Digest() metainfo.Digest { return metainfo.SumBytes(m.Data) }

// Fake implements toolchain.Frontend and toolchain.Compiler. Set the *Err
// fields to inject failures. All counters are safe for concurrent use.
type Fake struct {
	ID string

	// UnitFacts by module name; units without an entry get default facts
	UnitFacts map[string]*toolchain.Facts

	LoadErr      error
	ChecksumErr  error
	FactsErr     error
	SourceErr    error
	LinkErr      error
	FuseErr      error
	ConfigureErr error
	CompileErr   error

	// ChunkDelay is slept between output chunks to widen race windows
	ChunkDelay time.Duration

	mu      sync.Mutex
	configs []toolchain.Config

	compiles   atomic.Int32
	active     atomic.Int32
	overlaps   atomic.Int32
	configures atomic.Int32
}

// New creates a fake toolchain
func New() *Fake {
	return &Fake{
		ID:        "fake-compiler 1.0",
		UnitFacts: make(map[string]*toolchain.Facts),
	}
}

// Load wraps bitcode in a Module
func (f *Fake) Load(ctx context.Context, name string, bitcode []byte) (toolchain.Module, error) {
	if f.LoadErr != nil {
		return nil, f.LoadErr
	}
	return &Module{name: name, Data: append([]byte(nil), bitcode...)}, nil
}

// AddBuildChecksum records the checksum on the module
func (f *Fake) AddBuildChecksum(m toolchain.Module, checksum string) error {
	if f.ChecksumErr != nil {
		return f.ChecksumErr
	}
	m.(*Module).Checksum = checksum
	return nil
}

// Facts returns the configured facts for the module
func (f *Fake) Facts(ctx context.Context, m toolchain.Module) (*toolchain.Facts, error) {
	if f.FactsErr != nil {
		return nil, f.FactsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if facts, ok := f.UnitFacts[m.Name()]; ok {
		cp := *facts
		return &cp, nil
	}
	return &toolchain.Facts{OptLevel: toolchain.DefaultOptLevel}, nil
}

// FactsSource encodes the unit's registered facts; nil for default facts
func (f *Fake) FactsSource(ctx context.Context, name string) ([]byte, error) {
	if f.SourceErr != nil {
		return nil, f.SourceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	facts, ok := f.UnitFacts[name]
	if !ok {
		return nil, nil
	}
	return toolchain.MarshalFacts(facts)
}

// SetFacts registers facts for a unit
func (f *Fake) SetFacts(name string, facts *toolchain.Facts) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UnitFacts[name] = facts
}

// LinkRuntime appends the runtime file contents to the module
func (f *Fake) LinkRuntime(ctx context.Context, m toolchain.Module, runtimePath string) (toolchain.Module, error) {
	if f.LinkErr != nil {
		return nil, f.LinkErr
	}
	if runtimePath == "" {
		return m, nil
	}
	rt, err := os.ReadFile(runtimePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime: %w", err)
	}
	src := m.(*Module)
	linked := *src
	linked.Runtime = rt
	return &linked, nil
}

// Fuse concatenates the units
func (f *Fake) Fuse(ctx context.Context, name string, units []toolchain.Module, slots []uint32) (toolchain.Module, error) {
	if f.FuseErr != nil {
		return nil, f.FuseErr
	}
	if len(units) != len(slots) {
		return nil, errors.New("slot count does not match unit count")
	}
	fused := &Module{name: name}
	for _, u := range units {
		fused.Data = append(fused.Data, u.(*Module).Data...)
		fused.Units = append(fused.Units, u.Name())
	}
	return fused, nil
}

// Identity returns ID
func (f *Fake) Identity() string { return f.ID }

// Configure records cfg
func (f *Fake) Configure(ctx context.Context, cfg toolchain.Config) error {
	f.configures.Add(1)
	if f.ConfigureErr != nil {
		return f.ConfigureErr
	}
	f.mu.Lock()
	f.configs = append(f.configs, cfg)
	f.mu.Unlock()
	return nil
}

// Compile writes ObjectFor(module) in small chunks
func (f *Fake) Compile(ctx context.Context, req toolchain.CompileRequest) error {
	if f.active.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	defer f.active.Add(-1)
	f.compiles.Add(1)

	if f.CompileErr != nil {
		return f.CompileErr
	}

	m := req.Module.(*Module)
	obj := ObjectFor(m, req.EmbeddedInfo)
	for len(obj) > 0 {
		n := min(len(obj), 4)
		if _, err := req.Output.Write(obj[:n]); err != nil {
			return err
		}
		obj = obj[n:]
		if f.ChunkDelay > 0 {
			time.Sleep(f.ChunkDelay)
		}
	}

	if req.IR != nil {
		if _, err := io.WriteString(req.IR, "IR:"+m.name); err != nil {
			return err
		}
	}
	return nil
}

// Compiles returns the number of Compile calls
func (f *Fake) Compiles() int { return int(f.compiles.Load()) }

// Configures returns the number of Configure calls
func (f *Fake) Configures() int { return int(f.configures.Load()) }

// Overlaps returns how many compiles started while another was running
func (f *Fake) Overlaps() int { return int(f.overlaps.Load()) }

// Configs returns the settings passed to Configure
func (f *Fake) Configs() []toolchain.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolchain.Config(nil), f.configs...)
}

// ObjectFor returns the object the fake produces for m
func ObjectFor(m *Module, embedded []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("OBJ:" + m.name + ":")
	buf.Write(m.Data)
	if len(m.Runtime) > 0 {
		buf.WriteString("+RT:")
		buf.Write(m.Runtime)
	}
	if m.Checksum != "" {
		buf.WriteString("+CK:" + m.Checksum)
	}
	if embedded != nil {
		buf.WriteString("+INFO:")
		buf.Write(embedded)
	}
	return buf.Bytes()
}
