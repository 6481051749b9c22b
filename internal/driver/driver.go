// Package driver decides whether a cached object may be reused and, when it
// may not, runs the compile pipeline and publishes the object together with
// its info sidecar.
//
// A build moves through
//
//	Idle → ExtractingInfo → LinkingRuntime → AcquiringLock → Compiling →
//	WritingObject → WritingSidecar → Done
//
// and ends in Failed from any non-terminal state, carrying one *BuildError.
// A cache hit goes straight from Idle (or AcquiringLock, when another
// build finished first) to Done.
package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/bccache/internal/filelock"
	"github.com/conduit-lang/bccache/internal/metainfo"
	"github.com/conduit-lang/bccache/internal/toolchain"
	"github.com/conduit-lang/bccache/internal/utils"
)

// DefaultFingerprint identifies builds made on the host
const DefaultFingerprint = "HostBuild"

// Provenance dependency names. They cannot clash with unit names, which
// never start with '@'.
const (
	DepCompiler    = "@compiler"
	DepCommandLine = "@command-line"
	DepFingerprint = "@fingerprint"
	DepChecksum    = "@checksum"
	DepFacts       = "@facts"
)

// IRExt is appended to an object path to name its IR dump
const IRExt = ".ll"

// Options configures a Driver
type Options struct {
	Frontend toolchain.Frontend
	Compiler toolchain.Compiler
	// Logger defaults to a no-op logger
	Logger *zap.Logger
	// Locker defaults to a Locker without timeout
	Locker *filelock.Locker
	// Builtins defaults to a fresh cache
	Builtins *metainfo.Builtins
	// Fingerprint identifies the platform build
	Fingerprint string
	// Triple is the target passed to the compiler
	Triple string
}

// Driver runs builds. It is safe for concurrent use; builds on one driver
// share the retained compiler configuration and are serialized around it.
type Driver struct {
	frontend    toolchain.Frontend
	compiler    toolchain.Compiler
	logger      *zap.Logger
	locker      *filelock.Locker
	builtins    *metainfo.Builtins
	fingerprint string
	triple      string

	mu     sync.Mutex
	config *toolchain.Config
	dirty  bool
}

// New creates a driver
func New(opts Options) (*Driver, error) {
	if opts.Frontend == nil {
		return nil, errors.New("driver needs a frontend")
	}
	if opts.Compiler == nil {
		return nil, errors.New("driver needs a compiler")
	}

	d := &Driver{
		frontend:    opts.Frontend,
		compiler:    opts.Compiler,
		logger:      opts.Logger,
		locker:      opts.Locker,
		builtins:    opts.Builtins,
		fingerprint: opts.Fingerprint,
		triple:      opts.Triple,
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.locker == nil {
		d.locker = filelock.New(0)
	}
	if d.builtins == nil {
		d.builtins = metainfo.NewBuiltins()
	}
	if d.fingerprint == "" {
		d.fingerprint = DefaultFingerprint
	}
	return d, nil
}

// dependency is one entry of a dependency table
type dependency struct {
	name   string
	digest metainfo.Digest
}

func liveMap(deps []dependency) map[string]metainfo.Digest {
	live := make(map[string]metainfo.Digest, len(deps))
	for _, dep := range deps {
		live[dep.name] = dep.digest
	}
	return live
}

func (d *Driver) provenance(commandLine, checksum string) []dependency {
	deps := []dependency{
		{DepCompiler, metainfo.SumString(d.compiler.Identity())},
		{DepCommandLine, metainfo.SumString(commandLine)},
		{DepFingerprint, metainfo.SumString(d.fingerprint)},
	}
	if checksum != "" {
		deps = append(deps, dependency{DepChecksum, metainfo.SumString(checksum)})
	}
	return deps
}

// factsDependency hashes what the facts of the unit called name come from,
// so editing them invalidates the cache entry
func (d *Driver) factsDependency(ctx context.Context, name string) (dependency, error) {
	src, err := d.frontend.FactsSource(ctx, name)
	if err != nil {
		return dependency{}, fmt.Errorf("failed to read facts source of %s: %w", name, err)
	}
	return dependency{DepFacts, metainfo.SumBytes(src)}, nil
}

// runtimeDependency hashes the runtime library through the builtin cache
func (d *Driver) runtimeDependency(path string) (dependency, bool, error) {
	if path == "" {
		return dependency{}, false, nil
	}
	digest, err := d.builtins.Digest(path)
	if err != nil {
		return dependency{}, false, err
	}
	return dependency{filepath.Clean(path), digest}, true, nil
}

// probe returns nil when objectPath has a sidecar that is fresh against
// live and the object exists. Misses wrap ErrNotCached or are metainfo
// format/stale errors; anything else is a real I/O failure.
func probe(objectPath string, live map[string]metainfo.Digest) error {
	infoPath := metainfo.PathFor(objectPath)
	if _, err := metainfo.ReadFile(infoPath, live); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: no sidecar at %s", ErrNotCached, infoPath)
		}
		return err
	}
	if _, err := os.Stat(objectPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: sidecar without object %s", ErrNotCached, objectPath)
		}
		return err
	}
	return nil
}

func isMiss(err error) bool {
	return errors.Is(err, ErrNotCached) || metainfo.IsUnusable(err)
}

// lookup probes the cache entry while holding the object lock, so the
// sidecar and the object are observed as a pair.
func (d *Driver) lookup(a *attempt, objectPath string, live map[string]metainfo.Digest) (bool, ErrorKind, error) {
	unlock, err := d.locker.Lock(objectPath)
	if err != nil {
		return false, KindLock, err
	}
	defer d.release(a, unlock)

	return d.probeLocked(a, objectPath, live)
}

func (d *Driver) probeLocked(a *attempt, objectPath string, live map[string]metainfo.Digest) (bool, ErrorKind, error) {
	err := probe(objectPath, live)
	switch {
	case err == nil:
		return true, "", nil
	case isMiss(err):
		a.log.Info("cache miss", zap.String("object", objectPath), zap.String("reason", err.Error()))
		return false, "", nil
	default:
		return false, KindIO, err
	}
}

func (d *Driver) release(a *attempt, unlock func() error) {
	if err := unlock(); err != nil {
		a.log.Warn("failed to release lock", zap.Error(err))
	}
}

// compile reconfigures the compiler when the settings changed since the
// previous compile on this driver, then compiles.
func (d *Driver) compile(ctx context.Context, cfg toolchain.Config, req toolchain.CompileRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config == nil || *d.config != cfg {
		d.config = &cfg
		d.dirty = true
	}
	if d.dirty {
		if err := d.compiler.Configure(ctx, cfg); err != nil {
			return fmt.Errorf("failed to configure compiler: %w", err)
		}
		d.dirty = false
	}

	return d.compiler.Compile(ctx, req)
}

// job is everything the locked part of the pipeline needs
type job struct {
	module     toolchain.Module
	info       *metainfo.Info
	cfg        toolchain.Config
	objectPath string
	// live is nil for builds without a freshness check
	live map[string]metainfo.Digest
	// embedded is the encoded record for builds without a sidecar
	embedded []byte
	dumpIR   bool
}

func (j *job) sidecar() bool {
	return j.embedded == nil
}

// publish runs AcquiringLock through Done. The object lock is held until
// the sidecar is written, so a late sidecar can never describe a newer
// object. Lock order is object then sidecar.
func (d *Driver) publish(ctx context.Context, a *attempt, j *job) (*Result, error) {
	a.enter(AcquiringLock)
	unlock, err := d.locker.Lock(j.objectPath)
	if err != nil {
		return a.fail(KindLock, j.objectPath, err)
	}
	defer d.release(a, unlock)

	if j.live != nil {
		hit, kind, err := d.probeLocked(a, j.objectPath, j.live)
		if err != nil {
			return a.fail(kind, j.objectPath, err)
		}
		if hit {
			return a.done(true)
		}
	}

	a.enter(Compiling)
	var obj, ir bytes.Buffer
	req := toolchain.CompileRequest{
		Module:       j.module,
		Output:       &obj,
		EmbeddedInfo: j.embedded,
	}
	if j.dumpIR {
		req.IR = &ir
	}
	if err := d.compile(ctx, j.cfg, req); err != nil {
		return a.fail(KindCompile, j.objectPath, err)
	}

	a.enter(WritingObject)
	infoPath := metainfo.PathFor(j.objectPath)
	if j.sidecar() {
		// the old sidecar must not vouch for the new object
		if err := utils.RemoveIfExists(infoPath); err != nil {
			return a.fail(KindIO, infoPath, fmt.Errorf("failed to remove old sidecar: %w", err))
		}
	}
	if err := writeBuffer(j.objectPath, &obj); err != nil {
		return a.fail(KindIO, j.objectPath, err)
	}
	if j.dumpIR {
		if err := writeBuffer(j.objectPath+IRExt, &ir); err != nil {
			return a.fail(KindIO, j.objectPath+IRExt, err)
		}
	}

	if !j.sidecar() {
		return a.done(false)
	}

	a.enter(WritingSidecar)
	unlockInfo, err := d.locker.Lock(infoPath)
	if err != nil {
		return a.fail(KindLock, infoPath, err)
	}
	defer d.release(a, unlockInfo)

	if err := metainfo.WriteFile(infoPath, j.info); err != nil {
		a.log.Warn("object left without sidecar", zap.String("object", j.objectPath))
		return a.fail(KindIO, infoPath, err)
	}
	return a.done(false)
}

func writeBuffer(path string, buf *bytes.Buffer) error {
	return utils.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := buf.WriteTo(w)
		return err
	})
}

// extract builds the record and compiler settings from the unit's facts
func (d *Driver) extract(ctx context.Context, m toolchain.Module) (*metainfo.Info, toolchain.Config, error) {
	facts, err := d.frontend.Facts(ctx, m)
	if err != nil {
		return nil, toolchain.Config{}, fmt.Errorf("failed to read facts of %s: %w", m.Name(), err)
	}
	if err := facts.Validate(); err != nil {
		return nil, toolchain.Config{}, fmt.Errorf("invalid facts for %s: %w", m.Name(), err)
	}

	info := metainfo.New()
	info.Threadable = facts.Threadable
	info.HasDebugInfo = facts.DebugInfo
	for _, p := range facts.Pragmas {
		info.AddPragma(p.Key, p.Value)
	}
	for _, slot := range facts.ObjectSlots {
		info.AddObjectSlot(slot)
	}
	for _, name := range facts.ExportVars {
		info.AddExportVar(name)
	}
	for _, name := range facts.ExportFuncs {
		info.AddExportFunc(name)
	}
	for _, fn := range facts.ExportForeach {
		info.AddExportForeach(fn.Name, fn.Signature)
	}

	cfg := toolchain.Config{
		Triple:    d.triple,
		OptLevel:  facts.OptLevel,
		Precision: info.FloatPrecision(),
	}
	// optimized code loses the debug info the unit asked for
	if facts.DebugInfo {
		cfg.OptLevel = 0
	}
	return info, cfg, nil
}

func recordDependencies(info *metainfo.Info, deps []dependency) {
	for _, dep := range deps {
		info.AddDependency(dep.name, dep.digest)
	}
}

// sortedNames is used for stable log output
func sortedNames(live map[string]metainfo.Digest) []string {
	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
