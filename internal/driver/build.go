package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/bccache/internal/metainfo"
	"github.com/conduit-lang/bccache/internal/toolchain"
)

// BuildRequest asks for the cached object of one bitcode unit
type BuildRequest struct {
	CacheDir     string
	ResourceName string
	Bitcode      []byte
	// CommandLine describes the compiler invocation and is recorded as
	// provenance
	CommandLine   string
	BuildChecksum string
	RuntimePath   string
	DumpIR        bool
}

func (r *BuildRequest) validate() error {
	if r.CacheDir == "" {
		return errors.New("cache directory is empty")
	}
	if err := validateName(r.ResourceName); err != nil {
		return err
	}
	if len(r.Bitcode) == 0 {
		return fmt.Errorf("bitcode for %s is empty", r.ResourceName)
	}
	return nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return errors.New("resource name is empty")
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("resource name %q contains a path separator", name)
	case strings.HasPrefix(name, "@"):
		return fmt.Errorf("resource name %q starts with '@'", name)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("resource name %q contains a NUL byte", name)
	}
	return nil
}

// ObjectName maps a resource name to its object file name by replacing the
// extension with ".o"
func ObjectName(resourceName string) string {
	return strings.TrimSuffix(resourceName, filepath.Ext(resourceName)) + ".o"
}

// ObjectPath returns where Build places the object of the resource
func ObjectPath(cacheDir, resourceName string) string {
	return filepath.Join(cacheDir, ObjectName(resourceName))
}

// sourceDependencies returns the table a build of req must match, without
// the runtime entry
func (d *Driver) sourceDependencies(req *BuildRequest, facts dependency) []dependency {
	deps := []dependency{{req.ResourceName, metainfo.SumBytes(req.Bitcode)}, facts}
	return append(deps, d.provenance(req.CommandLine, req.BuildChecksum)...)
}

// Build returns the object for req, compiling it only when the cache entry
// is missing or stale.
func (d *Driver) Build(ctx context.Context, req BuildRequest) (*Result, error) {
	a := d.begin("build", req.ResourceName)
	if err := req.validate(); err != nil {
		return a.fail(KindInvalidSource, "", err)
	}

	objectPath := ObjectPath(req.CacheDir, req.ResourceName)
	a.result.ObjectPath = objectPath
	a.result.InfoPath = metainfo.PathFor(objectPath)

	facts, err := d.factsDependency(ctx, req.ResourceName)
	if err != nil {
		return a.fail(KindInvalidSource, "", err)
	}
	deps := d.sourceDependencies(&req, facts)
	if rt, ok, err := d.runtimeDependency(req.RuntimePath); err != nil {
		a.log.Info("cache miss", zap.String("object", objectPath), zap.String("reason", err.Error()))
	} else {
		if ok {
			deps = append(deps, rt)
		}
		hit, kind, err := d.lookup(a, objectPath, liveMap(deps))
		if err != nil {
			return a.fail(kind, objectPath, err)
		}
		if hit {
			return a.done(true)
		}
	}

	a.enter(ExtractingInfo)
	m, err := d.frontend.Load(ctx, req.ResourceName, req.Bitcode)
	if err != nil {
		return a.fail(KindInvalidSource, "", fmt.Errorf("failed to load %s: %w", req.ResourceName, err))
	}
	if req.BuildChecksum != "" {
		if err := d.frontend.AddBuildChecksum(m, req.BuildChecksum); err != nil {
			return a.fail(KindInvalidSource, "", fmt.Errorf("failed to add build checksum: %w", err))
		}
	}
	info, cfg, err := d.extract(ctx, m)
	if err != nil {
		return a.fail(KindInvalidSource, "", err)
	}

	a.enter(LinkingRuntime)
	linked, deps, err := d.linkRuntime(ctx, m, d.sourceDependencies(&req, facts), req.RuntimePath)
	if err != nil {
		return a.fail(KindLink, req.RuntimePath, err)
	}
	recordDependencies(info, deps)
	live := liveMap(deps)
	a.log.Debug("dependencies", zap.Strings("names", sortedNames(live)))

	return d.publish(ctx, a, &job{
		module:     linked,
		info:       info,
		cfg:        cfg,
		objectPath: objectPath,
		live:       live,
		dumpIR:     req.DumpIR,
	})
}

// linkRuntime links the runtime module and appends its dependency entry
func (d *Driver) linkRuntime(ctx context.Context, m toolchain.Module, deps []dependency, runtimePath string) (toolchain.Module, []dependency, error) {
	rt, ok, err := d.runtimeDependency(runtimePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash runtime: %w", err)
	}
	linked, err := d.frontend.LinkRuntime(ctx, m, runtimePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to link runtime: %w", err)
	}
	if ok {
		deps = append(deps, rt)
	}
	return linked, deps, nil
}

// Verify reports whether req would be a cache hit without building. It
// returns nil for a hit, an error wrapping ErrNotCached, a
// *metainfo.FormatError or a *metainfo.StaleError for a miss, and a
// *BuildError when the check itself fails.
func (d *Driver) Verify(ctx context.Context, req BuildRequest) error {
	a := d.begin("verify", req.ResourceName)
	if err := req.validate(); err != nil {
		_, err = a.fail(KindInvalidSource, "", err)
		return err
	}

	objectPath := ObjectPath(req.CacheDir, req.ResourceName)
	facts, err := d.factsDependency(ctx, req.ResourceName)
	if err != nil {
		_, err = a.fail(KindInvalidSource, "", err)
		return err
	}
	deps := d.sourceDependencies(&req, facts)
	rt, ok, err := d.runtimeDependency(req.RuntimePath)
	if err != nil {
		_, err = a.fail(KindLink, req.RuntimePath, err)
		return err
	}
	if ok {
		deps = append(deps, rt)
	}

	unlock, err := d.locker.Lock(objectPath)
	if err != nil {
		_, err = a.fail(KindLock, objectPath, err)
		return err
	}
	defer d.release(a, unlock)

	err = probe(objectPath, liveMap(deps))
	if err != nil && !isMiss(err) {
		_, err = a.fail(KindIO, objectPath, err)
	}
	return err
}

// GroupUnit is one member of a script group
type GroupUnit struct {
	Name    string
	Bitcode []byte
}

// GroupRequest asks for the object of several units fused into one
type GroupRequest struct {
	OutputPath  string
	RuntimePath string
	Units       []GroupUnit
	// Slots holds one slot per unit
	Slots  []uint32
	DumpIR bool
}

func (r *GroupRequest) validate() error {
	if r.OutputPath == "" {
		return errors.New("output path is empty")
	}
	if len(r.Units) == 0 {
		return errors.New("script group has no units")
	}
	if len(r.Slots) != len(r.Units) {
		return fmt.Errorf("%d slots for %d units", len(r.Slots), len(r.Units))
	}
	seen := make(map[string]bool, len(r.Units))
	for _, u := range r.Units {
		if err := validateName(u.Name); err != nil {
			return err
		}
		if seen[u.Name] {
			return fmt.Errorf("unit %s listed twice", u.Name)
		}
		seen[u.Name] = true
		if len(u.Bitcode) == 0 {
			return fmt.Errorf("bitcode for %s is empty", u.Name)
		}
	}
	return nil
}

// groupObjectPath replaces the output extension with ".o"
func groupObjectPath(outputPath string) string {
	return strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".o"
}

// groupIdentity hashes the ordered unit names, contents and slots. Any
// change to the group's membership, order or inputs changes it.
func groupIdentity(units []GroupUnit, slots []uint32) metainfo.Digest {
	var buf []byte
	for i, u := range units {
		sum := metainfo.SumBytes(u.Bitcode)
		buf = append(buf, u.Name...)
		buf = append(buf, 0)
		buf = append(buf, sum[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, slots[i])
	}
	return metainfo.SumBytes(buf)
}

func (d *Driver) groupDependencies(name string, req *GroupRequest, facts dependency) []dependency {
	names := make([]string, len(req.Units))
	for i, u := range req.Units {
		names[i] = u.Name
	}
	deps := []dependency{{name, groupIdentity(req.Units, req.Slots)}, facts}
	return append(deps, d.provenance("group "+strings.Join(names, " "), "")...)
}

// BuildGroup fuses the units and builds the result like Build. The
// dependency table records the fused unit's identity instead of the
// individual inputs.
func (d *Driver) BuildGroup(ctx context.Context, req GroupRequest) (*Result, error) {
	objectPath := groupObjectPath(req.OutputPath)
	name := filepath.Base(objectPath)

	a := d.begin("group", name)
	if err := req.validate(); err != nil {
		return a.fail(KindInvalidSource, "", err)
	}
	a.result.ObjectPath = objectPath
	a.result.InfoPath = metainfo.PathFor(objectPath)

	// the fused module takes its facts from the group's own name
	facts, err := d.factsDependency(ctx, name)
	if err != nil {
		return a.fail(KindInvalidSource, "", err)
	}
	deps := d.groupDependencies(name, &req, facts)
	if rt, ok, err := d.runtimeDependency(req.RuntimePath); err != nil {
		a.log.Info("cache miss", zap.String("object", objectPath), zap.String("reason", err.Error()))
	} else {
		if ok {
			deps = append(deps, rt)
		}
		hit, kind, err := d.lookup(a, objectPath, liveMap(deps))
		if err != nil {
			return a.fail(kind, objectPath, err)
		}
		if hit {
			return a.done(true)
		}
	}

	a.enter(ExtractingInfo)
	units := make([]toolchain.Module, len(req.Units))
	for i, u := range req.Units {
		m, err := d.frontend.Load(ctx, u.Name, u.Bitcode)
		if err != nil {
			return a.fail(KindInvalidSource, "", fmt.Errorf("failed to load %s: %w", u.Name, err))
		}
		units[i] = m
	}
	fused, err := d.frontend.Fuse(ctx, name, units, req.Slots)
	if err != nil {
		return a.fail(KindInvalidSource, "", fmt.Errorf("failed to fuse script group: %w", err))
	}
	info, cfg, err := d.extract(ctx, fused)
	if err != nil {
		return a.fail(KindInvalidSource, "", err)
	}

	a.enter(LinkingRuntime)
	linked, deps, err := d.linkRuntime(ctx, fused, d.groupDependencies(name, &req, facts), req.RuntimePath)
	if err != nil {
		return a.fail(KindLink, req.RuntimePath, err)
	}
	recordDependencies(info, deps)

	return d.publish(ctx, a, &job{
		module:     linked,
		info:       info,
		cfg:        cfg,
		objectPath: objectPath,
		live:       liveMap(deps),
		dumpIR:     req.DumpIR,
	})
}

// CompatRequest asks for an object with its record embedded
type CompatRequest struct {
	Name          string
	Bitcode       []byte
	OutputPath    string
	BuildChecksum string
	RuntimePath   string
	DumpIR        bool
}

func (r *CompatRequest) validate() error {
	if r.OutputPath == "" {
		return errors.New("output path is empty")
	}
	if err := validateName(r.Name); err != nil {
		return err
	}
	if len(r.Bitcode) == 0 {
		return fmt.Errorf("bitcode for %s is empty", r.Name)
	}
	return nil
}

// BuildCompat always compiles. The record carries a zeroed source hash and
// no provenance, and is embedded in the object instead of a sidecar.
func (d *Driver) BuildCompat(ctx context.Context, req CompatRequest) (*Result, error) {
	a := d.begin("compat", req.Name)
	if err := req.validate(); err != nil {
		return a.fail(KindInvalidSource, "", err)
	}
	a.result.ObjectPath = req.OutputPath

	a.enter(ExtractingInfo)
	m, err := d.frontend.Load(ctx, req.Name, req.Bitcode)
	if err != nil {
		return a.fail(KindInvalidSource, "", fmt.Errorf("failed to load %s: %w", req.Name, err))
	}
	if req.BuildChecksum != "" {
		if err := d.frontend.AddBuildChecksum(m, req.BuildChecksum); err != nil {
			return a.fail(KindInvalidSource, "", fmt.Errorf("failed to add build checksum: %w", err))
		}
	}
	info, cfg, err := d.extract(ctx, m)
	if err != nil {
		return a.fail(KindInvalidSource, "", err)
	}
	info.AddDependency(req.Name, metainfo.Digest{})
	embedded, err := info.Encode(metainfo.HeaderSize)
	if err != nil {
		return a.fail(KindInvalidSource, "", fmt.Errorf("failed to encode info: %w", err))
	}

	a.enter(LinkingRuntime)
	linked, err := d.frontend.LinkRuntime(ctx, m, req.RuntimePath)
	if err != nil {
		return a.fail(KindLink, req.RuntimePath, fmt.Errorf("failed to link runtime: %w", err))
	}

	return d.publish(ctx, a, &job{
		module:     linked,
		info:       info,
		cfg:        cfg,
		objectPath: req.OutputPath,
		embedded:   embedded,
		dumpIR:     req.DumpIR,
	})
}
