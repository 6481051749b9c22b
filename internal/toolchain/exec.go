package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/bccache/internal/metainfo"
)

// Object sections written by the exec toolchain
const (
	InfoSection     = ".bcinfo"
	ChecksumSection = ".bcchecksum"
)

var (
	rawBitcodeMagic     = []byte{'B', 'C', 0xC0, 0xDE}
	wrappedBitcodeMagic = []byte{0xDE, 0xC0, 0x17, 0x0B}
)

// BitcodeModule is a module held as raw bitcode
type BitcodeModule struct {
	name     string
	data     []byte
	checksum string
}

// NewBitcodeModule wraps bitcode without validating it
func NewBitcodeModule(name string, data []byte) *BitcodeModule {
	return &BitcodeModule{name: name, data: data}
}

// Name returns the unit name
func (m *BitcodeModule) Name() string { return m.name }

// Digest returns the SHA-1 of the bitcode
func (m *BitcodeModule) Digest() metainfo.Digest { return metainfo.SumBytes(m.data) }

// Bitcode returns the raw bitcode
func (m *BitcodeModule) Bitcode() []byte { return m.data }

// Checksum returns the build checksum attached to the module
func (m *BitcodeModule) Checksum() string { return m.checksum }

// Tools names the LLVM executables the exec toolchain runs
type Tools struct {
	LLC      string
	LLVMLink string
	LLVMDis  string
	Objcopy  string
}

// DefaultTools resolves every tool through PATH
func DefaultTools() Tools {
	return Tools{
		LLC:      "llc",
		LLVMLink: "llvm-link",
		LLVMDis:  "llvm-dis",
		Objcopy:  "llvm-objcopy",
	}
}

// Exec is a Frontend and Compiler backed by the LLVM command line tools.
// Source facts come from YAML manifests.
type Exec struct {
	tools  Tools
	facts  ManifestFacts
	logger *zap.Logger

	mu  sync.Mutex
	cfg Config

	identOnce sync.Once
	identity  string
}

// NewExec creates an exec toolchain
func NewExec(tools Tools, facts ManifestFacts, logger *zap.Logger) *Exec {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exec{
		tools:  tools,
		facts:  facts,
		logger: logger,
		cfg:    Config{OptLevel: DefaultOptLevel},
	}
}

// Load checks the bitcode magic and wraps the bytes
func (e *Exec) Load(ctx context.Context, name string, bitcode []byte) (Module, error) {
	if !bytes.HasPrefix(bitcode, rawBitcodeMagic) && !bytes.HasPrefix(bitcode, wrappedBitcodeMagic) {
		return nil, fmt.Errorf("%s is not LLVM bitcode", name)
	}
	return NewBitcodeModule(name, bitcode), nil
}

// AddBuildChecksum records checksum; it is written to its own object
// section at compile time
func (e *Exec) AddBuildChecksum(m Module, checksum string) error {
	bm, err := asBitcode(m)
	if err != nil {
		return err
	}
	bm.checksum = checksum
	return nil
}

// Facts reads the unit's manifest
func (e *Exec) Facts(ctx context.Context, m Module) (*Facts, error) {
	return e.facts.Load(m.Name())
}

// FactsSource returns the unit's manifest bytes
func (e *Exec) FactsSource(ctx context.Context, name string) ([]byte, error) {
	return e.facts.Source(name)
}

// LinkRuntime runs llvm-link over the module and the runtime library
func (e *Exec) LinkRuntime(ctx context.Context, m Module, runtimePath string) (Module, error) {
	if runtimePath == "" {
		return m, nil
	}
	bm, err := asBitcode(m)
	if err != nil {
		return nil, err
	}

	dir, cleanup, err := workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "unit.bc")
	if err := os.WriteFile(in, bm.data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage bitcode: %w", err)
	}
	out := filepath.Join(dir, "linked.bc")
	if err := e.run(ctx, nil, e.tools.LLVMLink, "-o", out, in, runtimePath); err != nil {
		return nil, err
	}

	linked, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read linked module: %w", err)
	}
	return &BitcodeModule{name: bm.name, data: linked, checksum: bm.checksum}, nil
}

// Fuse links the units into one module. The slots are only recorded by the
// caller; llvm-link has no notion of them.
func (e *Exec) Fuse(ctx context.Context, name string, units []Module, slots []uint32) (Module, error) {
	if len(units) == 0 {
		return nil, errors.New("no units to fuse")
	}

	dir, cleanup, err := workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out := filepath.Join(dir, "fused.bc")
	args := []string{"-o", out}
	for i, u := range units {
		bm, err := asBitcode(u)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, "unit-"+strconv.Itoa(i)+".bc")
		if err := os.WriteFile(path, bm.data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", bm.name, err)
		}
		args = append(args, path)
	}

	if err := e.run(ctx, nil, e.tools.LLVMLink, args...); err != nil {
		return nil, err
	}

	fused, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read fused module: %w", err)
	}
	return NewBitcodeModule(name, fused), nil
}

// Identity returns the first lines of "llc --version"
func (e *Exec) Identity() string {
	e.identOnce.Do(func() {
		var out bytes.Buffer
		if err := e.run(context.Background(), &out, e.tools.LLC, "--version"); err != nil {
			e.identity = filepath.Base(e.tools.LLC) + " (version unknown)"
			return
		}

		var lines []string
		sc := bufio.NewScanner(&out)
		for sc.Scan() && len(lines) < 2 {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		e.identity = strings.Join(lines, "; ")
	})
	return e.identity
}

// Configure stores the settings used by subsequent compiles
func (e *Exec) Configure(ctx context.Context, cfg Config) error {
	if !cfg.OptLevel.Valid() {
		return fmt.Errorf("invalid optimization level %d", cfg.OptLevel)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// Compile runs llc, optionally llvm-dis for the IR dump and objcopy for the
// metadata sections, then streams the object to req.Output.
func (e *Exec) Compile(ctx context.Context, req CompileRequest) error {
	bm, err := asBitcode(req.Module)
	if err != nil {
		return err
	}

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	dir, cleanup, err := workDir()
	if err != nil {
		return err
	}
	defer cleanup()

	in := filepath.Join(dir, "unit.bc")
	if err := os.WriteFile(in, bm.data, 0o644); err != nil {
		return fmt.Errorf("failed to stage bitcode: %w", err)
	}
	obj := filepath.Join(dir, "unit.o")

	if err := e.run(ctx, nil, e.tools.LLC, llcArgs(cfg, in, obj)...); err != nil {
		return err
	}

	if req.IR != nil {
		if err := e.run(ctx, req.IR, e.tools.LLVMDis, "-o", "-", in); err != nil {
			return err
		}
	}

	var sections []string
	if req.EmbeddedInfo != nil {
		path := filepath.Join(dir, "info.bin")
		if err := os.WriteFile(path, req.EmbeddedInfo, 0o644); err != nil {
			return fmt.Errorf("failed to stage info section: %w", err)
		}
		sections = append(sections, "--add-section", InfoSection+"="+path)
	}
	if bm.checksum != "" {
		path := filepath.Join(dir, "checksum.txt")
		if err := os.WriteFile(path, []byte(bm.checksum), 0o644); err != nil {
			return fmt.Errorf("failed to stage checksum section: %w", err)
		}
		sections = append(sections, "--add-section", ChecksumSection+"="+path)
	}
	if len(sections) > 0 {
		if err := e.run(ctx, nil, e.tools.Objcopy, append(sections, obj)...); err != nil {
			return err
		}
	}

	f, err := os.Open(obj)
	if err != nil {
		return fmt.Errorf("failed to open object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(req.Output, f); err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}
	return nil
}

func llcArgs(cfg Config, in, out string) []string {
	args := []string{"-O" + strconv.Itoa(int(cfg.OptLevel)), "-filetype=obj"}
	if cfg.Triple != "" {
		args = append(args, "-mtriple="+cfg.Triple)
	}
	switch cfg.Precision {
	case metainfo.PrecisionRelaxed:
		args = append(args, "-denormal-fp-math=preserve-sign")
	case metainfo.PrecisionImprecise:
		args = append(args, "-denormal-fp-math=preserve-sign", "-enable-unsafe-fp-math")
	}
	return append(args, "-o", out, in)
}

func (e *Exec) run(ctx context.Context, stdout io.Writer, tool string, args ...string) error {
	e.logger.Debug("running tool", zap.String("tool", tool), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		name := filepath.Base(tool)
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func asBitcode(m Module) (*BitcodeModule, error) {
	bm, ok := m.(*BitcodeModule)
	if !ok {
		return nil, fmt.Errorf("module %s was not loaded by this toolchain", m.Name())
	}
	return bm, nil
}

func workDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "bccache-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}
