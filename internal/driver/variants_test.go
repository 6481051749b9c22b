package driver

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/bccache/internal/metainfo"
	"github.com/conduit-lang/bccache/internal/toolchain"
	"github.com/conduit-lang/bccache/internal/toolchain/toolchaintest"
)

func TestBuildCompat_EmbedsRecord(t *testing.T) {
	ctx := context.Background()
	fake := toolchaintest.New()
	fake.SetFacts("foo.bc", &toolchain.Facts{
		OptLevel:      3,
		Threadable:    true,
		ExportForeach: []toolchain.ForeachFunc{{Name: "root", Signature: 0x1f}},
	})
	d := newDriver(t, fake)

	out := filepath.Join(t.TempDir(), "lib", "librs.foo.so")
	req := CompatRequest{
		Name:          "foo.bc",
		Bitcode:       []byte("bitcode"),
		OutputPath:    out,
		BuildChecksum: "v1",
	}

	res, err := d.BuildCompat(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, out, res.ObjectPath)
	assert.Empty(t, res.InfoPath)
	assert.Equal(t, []State{
		Idle, ExtractingInfo, LinkingRuntime, AcquiringLock, Compiling, WritingObject, Done,
	}, res.States)
	assert.NoFileExists(t, metainfo.PathFor(out))

	obj, err := os.ReadFile(out)
	require.NoError(t, err)
	marker := []byte("+INFO:")
	idx := bytes.Index(obj, marker)
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "OBJ:foo.bc:bitcode+CK:v1", string(obj[:idx]))

	info, err := metainfo.Decode(obj[idx+len(marker):])
	require.NoError(t, err)
	assert.True(t, info.Threadable)
	deps, err := info.DependencyMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]metainfo.Digest{"foo.bc": {}}, deps)
	require.Len(t, info.ExportForeach, 1)

	// never served from cache
	res, err = d.BuildCompat(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 2, fake.Compiles())
}

func TestBuildCompat_Failures(t *testing.T) {
	fake := toolchaintest.New()
	d := newDriver(t, fake)

	_, err := d.BuildCompat(context.Background(), CompatRequest{Name: "foo.bc", Bitcode: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidSource)

	fake.LinkErr = errors.New("no runtime")
	_, err = d.BuildCompat(context.Background(), CompatRequest{
		Name:       "foo.bc",
		Bitcode:    []byte("x"),
		OutputPath: filepath.Join(t.TempDir(), "foo.so"),
	})
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindLink, be.Kind)
	assert.Equal(t, LinkingRuntime, be.State)
}

func groupRequest(dir string) GroupRequest {
	return GroupRequest{
		OutputPath: filepath.Join(dir, "group.so"),
		Units: []GroupUnit{
			{Name: "a.bc", Bitcode: []byte("AAA")},
			{Name: "b.bc", Bitcode: []byte("BBB")},
		},
		Slots: []uint32{0, 1},
	}
}

func TestBuildGroup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fake := toolchaintest.New()
	d := newDriver(t, fake)

	req := groupRequest(dir)
	res, err := d.BuildGroup(ctx, req)
	require.NoError(t, err)

	objectPath := filepath.Join(dir, "group.o")
	assert.Equal(t, objectPath, res.ObjectPath)
	assert.Equal(t, coldBuild, res.States)

	obj, err := os.ReadFile(objectPath)
	require.NoError(t, err)
	assert.Equal(t, "OBJ:group.o:AAABBB", string(obj))

	deps := readSidecar(t, objectPath)
	assert.Equal(t, groupIdentity(req.Units, req.Slots), deps["group.o"])
	assert.NotContains(t, deps, "a.bc")
	assert.Contains(t, deps, DepCommandLine)

	res, err = d.BuildGroup(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, 1, fake.Compiles())

	fake.SetFacts("group.o", &toolchain.Facts{OptLevel: 1})
	res, err = d.BuildGroup(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 2, fake.Compiles())

	swapped := groupRequest(dir)
	swapped.Slots = []uint32{1, 0}
	res, err = d.BuildGroup(ctx, swapped)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, 3, fake.Compiles())
}

func TestGroupIdentity(t *testing.T) {
	units := groupRequest("").Units
	base := groupIdentity(units, []uint32{0, 1})

	assert.Equal(t, base, groupIdentity(units, []uint32{0, 1}))
	assert.NotEqual(t, base, groupIdentity(units, []uint32{0, 2}))
	assert.NotEqual(t, base, groupIdentity([]GroupUnit{units[1], units[0]}, []uint32{0, 1}))

	// name/content boundaries are unambiguous
	shifted := []GroupUnit{{Name: "a.bcA", Bitcode: []byte("AA")}, units[1]}
	assert.NotEqual(t, base, groupIdentity(shifted, []uint32{0, 1}))
}

func TestBuildGroup_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *toolchaintest.Fake, req *GroupRequest)
		state State
	}{
		{"slot count", func(f *toolchaintest.Fake, req *GroupRequest) { req.Slots = req.Slots[:1] }, Idle},
		{"no units", func(f *toolchaintest.Fake, req *GroupRequest) { req.Units, req.Slots = nil, nil }, Idle},
		{"duplicate unit", func(f *toolchaintest.Fake, req *GroupRequest) { req.Units[1].Name = "a.bc" }, Idle},
		{"empty unit", func(f *toolchaintest.Fake, req *GroupRequest) { req.Units[0].Bitcode = nil }, Idle},
		{"fuse", func(f *toolchaintest.Fake, req *GroupRequest) { f.FuseErr = errors.New("kernels disagree") }, ExtractingInfo},
		{"load", func(f *toolchaintest.Fake, req *GroupRequest) { f.LoadErr = errors.New("bad wrapper") }, ExtractingInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := toolchaintest.New()
			req := groupRequest(t.TempDir())
			tt.setup(fake, &req)

			_, err := newDriver(t, fake).BuildGroup(context.Background(), req)
			require.Error(t, err)

			var be *BuildError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, KindInvalidSource, be.Kind)
			assert.Equal(t, tt.state, be.State)
			assert.Equal(t, 0, fake.Compiles())
		})
	}
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"foo", "foo.o"},
		{"foo.bc", "foo.o"},
		{"foo.v2.bc", "foo.v2.o"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ObjectName(tt.in), tt.in)
	}
	assert.Equal(t, filepath.Join("c", "foo.o"), ObjectPath("c", "foo.bc"))
	assert.Equal(t, filepath.Join("out", "g.o"), groupObjectPath(filepath.Join("out", "g.so")))
}

func TestStateString(t *testing.T) {
	names := map[State]string{
		Idle:           "idle",
		ExtractingInfo: "extracting info",
		LinkingRuntime: "linking runtime",
		AcquiringLock:  "acquiring lock",
		Compiling:      "compiling",
		WritingObject:  "writing object",
		WritingSidecar: "writing sidecar",
		Done:           "done",
		Failed:         "failed",
	}
	for s, want := range names {
		assert.Equal(t, want, s.String())
		assert.Equal(t, s == Done || s == Failed, s.Terminal())
	}
	assert.Equal(t, "unknown", State(42).String())
}

func TestBuildError(t *testing.T) {
	cause := errors.New("resource busy")
	err := error(&BuildError{State: AcquiringLock, Kind: KindLock, Path: "/c/foo.o", Err: cause})

	assert.Equal(t, "/c/foo.o: lock failed while acquiring lock: resource busy", err.Error())
	assert.ErrorIs(t, err, ErrLock)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrIO)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindLock, kind)

	_, ok = KindOf(cause)
	assert.False(t, ok)

	for _, k := range []ErrorKind{KindInvalidSource, KindLink, KindLock, KindCompile, KindIO} {
		assert.NotEmpty(t, k.Suggestion())
		assert.Equal(t, k == KindLock, k.Retryable())
	}
}
