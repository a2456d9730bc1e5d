package synth

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"sysfuzz/fdpool"
	"sysfuzz/prng"
	"sysfuzz/syzcall"
)

type fakeProvider struct{ fds []int }

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Open() error  { return nil }
func (f *fakeProvider) Close()       {}
func (f *fakeProvider) Draw(src *prng.Source) int {
	if len(f.fds) == 0 {
		return -1
	}
	return f.fds[src.Uniform(0, int64(len(f.fds)))]
}

func newTestContext(seed int64) *Context {
	src := prng.New(seed)
	pool := fdpool.NewRegistry(4, &fakeProvider{fds: []int{10, 11, 12}})
	pool.Open()
	return &Context{
		Src:    src,
		Pages:  prng.NewSentinelPages(src),
		FDPool: pool,
		Proto:  "inet",
	}
}

func TestSynthesiseFDReturnsPositive(t *testing.T) {
	ctx := newTestContext(1)
	for i := 0; i < 100; i++ {
		v := Synthesise(syzcall.ArgFD, 0, nil, ctx)
		if v == 0 {
			t.Fatal("expected a nonzero fd value")
		}
	}
}

func TestSynthesiseSockAddrLenMatchesProto(t *testing.T) {
	ctx := newTestContext(2)
	ctx.Proto = "inet6"
	v := Synthesise(syzcall.ArgSockAddrLen, 0, nil, ctx)
	if v != uint64(28) { // sizeof(sockaddr_in6) on linux/amd64
		t.Errorf("ArgSockAddrLen for inet6 = %d, want 28", v)
	}
}

func TestSynthesiseArgsFillsEverySlot(t *testing.T) {
	ctx := newTestContext(3)
	d := &syzcall.Descriptor{
		Name: "connect",
		Args: []syzcall.Arg{
			{Name: "fd", Kind: syzcall.ArgSocketInfo},
			{Name: "uservaddr", Kind: syzcall.ArgSockAddr},
			{Name: "addrlen", Kind: syzcall.ArgSockAddrLen},
		},
	}
	args := SynthesiseArgs(d, ctx)
	if len(args) != 3 {
		t.Fatalf("SynthesiseArgs() len = %d, want 3", len(args))
	}
	if args[0] == 0 {
		t.Error("expected nonzero fd arg")
	}
	if args[1] == 0 {
		t.Error("expected nonzero sockaddr pointer")
	}
	if args[2] == 0 {
		t.Error("expected nonzero sockaddr length")
	}
}

func TestPointerArgsCoverNullSentinelAndKernelCases(t *testing.T) {
	ctx := newTestContext(4)
	d := &syzcall.Descriptor{
		Args: []syzcall.Arg{{Name: "buf", Kind: syzcall.ArgPtr}},
	}

	sawNull, sawSentinel, sawKernel := false, false, false
	zeros := uint64(uintptr(unsafe.Pointer(&ctx.Pages.PageZeros[0])))
	ones := uint64(uintptr(unsafe.Pointer(&ctx.Pages.Page0xff[0])))
	rand := uint64(uintptr(unsafe.Pointer(&ctx.Pages.PageRand[0])))
	for i := 0; i < 500; i++ {
		v := SynthesiseArgs(d, ctx)[0]
		switch {
		case v == 0:
			sawNull = true
		case v == zeros || v == ones || v == rand:
			sawSentinel = true
		case v >= 0xffff800000000000:
			sawKernel = true
		}
	}
	if !sawNull {
		t.Error("expected ArgPtr to produce NULL at least once in 500 draws")
	}
	if !sawSentinel {
		t.Error("expected ArgPtr to produce a sentinel-page address at least once in 500 draws")
	}
	if !sawKernel {
		t.Error("expected ArgPtr to produce a kernel-range address at least once in 500 draws")
	}
}

func TestSockAddrLenVariesWhenNoProtoPinned(t *testing.T) {
	ctx := newTestContext(5)
	ctx.Proto = ""
	seen := map[uint64]bool{}
	for i := 0; i < 200; i++ {
		seen[Synthesise(syzcall.ArgSockAddrLen, 0, nil, ctx)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected multiple address-family sizes across 200 draws, got %d", len(seen))
	}
}

func TestSockAddrAndLenColludeOnOneFamily(t *testing.T) {
	ctx := newTestContext(6)
	ctx.Proto = ""
	d := &syzcall.Descriptor{
		Name: "connect",
		Args: []syzcall.Arg{
			{Name: "fd", Kind: syzcall.ArgSocketInfo},
			{Name: "uservaddr", Kind: syzcall.ArgSockAddr},
			{Name: "addrlen", Kind: syzcall.ArgSockAddrLen},
		},
	}
	valid := map[uint64]bool{
		uint64(unix.SizeofSockaddrInet4):     true,
		uint64(unix.SizeofSockaddrInet6):     true,
		uint64(unix.SizeofSockaddrUnix):      true,
		uint64(unix.SizeofSockaddrNetlink):   true,
		uint64(unix.SizeofSockaddrLinklayer): true,
	}
	for i := 0; i < 100; i++ {
		args := SynthesiseArgs(d, ctx)
		if !valid[args[2]] {
			t.Fatalf("addrlen %d is not the size of any drawable family", args[2])
		}
	}
}
