package engine

import (
	"testing"

	"golang.org/x/sys/unix"

	"sysfuzz/fdpool"
	"sysfuzz/prng"
	"sysfuzz/synth"
	"sysfuzz/syzcall"
)

type scriptedInvoker struct {
	ret   int64
	errno int32
}

func (s scriptedInvoker) Invoke(number int64, args [6]uint64) (int64, int32) {
	return s.ret, s.errno
}

type onePool struct{ fd int }

func (p *onePool) Name() string              { return "one" }
func (p *onePool) Open() error               { return nil }
func (p *onePool) Close()                    {}
func (p *onePool) Draw(src *prng.Source) int { return p.fd }

func newTestWorker(t *testing.T, table *syzcall.Table) (*Worker, *ControlBlock) {
	t.Helper()
	cb := &ControlBlock{}
	cb.Init(7, 4, 1)

	pool := fdpool.NewRegistry(4, &onePool{fd: 11})
	if err := pool.Open(); err != nil {
		t.Fatalf("pool.Open() error: %v", err)
	}

	w := NewWorker(0, cb, table, pool, "inet", 7, 0)
	return w, cb
}

func singleDescriptorTable(d syzcall.Descriptor) *syzcall.Table {
	tbl := syzcall.NewTable([]syzcall.Descriptor{d})
	tbl.MarkAllActive()
	return tbl
}

func TestRunOnceRecordsSuccess(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:   "close",
		Number: 3,
		Args:   []syzcall.Arg{{Name: "fd", Kind: syzcall.ArgFD}},
		Ret:    syzcall.RetZeroSuccess,
	})
	w, cb := newTestWorker(t, tbl)
	w.Invoker = scriptedInvoker{ret: 0, errno: 0}

	ok := w.RunOnce()
	if !ok {
		t.Fatal("expected success")
	}
	if cb.Successes != 1 || cb.Failures != 0 {
		t.Fatalf("Successes=%d Failures=%d, want 1/0", cb.Successes, cb.Failures)
	}
	if cb.GetState(0) != StateIDLE {
		t.Fatalf("final state = %v, want StateIDLE", cb.GetState(0))
	}
}

func TestRunOnceRecordsFailure(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:   "close",
		Number: 3,
		Args:   []syzcall.Arg{{Name: "fd", Kind: syzcall.ArgFD}},
		Ret:    syzcall.RetZeroSuccess,
	})
	w, cb := newTestWorker(t, tbl)
	w.Invoker = scriptedInvoker{ret: -1, errno: int32(unix.EBADF)}

	ok := w.RunOnce()
	if ok {
		t.Fatal("expected failure")
	}
	if cb.Failures != 1 {
		t.Fatalf("Failures = %d, want 1", cb.Failures)
	}
}

func TestRunOnceAlarmPathSkipsPostAndResetsFDLifetime(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:   "connect",
		Number: 42,
		Args: []syzcall.Arg{
			{Name: "fd", Kind: syzcall.ArgSocketInfo},
			{Name: "addr", Kind: syzcall.ArgSockAddr},
			{Name: "addrlen", Kind: syzcall.ArgSockAddrLen},
		},
		Ret:   syzcall.RetZeroSuccess,
		Flags: syzcall.NeedAlarm,
	})
	w, cb := newTestWorker(t, tbl)
	w.Invoker = scriptedInvoker{ret: -1, errno: int32(unix.EINTR)}

	ok := w.RunOnce()
	if ok {
		t.Fatal("alarm path must count as failure")
	}
	if cb.GetState(0) != StateIDLE {
		t.Fatalf("final state = %v, want StateIDLE", cb.GetState(0))
	}
	if cb.Slot(0).FDLifetime != 0 {
		t.Fatalf("FDLifetime = %d, want 0 after alarm path", cb.Slot(0).FDLifetime)
	}
}

func TestRunOnceSkipsAvoidCapabilityDescriptor(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:        "reboot",
		Number:      169,
		Args:        []syzcall.Arg{{Name: "cmd", Kind: syzcall.ArgFlags}},
		Ret:         syzcall.RetZeroSuccess,
		Flags:       syzcall.AvoidCapability,
		RequiredCap: 9999, // not a capability this test process holds
	})
	w, cb := newTestWorker(t, tbl)
	w.Invoker = scriptedInvoker{ret: 0, errno: 0}

	ok := w.RunOnce()
	if ok {
		t.Fatal("expected the draw to be skipped, not counted a success")
	}
	if cb.ExecCount != 1 {
		t.Fatalf("ExecCount = %d, want 1 (unchanged, skip does not count an exec)", cb.ExecCount)
	}
}

type capturingInvoker struct {
	ret   int64
	errno int32
	got   [6]uint64
}

func (c *capturingInvoker) Invoke(number int64, args [6]uint64) (int64, int32) {
	c.got = args
	return c.ret, c.errno
}

func TestRunOnceAppliesSanitiseBeforeInvoke(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:   "close",
		Number: 3,
		Args:   []syzcall.Arg{{Name: "fd", Kind: syzcall.ArgFD}},
		Ret:    syzcall.RetZeroSuccess,
		Sanitise: func(inv *syzcall.Invocation) {
			inv.Args[0] = 0x1234
		},
	})
	w, _ := newTestWorker(t, tbl)
	inv := &capturingInvoker{ret: 0}
	w.Invoker = inv

	w.RunOnce()
	if inv.got[0] != 0x1234 {
		t.Fatalf("invoker saw arg %#x, want the sanitised 0x1234", inv.got[0])
	}
}

func TestRunOncePostSeesResult(t *testing.T) {
	var postRet int64
	postCalls := 0
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:   "eventfd2",
		Number: 290,
		Args:   []syzcall.Arg{{Name: "count", Kind: syzcall.ArgValue}},
		Ret:    syzcall.RetFD,
		Post: func(inv *syzcall.Invocation) {
			postCalls++
			postRet = inv.Ret
		},
	})
	w, _ := newTestWorker(t, tbl)
	w.Invoker = scriptedInvoker{ret: 17, errno: 0}

	w.RunOnce()
	if postCalls != 1 {
		t.Fatalf("post hook ran %d times, want 1", postCalls)
	}
	if postRet != 17 {
		t.Fatalf("post hook saw ret %d, want 17", postRet)
	}
}

func TestAlarmPathSkipsPostHook(t *testing.T) {
	postCalls := 0
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:   "connect",
		Number: 42,
		Args: []syzcall.Arg{
			{Name: "fd", Kind: syzcall.ArgSocketInfo},
			{Name: "addr", Kind: syzcall.ArgSockAddr},
			{Name: "addrlen", Kind: syzcall.ArgSockAddrLen},
		},
		Ret:   syzcall.RetZeroSuccess,
		Flags: syzcall.NeedAlarm,
		Post: func(inv *syzcall.Invocation) {
			postCalls++
		},
	})
	w, _ := newTestWorker(t, tbl)
	w.Invoker = scriptedInvoker{ret: -1, errno: int32(unix.EINTR)}

	w.RunOnce()
	if postCalls != 0 {
		t.Fatalf("post hook ran %d times on the alarm path, want 0", postCalls)
	}
}

func TestRunStopsAtMaxIters(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:   "close",
		Number: 3,
		Args:   []syzcall.Arg{{Name: "fd", Kind: syzcall.ArgFD}},
		Ret:    syzcall.RetZeroSuccess,
	})
	w, cb := newTestWorker(t, tbl)
	w.Invoker = scriptedInvoker{ret: 0, errno: 0}
	w.MaxIters = 5

	w.Run()

	if got := cb.Slot(0).NumSyscallsDone; got != 5 {
		t.Fatalf("NumSyscallsDone = %d, want 5", got)
	}
	if cb.Successes != 5 {
		t.Fatalf("Successes = %d, want 5", cb.Successes)
	}
	if cb.GetState(0) != StateIDLE {
		t.Fatalf("final state = %v, want StateIDLE", cb.GetState(0))
	}
}

func TestRunStopsWhenExitReasonSet(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{
		Name:   "close",
		Number: 3,
		Args:   []syzcall.Arg{{Name: "fd", Kind: syzcall.ArgFD}},
		Ret:    syzcall.RetZeroSuccess,
	})
	w, cb := newTestWorker(t, tbl)
	w.Invoker = scriptedInvoker{ret: 0, errno: 0}
	cb.SetExitReason(ExitSIGINT)

	w.Run()

	if got := cb.Slot(0).NumSyscallsDone; got != 0 {
		t.Fatalf("NumSyscallsDone = %d, want 0 when run already stopping", got)
	}
}

func TestShouldStopOnMaxIters(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{Name: "close", Number: 3, Ret: syzcall.RetZeroSuccess})
	w, _ := newTestWorker(t, tbl)
	w.MaxIters = 3

	if w.ShouldStop(2) {
		t.Fatal("should not stop before reaching MaxIters")
	}
	if !w.ShouldStop(3) {
		t.Fatal("should stop once MaxIters is reached")
	}
}

func TestShouldStopOnExitReason(t *testing.T) {
	tbl := singleDescriptorTable(syzcall.Descriptor{Name: "close", Number: 3, Ret: syzcall.RetZeroSuccess})
	w, cb := newTestWorker(t, tbl)

	if w.ShouldStop(0) {
		t.Fatal("should not stop while RUNNING")
	}
	cb.SetExitReason(ExitSIGINT)
	if !w.ShouldStop(0) {
		t.Fatal("should stop once exit reason leaves RUNNING")
	}
}

var _ = synth.Context{}
