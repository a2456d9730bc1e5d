package engine

import (
	"time"

	"golang.org/x/sys/unix"

	"sysfuzz/fdpool"
	"sysfuzz/prng"
	"sysfuzz/synth"
	"sysfuzz/syzcall"
)

// Invoker performs the actual kernel call for a chosen descriptor. The
// default RawInvoker issues a real Syscall6; tests substitute a fake to
// exercise the state machine without touching the kernel.
type Invoker interface {
	Invoke(number int64, args [6]uint64) (ret int64, errno int32)
}

// RawInvoker calls straight into the kernel via unix.Syscall6, by
// number, with no libc wrapper in the way.
type RawInvoker struct{}

func (RawInvoker) Invoke(number int64, args [6]uint64) (ret int64, errno int32) {
	r1, _, e := unix.Syscall6(uintptr(number), uintptr(args[0]), uintptr(args[1]),
		uintptr(args[2]), uintptr(args[3]), uintptr(args[4]), uintptr(args[5]))
	return int64(r1), int32(e)
}

// AlarmSeconds is the per-syscall watchdog: a NeedAlarm descriptor gets
// this long before SIGALRM unwinds the worker back to IDLE.
const AlarmSeconds = 3

// Worker drives one child slot through IDLE→CHOSEN→PRE→DURING→POST. It
// holds no OS thread state of its own beyond what Invoke needs; the
// kernel call goes through the Invoker so this file can be unit tested
// without issuing real syscalls.
type Worker struct {
	Index    int
	CB       *ControlBlock
	Table    *syzcall.Table
	Ctx      *synth.Context
	Src      *prng.Source
	Invoker  Invoker
	MaxIters int64 // 0 means unbounded
}

// NewWorker builds a Worker for child slot idx, wiring a fresh per-child
// PRNG source derived from the run seed so repeated runs with the same
// seed/children/mask reproduce the same sequence.
func NewWorker(idx int, cb *ControlBlock, table *syzcall.Table, pool *fdpool.Registry, proto string, seed int64, maxIters int64) *Worker {
	src := prng.New(seed + int64(idx))
	return &Worker{
		Index: idx,
		CB:    cb,
		Table: table,
		Ctx: &synth.Context{
			Src:    src,
			Pages:  prng.NewSentinelPages(src),
			FDPool: pool,
			Proto:  proto,
		},
		Src:      src,
		Invoker:  RawInvoker{},
		MaxIters: maxIters,
	}
}

// Run is the child process's whole life: iterate RunOnce until the run
// leaves RUNNING or this worker's personal cap is reached, refilling the
// random sentinel page whenever the shared regenerate epoch has moved
// past the local copy.
func (w *Worker) Run() {
	epoch := w.CB.Regen()
	var done int64
	for !w.ShouldStop(done) {
		if e := w.CB.Regen(); e != epoch {
			epoch = e
			w.Ctx.Pages.RegenerateRandomPage(w.Src)
		}
		w.RunOnce()
		done++
	}
}

// ShouldStop reports whether the worker should exit its loop instead of
// starting another iteration: the run has left RUNNING, or this worker
// has hit its personal iteration cap (the supervisor recycles it).
func (w *Worker) ShouldStop(doneSoFar int64) bool {
	if w.CB.GetExitReason() != ExitRunning {
		return true
	}
	if w.MaxIters > 0 && doneSoFar >= w.MaxIters {
		return true
	}
	return false
}

// RunOnce executes exactly one IDLE→...→IDLE cycle, updates the shared
// counters itself, and returns whether the invocation counted as a
// success (per the descriptor's ReturnSemantics).
func (w *Worker) RunOnce() bool {
	slot := w.CB.Slot(w.Index)

	w.CB.SetState(w.Index, StateIDLE)
	w.touch()

	d := w.Table.PickActive(func(n int64) int64 { return w.Src.Uniform(0, n) })
	if d == nil {
		return false
	}
	if d.Flags&syzcall.AvoidCapability != 0 && ShouldAvoidForCapability(d.RequiredCap) {
		return false
	}
	w.CB.SetState(w.Index, StateCHOSEN)
	w.touch()

	w.CB.SetState(w.Index, StatePRE)
	w.touch()
	args := synth.SynthesiseArgs(d, w.Ctx)
	inv := &syzcall.Invocation{}
	copy(inv.Args[:], args)
	if d.Sanitise != nil {
		d.Sanitise(inv)
	}
	slot.LastSyscall = d.Number
	slot.Args = inv.Args
	fd, life := w.Ctx.FDPool.Current()
	slot.CurrentFD = int32(fd)
	slot.FDLifetime = life

	w.CB.SetState(w.Index, StateDURING)
	w.touch()

	if d.Flags&syzcall.NeedAlarm != 0 {
		inv.Ret, inv.Errno = w.invokeWithAlarm(d, inv.Args)
	} else {
		inv.Ret, inv.Errno = w.Invoker.Invoke(d.Number, inv.Args)
	}

	slot.Retval = inv.Ret
	slot.Errno = inv.Errno

	if d.Flags&syzcall.NeedAlarm != 0 && inv.Errno == int32(unix.EINTR) {
		return w.handleAlarmPath(slot)
	}

	w.CB.SetState(w.Index, StatePOST)
	w.touch()
	if d.Post != nil {
		d.Post(inv)
	}

	success := classifySuccess(d.Ret, inv.Ret)
	slot.NumSyscallsDone++
	w.CB.IncExecCount()
	w.CB.RecordOutcome(success)

	w.CB.SetState(w.Index, StateIDLE)
	w.touch()
	return success
}

// handleAlarmPath implements the SIGALRM unwind: a stalled NeedAlarm
// syscall counts as a failure and sends the worker straight back to
// IDLE, skipping POST entirely, after resetting the fd lifetime to 0 so
// the current fd is never reused on the next iteration.
func (w *Worker) handleAlarmPath(slot *ChildSlot) bool {
	slot.FDLifetime = 0
	w.Ctx.FDPool.ResetLifetime()
	slot.NumSyscallsDone++
	w.CB.IncExecCount()
	w.CB.RecordOutcome(false)
	w.CB.SetState(w.Index, StateIDLE)
	w.touch()
	return false
}

// invokeWithAlarm arms a real-time timer for AlarmSeconds before issuing
// the blocking syscall and disarms it immediately after. The syscall
// itself still runs to completion or is interrupted by the delivered
// signal depending on what the kernel does with it; unwinding the
// worker state back to IDLE when the call returns EINTR is done by
// RunOnce through handleAlarmPath, not by this function.
func (w *Worker) invokeWithAlarm(d *syzcall.Descriptor, args [6]uint64) (int64, int32) {
	unix.Alarm(AlarmSeconds)
	defer unix.Alarm(0)
	return w.Invoker.Invoke(d.Number, args)
}

// touch stamps the slot's last-progress clock, the only fact the
// watchdog needs to detect a stall.
func (w *Worker) touch() {
	w.CB.TouchProgress(w.Index, time.Now().UnixNano())
}

// classifySuccess decides whether a raw (ret, semantics) pair counts as
// a success: for RetZeroSuccess only 0 is a success; for every other
// semantics negative errno-style returns are failures and everything
// else is a success.
func classifySuccess(sem syzcall.ReturnSemantics, ret int64) bool {
	switch sem {
	case syzcall.RetFD:
		return ret >= 0
	case syzcall.RetZeroSuccess:
		return ret == 0
	default:
		return ret >= 0
	}
}
