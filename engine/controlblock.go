// Package engine implements the shared control block, the child worker
// state machine, the supervisor, the watchdog, and the signal plane: the
// concurrency core tying prng, fdpool, syzcall, and synth together across
// a supervisor process, N worker processes, and one watchdog process.
package engine

import (
	"sync/atomic"
)

// MaxChildren bounds how many worker slots the control block reserves;
// the slot array must be fixed-size to live in shared memory.
const MaxChildren = 64

// EmptyPID marks a child slot with no live process.
const EmptyPID int32 = -1

// ExitReason is the control block's single source of truth for why the
// run is winding down. Transitions are monotone: RUNNING may move to any
// other value, but non-RUNNING values never move back to RUNNING, and a
// later writer may only overwrite with a value ranked strictly stronger
// (SIGINT < KernelTainted < Fatal).
type ExitReason int32

const (
	ExitRunning ExitReason = iota
	ExitSIGINT
	ExitKernelTainted
	ExitShutdownRequested
	ExitChildReachedCount
	ExitFatal
)

// String names the exit reason for log output.
func (r ExitReason) String() string {
	switch r {
	case ExitRunning:
		return "running"
	case ExitSIGINT:
		return "sigint"
	case ExitKernelTainted:
		return "kernel-tainted"
	case ExitShutdownRequested:
		return "shutdown-requested"
	case ExitChildReachedCount:
		return "child-reached-count"
	case ExitFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// rank orders exit reasons so SetExitReason can refuse a weaker
// write from clobbering a stronger one.
func (r ExitReason) rank() int {
	switch r {
	case ExitRunning:
		return 0
	case ExitSIGINT:
		return 1
	case ExitShutdownRequested:
		return 1
	case ExitChildReachedCount:
		return 1
	case ExitKernelTainted:
		return 2
	case ExitFatal:
		return 3
	default:
		return 0
	}
}

// ChildState is one worker's position in the IDLE→CHOSEN→PRE→DURING→POST
// cycle.
type ChildState int32

const (
	StateIDLE ChildState = iota
	StateCHOSEN
	StatePRE
	StateDURING
	StatePOST
)

// ChildSlot is one worker's record inside the shared control block. Only
// the owning worker writes most fields; the supervisor and watchdog only
// read them, except PID and State which the supervisor also writes when
// recycling a slot after reaping a dead child.
type ChildSlot struct {
	PID                     int32
	State                   int32
	LastSyscall             int64
	Args                    [6]uint64
	Retval                  int64
	Errno                   int32
	NumSyscallsDone         int64
	WallClockOfLastProgress int64
	LogDirty                int32
	FDLifetime              int64
	CurrentFD               int32
}

// ControlBlock is the single process-wide shared struct, mapped
// MAP_SHARED over a memfd so the supervisor, every worker, and the
// watchdog observe the same memory after separate exec calls (see
// shm.go). Every field here must be fixed-size: no pointers, slices, or
// strings may cross into shared memory.
type ControlBlock struct {
	Seed        int64
	ExecCount   int64
	Successes   int64
	Failures    int64
	ExitReason  int32
	ParentPID   int32
	MainPID     int32
	WatchdogPID int32
	InitPID     int32
	MaxChildren int32
	Regenerate  int32
	Children    [MaxChildren]ChildSlot
}

// Init resets the block to its startup state.
func (cb *ControlBlock) Init(seed int64, maxChildren int32, parentPID int32) {
	cb.Seed = seed
	cb.ExecCount = 1
	cb.Successes = 0
	cb.Failures = 0
	cb.ExitReason = int32(ExitRunning)
	cb.ParentPID = parentPID
	cb.MaxChildren = maxChildren
	cb.Regenerate = 0
	for i := range cb.Children {
		cb.Children[i].PID = EmptyPID
		cb.Children[i].State = int32(StateIDLE)
	}
}

// IncExecCount atomically bumps the total invocation count and returns
// the new value.
func (cb *ControlBlock) IncExecCount() int64 {
	return atomic.AddInt64(&cb.ExecCount, 1)
}

// RecordOutcome atomically bumps successes or failures.
func (cb *ControlBlock) RecordOutcome(success bool) {
	if success {
		atomic.AddInt64(&cb.Successes, 1)
	} else {
		atomic.AddInt64(&cb.Failures, 1)
	}
}

// GetExitReason atomically reads the current exit reason.
func (cb *ControlBlock) GetExitReason() ExitReason {
	return ExitReason(atomic.LoadInt32(&cb.ExitReason))
}

// SetExitReason applies the monotone single-writer-wins policy: a weaker
// or equal reason never overwrites a stronger one, and RUNNING can never
// be restored once left.
func (cb *ControlBlock) SetExitReason(reason ExitReason) {
	for {
		cur := ExitReason(atomic.LoadInt32(&cb.ExitReason))
		if reason.rank() <= cur.rank() {
			return
		}
		if atomic.CompareAndSwapInt32(&cb.ExitReason, int32(cur), int32(reason)) {
			return
		}
	}
}

// BumpRegenerate increments the epoch counter workers compare against
// their local copy to decide whether to refill page_rand.
func (cb *ControlBlock) BumpRegenerate() {
	atomic.AddInt32(&cb.Regenerate, 1)
}

// Regen returns the current regenerate epoch.
func (cb *ControlBlock) Regen() int32 {
	return atomic.LoadInt32(&cb.Regenerate)
}

// SetPID atomically records the owning process id for slot i, called by
// the supervisor right after a successful spawn and reset to EmptyPID
// once the slot is reaped.
func (cb *ControlBlock) SetPID(i int, pid int32) {
	atomic.StoreInt32(&cb.Children[i].PID, pid)
}

// GetPID atomically reads slot i's owning process id.
func (cb *ControlBlock) GetPID(i int) int32 {
	return atomic.LoadInt32(&cb.Children[i].PID)
}

// Slot returns a pointer to child slot i for direct field access by its
// owning worker. Callers outside the owning worker must only read.
func (cb *ControlBlock) Slot(i int) *ChildSlot {
	return &cb.Children[i]
}

// SetState atomically transitions slot i's recorded state.
func (cb *ControlBlock) SetState(i int, s ChildState) {
	atomic.StoreInt32(&cb.Children[i].State, int32(s))
}

// GetState atomically reads slot i's recorded state.
func (cb *ControlBlock) GetState(i int) ChildState {
	return ChildState(atomic.LoadInt32(&cb.Children[i].State))
}

// TouchProgress atomically stamps slot i's last-progress clock, the
// watchdog's only signal that a worker is alive and moving.
func (cb *ControlBlock) TouchProgress(i int, unixNano int64) {
	atomic.StoreInt64(&cb.Children[i].WallClockOfLastProgress, unixNano)
}

// LastProgress atomically reads slot i's last-progress clock.
func (cb *ControlBlock) LastProgress(i int) int64 {
	return atomic.LoadInt64(&cb.Children[i].WallClockOfLastProgress)
}

// MarkDirty implements trinitylog.DirtyFlag.
func (cb *ControlBlock) MarkDirty(child int) {
	if child < 0 || child >= len(cb.Children) {
		return
	}
	atomic.StoreInt32(&cb.Children[child].LogDirty, 1)
}

// ClearDirty implements trinitylog.DirtyFlag.
func (cb *ControlBlock) ClearDirty(child int) {
	if child < 0 || child >= len(cb.Children) {
		return
	}
	atomic.StoreInt32(&cb.Children[child].LogDirty, 0)
}

// IsDirty implements trinitylog.DirtyFlag.
func (cb *ControlBlock) IsDirty(child int) bool {
	if child < 0 || child >= len(cb.Children) {
		return false
	}
	return atomic.LoadInt32(&cb.Children[child].LogDirty) != 0
}

// ChildIndexForPID implements trinitylog.Locator.
func (cb *ControlBlock) ChildIndexForPID(pid int) (int, bool) {
	for i := range cb.Children {
		if atomic.LoadInt32(&cb.Children[i].PID) == int32(pid) {
			return i, true
		}
	}
	return 0, false
}

// MainPIDOf implements trinitylog.Locator under a distinct name since the
// struct already has a MainPID field; engine.Locator (locator.go) adapts it to
// the trinitylog.Locator method names the logger expects.
func (cb *ControlBlock) MainPIDOf() int { return int(atomic.LoadInt32(&cb.MainPID)) }

// WatchdogPIDOf implements the same adaptation for WatchdogPID.
func (cb *ControlBlock) WatchdogPIDOf() int { return int(atomic.LoadInt32(&cb.WatchdogPID)) }

// InitPIDOf implements the same adaptation for InitPID.
func (cb *ControlBlock) InitPIDOf() int { return int(atomic.LoadInt32(&cb.InitPID)) }

// SetWatchdogPID atomically records the watchdog process id.
func (cb *ControlBlock) SetWatchdogPID(pid int32) { atomic.StoreInt32(&cb.WatchdogPID, pid) }

// SetMainPID atomically records the supervisor's own process id.
func (cb *ControlBlock) SetMainPID(pid int32) { atomic.StoreInt32(&cb.MainPID, pid) }

// SetInitPID atomically records the init/parent process id.
func (cb *ControlBlock) SetInitPID(pid int32) { atomic.StoreInt32(&cb.InitPID, pid) }
