package engine

import (
	"syscall"
	"time"
)

// StallThreshold is how long a child may sit in DURING without
// progress before the watchdog sends SIGALRM.
const StallThreshold = 30 * time.Second

// killGrace is how much longer past StallThreshold a child gets after
// the SIGALRM before the watchdog escalates to SIGKILL.
const killGrace = 2 * time.Second

// tickInterval is the watchdog's polling cadence.
const tickInterval = 1 * time.Second

// Watchdog is the independent process that detects stalled children and
// enforces the run's overall resource caps. It never touches fd pools or
// the syscall table; its whole view of the world is the shared control
// block.
type Watchdog struct {
	CB         *ControlBlock
	MaxRuntime time.Duration // 0 means unbounded
	MaxExecs   int64         // 0 means unbounded
	start      time.Time
	alarmed    map[int]time.Time
}

// NewWatchdog builds a Watchdog bound to cb, with its runtime clock
// starting now.
func NewWatchdog(cb *ControlBlock, maxRuntime time.Duration, maxExecs int64) *Watchdog {
	return &Watchdog{
		CB:         cb,
		MaxRuntime: maxRuntime,
		MaxExecs:   maxExecs,
		start:      time.Now(),
		alarmed:    make(map[int]time.Time),
	}
}

// Run blocks until the control block leaves RUNNING, ticking once per
// second to check for stalled children and resource-cap breaches.
func (w *Watchdog) Run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for range ticker.C {
		if w.CB.GetExitReason() != ExitRunning {
			return
		}
		w.checkCaps()
		w.checkStalls()
	}
}

// checkCaps escalates the exit reason once either configured resource
// ceiling (total runtime or total exec count) is crossed.
func (w *Watchdog) checkCaps() {
	if w.MaxRuntime > 0 && time.Since(w.start) >= w.MaxRuntime {
		w.CB.SetExitReason(ExitChildReachedCount)
		return
	}
	if w.MaxExecs > 0 && w.CB.ExecCount >= w.MaxExecs {
		w.CB.SetExitReason(ExitChildReachedCount)
	}
}

// checkStalls walks every child slot currently in DURING and compares
// its last-progress clock to now: a first breach of StallThreshold gets
// a SIGALRM, and the same child still stuck killGrace later gets
// SIGKILL.
func (w *Watchdog) checkStalls() {
	now := time.Now()
	for i := 0; i < int(w.CB.MaxChildren) && i < MaxChildren; i++ {
		if w.CB.GetState(i) != StateDURING {
			delete(w.alarmed, i)
			continue
		}
		last := time.Unix(0, w.CB.LastProgress(i))
		stalledFor := now.Sub(last)
		if stalledFor < StallThreshold {
			continue
		}

		pid := int(w.CB.GetPID(i))
		if pid <= 0 {
			continue
		}

		if alarmedAt, ok := w.alarmed[i]; ok {
			if now.Sub(alarmedAt) >= killGrace {
				syscall.Kill(pid, syscall.SIGKILL)
				delete(w.alarmed, i)
			}
			continue
		}

		syscall.Kill(pid, syscall.SIGALRM)
		w.alarmed[i] = now
	}
}
