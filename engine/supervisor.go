package engine

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	cerrors "sysfuzz/errors"
	"sysfuzz/utils"
)

// TaintPath is the proc file the supervisor polls for kernel taint.
const TaintPath = "/proc/sys/kernel/tainted"

// EnvChildIndex names the environment variable a re-exec'd child process
// reads to learn which control-block slot it owns; the watchdog owns no
// slot and is not given it. The shared memfd itself
// always arrives as fd 3 via exec.Cmd.ExtraFiles, never through an
// environment variable, since file descriptors aren't representable as
// env values.
const EnvChildIndex = "SYSFUZZ_CHILD_INDEX"

// reapInterval and taintPollInterval set the supervision polling
// cadence; regenInterval controls how often the shared random-page
// epoch is bumped.
const (
	reapInterval      = 250 * time.Millisecond
	taintPollInterval = 1 * time.Second
	regenInterval     = 5 * time.Second
	drainTimeout      = 5 * time.Second
)

// Supervisor owns the set of live worker processes, the taint poll, and
// orderly shutdown. It never touches syscall descriptors or argument
// synthesis directly; that is entirely the worker's concern once it is
// running inside its own re-exec'd process.
type Supervisor struct {
	CB          *ControlBlock
	Shared      *SharedBlock
	SelfExe     string
	MaxChildren int
	Seed        int64

	// ChildEnv carries the run's serialized configuration into every
	// re-exec'd child and watchdog process, on top of os.Environ.
	ChildEnv []string

	mu       sync.Mutex
	procs    map[int]*os.Process // slot index -> process
	stopping bool
}

// NewSupervisor builds a Supervisor bound to an already-initialised
// shared block.
func NewSupervisor(shared *SharedBlock, selfExe string, maxChildren int, seed int64) *Supervisor {
	return &Supervisor{
		CB:          shared.CB,
		Shared:      shared,
		SelfExe:     selfExe,
		MaxChildren: maxChildren,
		Seed:        seed,
		procs:       make(map[int]*os.Process),
	}
}

// SpawnChild re-execs SelfExe as a "child" subcommand, passing the
// shared memfd across the exec boundary via ExtraFiles (landing at fd 3
// in the child) instead of relying on raw fd inheritance, since Go
// cannot safely fork() its own multi-threaded runtime.
func (s *Supervisor) SpawnChild(idx int) error {
	start, err := utils.NewStartPipe()
	if err != nil {
		return cerrors.WrapWithChild(err, cerrors.ErrInit, "start_pipe", idx)
	}

	cmd := exec.Command(s.SelfExe, "child")
	cmd.Env = append(os.Environ(), append([]string{EnvChildIndex + "=" + strconv.Itoa(idx)}, s.ChildEnv...)...)
	cmd.ExtraFiles = []*os.File{s.Shared.File, start.WorkerFile()}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		start.Close()
		return cerrors.WrapWithChild(err, cerrors.ErrInit, "spawn_child", idx)
	}
	start.CloseWorkerEnd()

	s.mu.Lock()
	s.procs[idx] = cmd.Process
	s.mu.Unlock()

	s.CB.SetPID(idx, int32(cmd.Process.Pid))
	s.CB.SetState(idx, StateIDLE)
	s.CB.TouchProgress(idx, time.Now().UnixNano())

	// Release the child only after its slot is fully recorded, so the
	// watchdog never observes a fuzzing pid it can't resolve.
	start.Start()
	start.CloseSupervisorEnd()

	go func() {
		cmd.Wait()
		s.CB.SetPID(idx, EmptyPID)
		s.mu.Lock()
		delete(s.procs, idx)
		s.mu.Unlock()
	}()
	return nil
}

// SpawnWatchdog re-execs SelfExe as the "watchdog" subcommand.
func (s *Supervisor) SpawnWatchdog() (*os.Process, error) {
	cmd := exec.Command(s.SelfExe, "watchdog")
	cmd.Env = append(os.Environ(), s.ChildEnv...)
	cmd.ExtraFiles = []*os.File{s.Shared.File}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrInit, "spawn_watchdog")
	}
	s.CB.SetWatchdogPID(int32(cmd.Process.Pid))
	go cmd.Wait()
	return cmd.Process, nil
}

// liveCount returns how many child slots currently have a running
// process attached.
func (s *Supervisor) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// maintainChildren (re)spawns any slot whose process has exited, keeping
// the live set at MaxChildren until shutdown starts.
func (s *Supervisor) maintainChildren() {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return
	}
	for i := 0; i < s.MaxChildren; i++ {
		s.mu.Lock()
		_, alive := s.procs[i]
		s.mu.Unlock()
		if !alive {
			// A fatal spawn failure (out of pids, exe gone) will hit every
			// slot the same way; escalate instead of retrying forever.
			if err := s.SpawnChild(i); err != nil && cerrors.IsFatal(err) {
				s.CB.SetExitReason(ExitFatal)
				return
			}
		}
	}
}

// pollTaint reads /proc/sys/kernel/tainted and escalates the exit
// reason the moment it observes a nonzero value.
func (s *Supervisor) pollTaint() {
	data, err := os.ReadFile(TaintPath)
	if err != nil {
		return
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return
	}
	if v != 0 {
		s.CB.SetExitReason(ExitKernelTainted)
	}
}

// Run drives the supervisor's main loop until the control block leaves
// RUNNING, then drains every child.
func (s *Supervisor) Run(ctx context.Context, plane *SignalPlane) error {
	reapT := time.NewTicker(reapInterval)
	taintT := time.NewTicker(taintPollInterval)
	regenT := time.NewTicker(regenInterval)
	defer reapT.Stop()
	defer taintT.Stop()
	defer regenT.Stop()

	for i := 0; i < s.MaxChildren; i++ {
		if err := s.SpawnChild(i); err != nil {
			return err
		}
	}

	for {
		if s.CB.GetExitReason() != ExitRunning {
			break
		}
		select {
		case <-ctx.Done():
			s.CB.SetExitReason(ExitShutdownRequested)
		case <-plane.SIGINT:
			ApplySIGINT(s.CB)
		case <-reapT.C:
			s.maintainChildren()
		case <-taintT.C:
			s.pollTaint()
		case <-regenT.C:
			s.CB.BumpRegenerate()
		case <-plane.SIGCHLD:
			// reaping itself happens in the per-child goroutine spawned
			// by SpawnChild; this wakes the select loop promptly instead
			// of waiting out the next reapInterval tick.
		}
	}

	return s.drain()
}

// drain stops spawning replacements and waits up to drainTimeout for
// every live child to exit on its own before escalating to SIGKILL.
func (s *Supervisor) drain() error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		if s.liveCount() == 0 {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.procs {
		p.Signal(syscall.SIGKILL)
	}
	return nil
}
