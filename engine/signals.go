package engine

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// MaskSignals blocks, on the calling thread of every sysfuzz process
// (supervisor, worker, watchdog), the non-realtime signals IgnoredSignals
// lists: SIGFPE, SIGXCPU, SIGTSTP and SIGWINCH.
// SIGKILL/SIGSTOP are never touched; the kernel refuses to let anyone
// mask them.
func MaskSignals() error {
	set := &unix.Sigset_t{}
	for _, sig := range []syscall.Signal{
		syscall.SIGFPE, syscall.SIGXCPU, syscall.SIGTSTP, syscall.SIGWINCH,
	} {
		sigsetAdd(set, int(sig))
	}
	// PthreadSigmask, not Sigprocmask: the Go runtime is always
	// multi-threaded, and POSIX leaves sigprocmask's behaviour on a
	// multi-threaded process undefined.
	return unix.PthreadSigmask(unix.SIG_BLOCK, set, nil)
}

// IgnoredSignals is the set of signals a worker disposes of by ignoring
// outright: they carry no information this fuzzer acts on.
var IgnoredSignals = []os.Signal{
	syscall.SIGFPE, syscall.SIGXCPU, syscall.SIGTSTP, syscall.SIGWINCH,
}

// rtSignalMin/rtSignalMax bound the realtime signal range. Neither the
// stdlib nor x/sys exports a SIGRTMIN symbol for Linux; 34 skips the
// kernel's first two realtime signals (32 and 33), which glibc reserves.
const (
	rtSignalMin = 34
	rtSignalMax = 64
)

// InstallIgnored arranges for every signal in IgnoredSignals, plus every
// real-time signal, to be silently dropped.
func InstallIgnored() {
	signal.Ignore(IgnoredSignals...)
	for rt := rtSignalMin; rt <= rtSignalMax; rt++ {
		signal.Ignore(syscall.Signal(rt))
	}
}

// SignalPlane owns the channels a supervisor or worker process watches
// for the handful of signals that change control-block state rather
// than being merely ignored.
type SignalPlane struct {
	SIGINT  chan os.Signal
	SIGCHLD chan os.Signal
	Other   chan os.Signal
}

// unexpectedSignals are the ones a worker was never meant to receive;
// any of them is grounds for an orderly, disposable exit rather than
// special handling (the supervisor will respawn it).
var unexpectedSignals = []os.Signal{
	syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT,
	syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGPIPE,
}

// NewSignalPlane wires up the signal channels: SIGINT publishes
// ExitSIGINT, SIGCHLD wakes the supervisor's reap loop, and any other
// unexpected signal triggers an orderly exit for a worker (it is
// disposable; the supervisor will respawn it).
func NewSignalPlane() *SignalPlane {
	p := &SignalPlane{
		SIGINT:  make(chan os.Signal, 1),
		SIGCHLD: make(chan os.Signal, 1),
		Other:   make(chan os.Signal, 1),
	}
	signal.Notify(p.SIGINT, syscall.SIGINT)
	signal.Notify(p.SIGCHLD, syscall.SIGCHLD)
	signal.Notify(p.Other, unexpectedSignals...)
	return p
}

// ApplySIGINT is the handler body for a delivered SIGINT: it publishes
// ExitSIGINT to the control block. Concurrent writers from multiple
// processes are safe because SetExitReason's CAS loop is idempotent
// under the monotone rank ordering.
func ApplySIGINT(cb *ControlBlock) {
	cb.SetExitReason(ExitSIGINT)
}

// sigsetAdd exists only because golang.org/x/sys/unix does not expose a
// signal-name-to-bit helper for Sigset_t; the bit layout matches
// glibc's, one bit per signal number starting at 1.
func sigsetAdd(set *unix.Sigset_t, sig int) {
	word := (sig - 1) / 64
	bit := uint((sig - 1) % 64)
	set.Val[word] |= 1 << bit
}
