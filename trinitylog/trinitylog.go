// Package trinitylog manages the run's on-disk logs: trinity.log plus
// one trinity-child<N>.log per worker slot, ANSI stripping for the file
// copies, and the per-child dirty flag that drives periodic flushing.
// The engine's only obligation to this package is to keep the DirtyFlag
// accurate and tolerate a forced handle swap; everything else here is
// logger-private.
package trinitylog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DirtyFlag is the minimal contract the core exposes so the logger can mark
// a child's log as needing a flush, and so a periodic Sync pass can find and
// clear the flags it set. Implemented by engine.ControlBlock.
type DirtyFlag interface {
	MarkDirty(child int)
	ClearDirty(child int)
	IsDirty(child int) bool
}

// Locator resolves a pid to its logical role: main, watchdog, init, or
// a specific child index. Implemented by the engine's control block.
type Locator interface {
	ChildIndexForPID(pid int) (int, bool)
	MainPID() int
	WatchdogPID() int
	InitPID() int
}

// Logger owns the set of open log files for one sysfuzz process group.
type Logger struct {
	mu         sync.Mutex
	dir        string
	mainFile   *os.File
	childFiles []*os.File
	opened     bool
	monochrome bool
	quietLevel uint8
}

// New creates a Logger that will open maxChildren+1 files under dir.
func New(dir string, maxChildren int, monochrome bool, quietLevel uint8) *Logger {
	return &Logger{
		dir:        dir,
		childFiles: make([]*os.File, maxChildren),
		monochrome: monochrome,
		quietLevel: quietLevel,
	}
}

// Open creates (truncating any stale copy) trinity.log and one
// trinity-child<N>.log per child slot.
func (l *Logger) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	mainPath := filepath.Join(l.dir, "trinity.log")
	os.Remove(mainPath)
	f, err := os.OpenFile(mainPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", mainPath, err)
	}
	l.mainFile = f

	for i := range l.childFiles {
		p := filepath.Join(l.dir, fmt.Sprintf("trinity-child%d.log", i))
		os.Remove(p)
		cf, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		l.childFiles[i] = cf
	}

	l.opened = true
	return nil
}

// Close closes every open log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, cf := range l.childFiles {
		if cf != nil {
			cf.Close()
		}
	}
	if l.mainFile != nil {
		l.mainFile.Close()
	}
	l.opened = false
}

// handleFor resolves a pid to its log handle: main/watchdog/init share
// the main log; any other pid resolves through the Locator to a child
// index.
// If the pid cannot be resolved (a race right after a spawn), the caller
// decides what to do; this function itself never sleeps.
func (l *Logger) handleFor(pid int, loc Locator) (*os.File, int, bool) {
	if pid == loc.InitPID() || pid == loc.MainPID() || pid == loc.WatchdogPID() {
		return l.mainFile, -1, true
	}
	if idx, ok := loc.ChildIndexForPID(pid); ok && idx >= 0 && idx < len(l.childFiles) {
		return l.childFiles[idx], idx, true
	}
	return nil, -1, false
}

// RobustHandleFor adds the fallback path: if a child's handle cannot be
// found, every child slot whose handle is nil is redirected to the main
// log so output is not silently dropped.
func (l *Logger) RobustHandleFor(pid int, loc Locator) *os.File {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.opened {
		return nil
	}
	if h, _, ok := l.handleFor(pid, loc); ok && h != nil {
		return h
	}

	for i, cf := range l.childFiles {
		if cf == nil {
			l.childFiles[i] = l.mainFile
		}
	}
	h, _, _ := l.handleFor(pid, loc)
	return h
}

// Output writes a prefixed, level-gated log line. Level 0 is the most
// important (run milestones), higher levels add detail; quietLevel gates
// what also goes to stdout. It always appends to the resolved logfile
// and marks the child's
// DirtyFlag (if this pid belongs to a child) so a later Sync flushes it.
func (l *Logger) Output(level uint8, pid int, loc Locator, dirty DirtyFlag, stdout *os.File, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	prefix := prefixFor(pid, loc)

	if l.quietLevel > level && stdout != nil {
		fmt.Fprintf(stdout, "%s %s", prefix, msg)
	}

	handle := l.RobustHandleFor(pid, loc)
	if handle == nil {
		return
	}

	out := msg
	if !l.monochrome {
		out = string(StripANSI([]byte(msg)))
	}
	fmt.Fprintf(handle, "%s %s", prefix, out)
	handle.Sync()

	if idx, ok := loc.ChildIndexForPID(pid); ok {
		dirty.MarkDirty(idx)
	}
}

func prefixFor(pid int, loc Locator) string {
	switch pid {
	case loc.WatchdogPID():
		return "[watchdog]"
	case loc.InitPID():
		return "[init]"
	case loc.MainPID():
		return "[main]"
	}
	if idx, ok := loc.ChildIndexForPID(pid); ok {
		return fmt.Sprintf("[child%d:%d]", idx, pid)
	}
	return fmt.Sprintf("[pid%d]", pid)
}

// Sync flushes and fsyncs every child log flagged dirty, then the main
// log unconditionally.
func (l *Logger) Sync(dirty DirtyFlag) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, cf := range l.childFiles {
		if cf == nil || !dirty.IsDirty(i) {
			continue
		}
		dirty.ClearDirty(i)
		if err := cf.Sync(); err != nil {
			return fmt.Errorf("sync child%d log: %w", i, err)
		}
	}
	if l.mainFile != nil {
		return l.mainFile.Sync()
	}
	return nil
}

// HighestLogfile returns the fd number of the last child's log handle,
// usable as an upper bound by an external select/poll caller watching
// the log files. Nothing in the engine calls it.
func (l *Logger) HighestLogfile() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.childFiles) == 0 {
		return -1
	}
	last := l.childFiles[len(l.childFiles)-1]
	if last == nil {
		return -1
	}
	return int(last.Fd())
}

// StripANSI removes ANSI colour/reset escape sequences from buf: a
// 6-byte skip for a colour escape ("\x1b[1;3Nm"), 3 for a reset
// ("\x1b[0m"). The fixed widths assume the only escapes present are the
// ones this logger itself emits.
func StripANSI(buf []byte) []byte {
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0x1b && i+2 < len(buf) {
			if buf[i+2] == '1' {
				i += 6 // ANSI colour: "\x1b[1;3Nm" (7 bytes, loop's i++ covers the last one)
			} else {
				i += 3 // ANSI reset: "\x1b[0m" (4 bytes, loop's i++ covers the last one)
			}
			continue
		}
		out = append(out, buf[i])
	}
	return out
}
