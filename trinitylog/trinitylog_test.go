package trinitylog

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type fakeDirty struct {
	mu    sync.Mutex
	dirty map[int]bool
}

func newFakeDirty() *fakeDirty { return &fakeDirty{dirty: map[int]bool{}} }

func (f *fakeDirty) MarkDirty(child int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty[child] = true
}

func (f *fakeDirty) ClearDirty(child int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty[child] = false
}

func (f *fakeDirty) IsDirty(child int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty[child]
}

type fakeLocator struct {
	main, watchdog, init int
	children             map[int]int
}

func (l *fakeLocator) MainPID() int     { return l.main }
func (l *fakeLocator) WatchdogPID() int { return l.watchdog }
func (l *fakeLocator) InitPID() int     { return l.init }
func (l *fakeLocator) ChildIndexForPID(pid int) (int, bool) {
	idx, ok := l.children[pid]
	return idx, ok
}

func TestOpenCreatesExpectedFiles(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 2, true, 3)
	if err := l.Open(); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer l.Close()

	for _, name := range []string{"trinity.log", "trinity-child0.log", "trinity-child1.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestOutputRoutesToChildFile(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 2, true, 0)
	if err := l.Open(); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer l.Close()

	loc := &fakeLocator{main: 1, watchdog: 2, init: 3, children: map[int]int{100: 0, 101: 1}}
	dirty := newFakeDirty()

	l.Output(1, 100, loc, dirty, nil, "hello from child\n")

	data, err := os.ReadFile(filepath.Join(dir, "trinity-child0.log"))
	if err != nil {
		t.Fatalf("read child log: %v", err)
	}
	if !strings.Contains(string(data), "hello from child") {
		t.Errorf("expected child0 log to contain message, got %q", data)
	}
	if !dirty.IsDirty(0) {
		t.Error("expected child 0 to be marked dirty after Output")
	}
}

func TestOutputRoutesMainRolesToMainLog(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 1, true, 0)
	if err := l.Open(); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer l.Close()

	loc := &fakeLocator{main: 1, watchdog: 2, init: 3, children: map[int]int{}}
	dirty := newFakeDirty()

	l.Output(0, 2, loc, dirty, nil, "watchdog says hi\n")

	data, err := os.ReadFile(filepath.Join(dir, "trinity.log"))
	if err != nil {
		t.Fatalf("read main log: %v", err)
	}
	if !strings.Contains(string(data), "watchdog says hi") {
		t.Errorf("expected main log to contain message, got %q", data)
	}
}

func TestRobustHandleFallsBackToMain(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 1, true, 0)
	if err := l.Open(); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer l.Close()

	// Drop the only child's handle to simulate a forced-swap scenario.
	l.childFiles[0] = nil

	loc := &fakeLocator{main: 1, watchdog: 2, init: 3, children: map[int]int{100: 0}}
	h := l.RobustHandleFor(100, loc)
	if h == nil {
		t.Fatal("expected robust handle to fall back to main log, got nil")
	}
	if h != l.mainFile {
		t.Error("expected fallback handle to be the main log file")
	}
}

func TestSyncClearsOnlyDirtyChildren(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 2, true, 0)
	if err := l.Open(); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer l.Close()

	dirty := newFakeDirty()
	dirty.MarkDirty(0)

	if err := l.Sync(dirty); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if dirty.IsDirty(0) {
		t.Error("expected dirty flag for child 0 to be cleared after Sync")
	}
	if dirty.IsDirty(1) {
		t.Error("child 1 was never dirty, should remain false")
	}
}

func TestHighestLogfileReturnsValidFD(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 3, true, 0)
	if err := l.Open(); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer l.Close()

	if got := l.HighestLogfile(); got < 0 {
		t.Errorf("expected a valid fd, got %d", got)
	}
}

func TestStripANSIColourAndReset(t *testing.T) {
	// "\x1b[1;31m" (colour, 6-byte skip) + "red" + "\x1b[0m" (reset, 3-byte skip)
	in := []byte("\x1b[1;31mred\x1b[0m done")
	out := StripANSI(in)
	if string(out) != "red done" {
		t.Errorf("StripANSI() = %q, want %q", out, "red done")
	}
}

func TestStripANSINoEscapes(t *testing.T) {
	in := []byte("plain text, nothing to strip")
	out := StripANSI(in)
	if string(out) != string(in) {
		t.Errorf("StripANSI() = %q, want unchanged %q", out, in)
	}
}
