// Package syzcall is the syscall descriptor table: the data-driven
// description of each candidate syscall's name, argument shapes, return
// semantics, and activation flags, plus the activation/validation/dump
// operations the supervisor runs over it before starting any children.
package syzcall

import (
	"fmt"
	"sort"
	"strings"

	"github.com/moby/sys/capability"

	cerrors "sysfuzz/errors"
)

// ArgKind tags what an argument slot means to the synthesiser.
type ArgKind int

const (
	ArgUndefined ArgKind = iota
	ArgFD
	ArgSocketInfo
	ArgSockAddr
	ArgSockAddrLen
	ArgLen
	ArgPtr
	ArgAddress
	ArgMode
	ArgFlags
	ArgValue
	ArgList
)

// ReturnSemantics classifies the syscall's return convention: most
// syscalls return 0 on success, some an fd, some a real integer result
// that is semantically meaningful.
type ReturnSemantics int

const (
	RetZeroSuccess ReturnSemantics = iota
	RetFD
	RetValue
)

// Flags is a bitmask of per-syscall behaviour hints.
type Flags uint32

const (
	// NeedAlarm marks a syscall that can block, so the worker arms the
	// watchdog alarm before calling it.
	NeedAlarm Flags = 1 << iota
	// Avoid32 excludes the syscall from the 32-bit arch view.
	Avoid32
	// Avoid64 excludes the syscall from the 64-bit arch view.
	Avoid64
	// Dangerous marks a syscall only enabled under --dangerous.
	Dangerous
	// AvoidCapability marks a syscall whose RequiredCap the worker should
	// check before spending an iteration on a guaranteed EPERM.
	AvoidCapability
)

// Arg describes one syscall parameter slot.
type Arg struct {
	Name string
	Kind ArgKind
}

// Invocation is one in-flight call: the synthesised argument vector on
// the way in, the raw result on the way out. The descriptor's hooks
// receive it so Sanitise can rewrite arguments and Post can release
// whatever the call created.
type Invocation struct {
	Args  [6]uint64
	Ret   int64
	Errno int32
}

// Descriptor is one syscall's complete entry. Common cross-argument
// adjustment (the connect-style socket-fd/sockaddr/sockaddr-len triple)
// is dispatched generically by synth on the Arg.Kind tags, so most
// descriptors need no callbacks; Sanitise and Post exist for the
// call-specific fixups the tags cannot express.
type Descriptor struct {
	Name   string
	Number int64
	Group  string
	Args   []Arg
	Ret    ReturnSemantics
	Flags  Flags
	// RequiredCap is consulted only when Flags&AvoidCapability is set.
	RequiredCap capability.Cap
	// Sanitise, when set, runs after argument synthesis and before the
	// call, to repair cross-argument invariants the tag dispatch cannot.
	Sanitise func(*Invocation)
	// Post, when set, runs after the call returns, to release anything
	// the invocation created. Skipped on the alarm unwind path.
	Post   func(*Invocation)
	active bool
}

// Table is the full set of descriptors plus the active-set bookkeeping
// the supervisor needs before it starts any children.
type Table struct {
	byName  map[string]*Descriptor
	ordered []*Descriptor
}

// NewTable builds a Table from a fixed descriptor slice (see
// numbers_linux_amd64.go for the concrete set this module ships).
func NewTable(descs []Descriptor) *Table {
	t := &Table{byName: make(map[string]*Descriptor, len(descs))}
	for i := range descs {
		d := descs[i]
		t.byName[d.Name] = &d
		t.ordered = append(t.ordered, &d)
	}
	return t
}

// MarkAllActive activates every descriptor, the default when neither
// --syscalls nor --group is given.
func (t *Table) MarkAllActive() {
	for _, d := range t.ordered {
		d.active = true
	}
}

// ActivateNames activates exactly the named syscalls (a --syscalls list).
func (t *Table) ActivateNames(names []string) error {
	for _, n := range names {
		d, ok := t.byName[n]
		if !ok {
			return cerrors.New(cerrors.ErrInvalidConfig, "activate_names", "unknown syscall "+n)
		}
		d.active = true
	}
	return nil
}

// ActivateGroup activates every descriptor tagged with the given group
// name (a --group selection).
func (t *Table) ActivateGroup(group string) {
	for _, d := range t.ordered {
		if strings.EqualFold(d.Group, group) {
			d.active = true
		}
	}
}

// Exclude deactivates the named syscalls, applied after activation so
// --exclude always wins regardless of which flag turned a name on.
func (t *Table) Exclude(names []string) {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	for _, d := range t.ordered {
		if set[strings.ToLower(d.Name)] {
			d.active = false
		}
	}
}

// ExcludeDangerous deactivates descriptors flagged Dangerous, applied
// whenever --dangerous was not given.
func (t *Table) ExcludeDangerous() {
	for _, d := range t.ordered {
		if d.Flags&Dangerous != 0 {
			d.active = false
		}
	}
}

// ExcludeArch deactivates descriptors that are compatible with neither
// requested arch view: a descriptor stays active as long as at least one
// of the enabled views (--32/--64) doesn't avoid it.
func (t *Table) ExcludeArch(arch32, arch64 bool) {
	for _, d := range t.ordered {
		compatible := (arch32 && d.Flags&Avoid32 == 0) || (arch64 && d.Flags&Avoid64 == 0)
		if !compatible {
			d.active = false
		}
	}
}

// Validate checks the table is internally consistent: every descriptor
// needs a unique name and a non-negative syscall number.
func (t *Table) Validate() error {
	seen := map[string]bool{}
	for _, d := range t.ordered {
		if d.Name == "" {
			return cerrors.New(cerrors.ErrInit, "validate_table", "descriptor with empty name")
		}
		if seen[d.Name] {
			return cerrors.New(cerrors.ErrInit, "validate_table", "duplicate syscall name "+d.Name)
		}
		seen[d.Name] = true
		if d.Number < 0 {
			return cerrors.New(cerrors.ErrInit, "validate_table", "negative syscall number for "+d.Name)
		}
	}
	return nil
}

// ActiveCount returns how many descriptors are currently active.
func (t *Table) ActiveCount() int {
	n := 0
	for _, d := range t.ordered {
		if d.active {
			n++
		}
	}
	return n
}

// RequireActive returns ErrNoSyscallsActive if nothing is active, the
// check the supervisor runs right before spawning any children.
func (t *Table) RequireActive() error {
	if t.ActiveCount() == 0 {
		return cerrors.ErrNoSyscallsActive
	}
	return nil
}

// PickActive returns a uniformly chosen active descriptor using drawFn
// (a 0..n-1 index generator, normally prng.Source.Uniform) to avoid this
// package importing prng just for one call site.
func (t *Table) PickActive(drawFn func(n int64) int64) *Descriptor {
	var active []*Descriptor
	for _, d := range t.ordered {
		if d.active {
			active = append(active, d)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return active[drawFn(int64(len(active)))]
}

// FindByProto returns every active socket-family descriptor, used by
// --proto filtering at startup; the actual address-family restriction is
// enforced later by the synthesiser's sockaddr construction, since a
// single descriptor like "connect" serves every protocol family.
func (t *Table) FindByProto(proto string) []*Descriptor {
	var out []*Descriptor
	for _, d := range t.ordered {
		if d.Group == "net" && d.active {
			out = append(out, d)
		}
	}
	return out
}

// Dump renders a human-readable listing of every descriptor and whether
// it is active, driven by the list subcommand.
func (t *Table) Dump() string {
	var b strings.Builder
	names := make([]string, 0, len(t.ordered))
	byName := make(map[string]*Descriptor, len(t.ordered))
	for _, d := range t.ordered {
		names = append(names, d.Name)
		byName[d.Name] = d
	}
	sort.Strings(names)
	for _, n := range names {
		d := byName[n]
		state := "off"
		if d.active {
			state = "on"
		}
		fmt.Fprintf(&b, "%-20s #%-5d group=%-8s args=%-2d %s\n", d.Name, d.Number, d.Group, len(d.Args), state)
	}
	return b.String()
}

// IsActive reports whether a named descriptor is currently active.
func (t *Table) IsActive(name string) bool {
	d, ok := t.byName[name]
	return ok && d.active
}

// Get returns a descriptor by name.
func (t *Table) Get(name string) (*Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}
