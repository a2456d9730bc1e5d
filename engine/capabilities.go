package engine

import (
	"github.com/moby/sys/capability"
)

// HasEffectiveCapability reports whether the current process carries cap
// in its effective set, the query backing the AVOID_CAPABILITY flag: a
// descriptor flagged AVOID_CAPABILITY skips synthesis entirely when the
// worker can already tell the kernel would reject it for lack of
// privilege, instead of spending an iteration on a guaranteed EPERM.
func HasEffectiveCapability(cap capability.Cap) (bool, error) {
	// The capability sets hold 64 bits; a number outside them cannot be
	// held.
	if cap < 0 || cap > 63 {
		return false, nil
	}
	caps, err := capability.NewPid2(0)
	if err != nil {
		return false, err
	}
	if err := caps.Load(); err != nil {
		return false, err
	}
	return caps.Get(capability.EFFECTIVE, cap), nil
}

// ShouldAvoidForCapability reports whether a NEED_CAPABILITY-style
// descriptor (flagged AvoidCapability in syzcall.Flags) should be skipped
// this draw because the worker lacks the privilege the syscall normally
// requires to do anything interesting.
func ShouldAvoidForCapability(cap capability.Cap) bool {
	ok, err := HasEffectiveCapability(cap)
	if err != nil {
		return true
	}
	return !ok
}
