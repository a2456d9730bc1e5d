// Package prng is the fuzzer's random source: a seeded generator, the
// biased 64-bit word generator used to synthesise syscall arguments, and
// the four sentinel memory pages every child maps at startup.
package prng

import (
	"math/rand"
	"sync"
)

// Source wraps a seeded *rand.Rand behind a mutex so one instance can be
// shared by a supervisor and its children's Context values without each
// caller having to reason about concurrent access.
type Source struct {
	mu   sync.Mutex
	rng  *rand.Rand
	seed int64
}

// New returns a Source seeded with seed. A zero seed is not special-cased
// here; cmd is responsible for turning "no --seed given" into an actual
// seed value drawn from OS entropy before calling New, so every Source is
// reproducible from the seed it reports.
func New(seed int64) *Source {
	return &Source{rng: rand.New(rand.NewSource(seed)), seed: seed}
}

// Seed returns the seed this Source was constructed with.
func (s *Source) Seed() int64 {
	return s.seed
}

// Uniform returns a uniformly distributed value in [lo, hi).
func (s *Source) Uniform(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.Int63n(hi-lo)
}

// Rand32 returns one raw 31-bit non-negative value.
func (s *Source) Rand32() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.rng.Int31())
}

// Rand64 produces a biased 64-bit word with a three-way split: each call
// chooses once among AND-of-two-draws, OR-of-two-draws, or a single
// draw, then applies that same choice to both 32-bit halves. The bias is
// intentional: it concentrates mass near all-zero and all-one bit
// patterns, which shakes out more kernel argument-validation bugs than a
// uniform word would.
func (s *Source) Rand64() uint64 {
	sel := s.rawUniform(3)
	half := func() uint64 {
		switch sel {
		case 0:
			return uint64(uint32(s.Rand32() & s.Rand32()))
		case 1:
			return uint64(uint32(s.Rand32() | s.Rand32()))
		default:
			return uint64(uint32(s.Rand32()))
		}
	}
	r := half()
	r <<= 32
	r |= half()
	return r
}

func (s *Source) rawUniform(n int32) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int31n(n)
}

// KernelAddress returns an address inside the kernel half of the address
// space, for pointer arguments that should trip access_ok-style checks.
func (s *Source) KernelAddress() uintptr {
	return uintptr(0xffff800000000000 | (s.Rand64() & 0xfffff))
}

// Bool returns a uniformly distributed boolean, used by argument
// synthesis for yes/no choices.
func (s *Source) Bool() bool {
	return s.rawUniform(2) == 1
}
