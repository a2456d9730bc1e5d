package prng

import "testing"

func TestNewIsDeterministicForSameSeed(t *testing.T) {
	a := New(42)
	b := New(42)

	for i := 0; i < 100; i++ {
		if a.Rand64() != b.Rand64() {
			t.Fatalf("same-seed sources diverged at draw %d", i)
		}
	}
}

func TestSeedReportsConstructorValue(t *testing.T) {
	s := New(12345)
	if s.Seed() != 12345 {
		t.Errorf("Seed() = %d, want 12345", s.Seed())
	}
}

func TestUniformRespectsBounds(t *testing.T) {
	s := New(1)
	for i := 0; i < 1000; i++ {
		v := s.Uniform(10, 20)
		if v < 10 || v >= 20 {
			t.Fatalf("Uniform(10,20) returned %d out of range", v)
		}
	}
}

func TestUniformDegenerateRange(t *testing.T) {
	s := New(1)
	if got := s.Uniform(5, 5); got != 5 {
		t.Errorf("Uniform(5,5) = %d, want 5", got)
	}
	if got := s.Uniform(5, 3); got != 5 {
		t.Errorf("Uniform(5,3) = %d, want lo=5", got)
	}
}

func TestRand64ProducesVariedOutput(t *testing.T) {
	// Rand64 doesn't expose which branch fired directly, but over enough
	// draws the AND/OR/plain mix should avoid collapsing to a constant.
	s := New(7)
	seen := map[uint64]bool{}
	for i := 0; i < 200; i++ {
		seen[s.Rand64()] = true
	}
	if len(seen) < 150 {
		t.Errorf("expected substantial variety in Rand64 output, got %d distinct of 200", len(seen))
	}
}

func TestBiasedPointerCoversDocumentedCases(t *testing.T) {
	s := New(99)
	p := NewSentinelPages(s)

	sawNull, sawAlloc, sawKernel := false, false, false
	allocs := map[uintptr]bool{}
	for _, a := range p.PageAllocs {
		allocs[a] = true
	}
	for i := 0; i < 1000; i++ {
		v := p.BiasedPointer(s)
		switch {
		case v == 0:
			sawNull = true
		case allocs[v]:
			sawAlloc = true
		case v >= 0xffff800000000000:
			sawKernel = true
		}
	}
	if !sawNull {
		t.Error("expected BiasedPointer to return NULL at least once in 1000 draws")
	}
	if !sawAlloc {
		t.Error("expected BiasedPointer to return a PageAllocs address at least once in 1000 draws")
	}
	if !sawKernel {
		t.Error("expected BiasedPointer to return a kernel-range address at least once in 1000 draws")
	}
}

func TestBoolProducesBothValues(t *testing.T) {
	s := New(3)
	sawTrue, sawFalse := false, false
	for i := 0; i < 200; i++ {
		if s.Bool() {
			sawTrue = true
		} else {
			sawFalse = true
		}
	}
	if !sawTrue || !sawFalse {
		t.Error("expected Bool() to produce both true and false over 200 draws")
	}
}

func TestNewSentinelPagesShape(t *testing.T) {
	s := New(5)
	p := NewSentinelPages(s)

	for _, v := range p.Page0xff {
		if v != ^uintptr(0) {
			t.Fatal("Page0xff entry was not all-ones")
		}
	}
	for _, v := range p.PageZeros {
		if v != 0 {
			t.Fatal("PageZeros entry was not zero")
		}
	}
	if len(p.PageAllocs) != pageWords {
		t.Fatalf("PageAllocs len = %d, want %d", len(p.PageAllocs), pageWords)
	}
	for _, addr := range p.PageAllocs {
		if addr == 0 {
			t.Fatal("PageAllocs entry was nil/zero, expected a real address")
		}
	}
}

func TestRegenerateRandomPageChangesContents(t *testing.T) {
	s := New(6)
	p := NewSentinelPages(s)
	before := p.PageRand
	p.RegenerateRandomPage(s)
	same := true
	for i := range before {
		if before[i] != p.PageRand[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected RegenerateRandomPage to change at least one word")
	}
}
