package prng

import (
	"os"
	"unsafe"
)

// pageWords is the number of uintptr-sized slots per sentinel page; a
// fixed slot count is enough for the synthesiser to index into and keeps
// the type simple.
const pageWords = 512

// SentinelPages holds the four memory regions every worker maps at
// startup for use as syscall buffer/pointer arguments: an all-zero page,
// an all-0xff page, a page of live allocations, and a page that is
// periodically refilled with fresh random words.
//
// PageAllocs holds one real pointer-sized address per slot, so a pointer
// argument drawn from it always lands inside a live heap allocation.
type SentinelPages struct {
	PageZeros  [pageWords]uintptr
	Page0xff   [pageWords]uintptr
	PageRand   [pageWords]uintptr
	PageAllocs []uintptr

	// allocBufs keeps the backing buffers referenced so the addresses
	// stored in PageAllocs stay valid for the run's lifetime.
	allocBufs [][]byte
}

// NewSentinelPages builds the four pages, allocating pageWords real
// buffers for PageAllocs (one per slot) and filling PageRand via src.
func NewSentinelPages(src *Source) *SentinelPages {
	p := &SentinelPages{
		PageAllocs: make([]uintptr, pageWords),
		allocBufs:  make([][]byte, pageWords),
	}
	for i := range p.Page0xff {
		p.Page0xff[i] = ^uintptr(0)
	}
	pageSize := os.Getpagesize()
	for i := range p.allocBufs {
		p.allocBufs[i] = make([]byte, pageSize)
		p.PageAllocs[i] = uintptr(unsafe.Pointer(&p.allocBufs[i][0]))
	}
	p.RegenerateRandomPage(src)
	return p
}

// BiasedPointer returns an address for a pointer-shaped argument, chosen
// among the cases worth hitting disproportionately often: NULL, one of
// the three sentinel pages, a live heap allocation from PageAllocs, or a
// kernel-range address.
func (p *SentinelPages) BiasedPointer(src *Source) uintptr {
	switch src.Uniform(0, 8) {
	case 0:
		return 0
	case 1:
		return uintptr(unsafe.Pointer(&p.PageZeros[0]))
	case 2:
		return uintptr(unsafe.Pointer(&p.Page0xff[0]))
	case 3:
		return uintptr(unsafe.Pointer(&p.PageRand[0]))
	case 4, 5:
		return p.PageAllocs[src.Uniform(0, int64(len(p.PageAllocs)))]
	default:
		return src.KernelAddress()
	}
}

// RegenerateRandomPage refills PageRand with fresh biased words. It is
// called once at startup and again whenever the shared regenerate epoch
// moves past the worker's local copy, so the page's contents keep
// drifting over a long run.
func (p *SentinelPages) RegenerateRandomPage(src *Source) {
	for i := range p.PageRand {
		p.PageRand[i] = uintptr(src.Rand64())
	}
}
