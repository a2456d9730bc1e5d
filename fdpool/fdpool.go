// Package fdpool implements the file-descriptor provider registry: a
// fixed set of providers (socket, pipe, perf event, epoll, eventfd, file),
// each able to open a pool of descriptors and hand one back at random, and
// a lifetime-based reuse protocol that biases toward handing out the same
// descriptor across several syscalls in a row.
package fdpool

import (
	"sync"

	cerrors "sysfuzz/errors"
	"sysfuzz/prng"
)

// errProviderEmpty reports a provider whose Open call could not stock a
// single descriptor. Registry.Open treats it like any other provider
// failure: fatal at startup.
var errProviderEmpty = cerrors.New(cerrors.ErrInit, "provider_open", "pool empty after open")

// Provider is one descriptor source. Open populates its internal pool;
// Draw returns one descriptor from the pool, or -1 if the pool is empty.
type Provider interface {
	Name() string
	Open() error
	Draw(src *prng.Source) int
	Close()
}

// Registry holds every provider and implements the get_random_fd reuse
// protocol on top of them.
type Registry struct {
	mu        sync.Mutex
	providers []Provider

	currentFD   int
	fdLifetime  int64
	maxChildren int
}

// NewRegistry builds a Registry from the given providers. maxChildren
// bounds the random lifetime a reused descriptor is kept for, mirroring
// get_random_fd's rand_range(5, max_children).
func NewRegistry(maxChildren int, providers ...Provider) *Registry {
	return &Registry{providers: providers, maxChildren: maxChildren}
}

// Open opens every provider's pool, aborting on the first failure. A run
// missing one of its pools would silently skip the multi-call descriptor
// interactions that pool exists to provoke, so startup is the time to
// find out.
func (r *Registry) Open() error {
	if len(r.providers) == 0 {
		return cerrors.ErrNoFDProviders
	}
	for _, p := range r.providers {
		if err := p.Open(); err != nil {
			return cerrors.WrapWithDetail(err, cerrors.ErrInit, "open_pools", p.Name())
		}
	}
	return nil
}

// Close tears down every provider's pool, applying SO_LINGER-off +
// shutdown + close to sockets so repeated runs don't pile up sockets in
// TIME_WAIT.
func (r *Registry) Close() {
	for _, p := range r.providers {
		p.Close()
	}
}

func (r *Registry) drawNew(src *prng.Source) int {
	for {
		idx := src.Uniform(0, int64(len(r.providers)))
		fd := r.providers[idx].Draw(src)
		if fd > 0 {
			return fd
		}
	}
}

// GetRandomFD implements get_random_fd: 1/4 of the time it draws a fresh
// descriptor from a random provider; the rest of the time it returns the
// descriptor it handed out last, decrementing a lifetime counter that was
// set to a random value in [5, maxChildren) when it was first drawn. Once
// that counter reaches zero, or the remembered descriptor is fd 0
// (nothing assigned yet), it regenerates.
func (r *Registry) GetRandomFD(src *prng.Source) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if src.Uniform(0, 4) == 0 {
		return r.drawNew(src)
	}

	for {
		if r.fdLifetime == 0 {
			r.currentFD = r.drawNew(src)
			lo, hi := int64(5), int64(r.maxChildren)
			if hi <= lo {
				hi = lo + 1
			}
			r.fdLifetime = src.Uniform(lo, hi)
		} else {
			r.fdLifetime--
		}

		if r.currentFD == 0 {
			r.fdLifetime = 0
			continue
		}
		return r.currentFD
	}
}

// Current returns the reuse state — the descriptor the reuse path would
// hand out next and its remaining lifetime — so a worker can mirror it
// into its shared-memory slot for the watchdog and log readers.
func (r *Registry) Current() (int, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentFD, r.fdLifetime
}

// ResetLifetime forces the next GetRandomFD call to draw fresh. The
// SIGALRM unwind path uses it so a worker that was blocked in a syscall
// doesn't immediately retry the same descriptor.
func (r *Registry) ResetLifetime() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fdLifetime = 0
}
