package fdpool

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"sysfuzz/prng"
)

// poolSize is how many descriptors each provider's Open call tries to
// stock its pool with.
const poolSize = 16

// basePool is the common "slice of descriptors drawn from at random"
// behaviour shared by every provider below.
type basePool struct {
	mu   sync.Mutex
	name string
	fds  []int
}

func (b *basePool) Name() string { return b.name }

func (b *basePool) Draw(src *prng.Source) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.fds) == 0 {
		return -1
	}
	idx := src.Uniform(0, int64(len(b.fds)))
	return b.fds[idx]
}

func (b *basePool) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fd := range b.fds {
		lingerOffAndClose(fd)
	}
	b.fds = nil
}

func (b *basePool) add(fd int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fds = append(b.fds, fd)
}

// lingerOffAndClose disables SO_LINGER, shuts the descriptor down (this is
// a no-op error-wise on non-socket fds), and closes it.
func lingerOffAndClose(fd int) {
	_ = unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 0, Linger: 0})
	_ = unix.Shutdown(fd, unix.SHUT_RDWR)
	unix.Close(fd)
}

// SocketProvider opens a pool of AF_INET/AF_UNIX sockets.
type SocketProvider struct{ basePool }

func NewSocketProvider() *SocketProvider {
	return &SocketProvider{basePool{name: "socket"}}
}

func (p *SocketProvider) Open() error {
	opened := 0
	for i := 0; i < poolSize; i++ {
		domain := unix.AF_INET
		if i%2 == 1 {
			domain = unix.AF_UNIX
		}
		typ := unix.SOCK_STREAM
		fd, err := unix.Socket(domain, typ, 0)
		if err != nil {
			continue
		}
		p.add(fd)
		opened++
	}
	return errIfNonePropagated(opened)
}

// PipeProvider opens a pool of anonymous pipes, storing both ends.
type PipeProvider struct{ basePool }

func NewPipeProvider() *PipeProvider { return &PipeProvider{basePool{name: "pipe"}} }

func (p *PipeProvider) Open() error {
	opened := 0
	for i := 0; i < poolSize/2; i++ {
		var fds [2]int
		if err := unix.Pipe2(fds[:], 0); err != nil {
			continue
		}
		p.add(fds[0])
		p.add(fds[1])
		opened++
	}
	return errIfNonePropagated(opened)
}

// PerfProvider opens a pool of perf_event_open descriptors tracking a
// trivial software event, which is available without special privilege.
type PerfProvider struct{ basePool }

func NewPerfProvider() *PerfProvider { return &PerfProvider{basePool{name: "perf"}} }

func (p *PerfProvider) Open() error {
	opened := 0
	for i := 0; i < poolSize; i++ {
		attr := &unix.PerfEventAttr{
			Type:   unix.PERF_TYPE_SOFTWARE,
			Config: unix.PERF_COUNT_SW_CPU_CLOCK,
			Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		}
		fd, err := unix.PerfEventOpen(attr, 0, -1, -1, 0)
		if err != nil {
			continue
		}
		p.add(fd)
		opened++
	}
	return errIfNonePropagated(opened)
}

// EpollProvider opens a pool of epoll instances.
type EpollProvider struct{ basePool }

func NewEpollProvider() *EpollProvider { return &EpollProvider{basePool{name: "epoll"}} }

func (p *EpollProvider) Open() error {
	opened := 0
	for i := 0; i < poolSize; i++ {
		fd, err := unix.EpollCreate1(0)
		if err != nil {
			continue
		}
		p.add(fd)
		opened++
	}
	return errIfNonePropagated(opened)
}

// EventfdProvider opens a pool of eventfd descriptors.
type EventfdProvider struct{ basePool }

func NewEventfdProvider() *EventfdProvider { return &EventfdProvider{basePool{name: "eventfd"}} }

func (p *EventfdProvider) Open() error {
	opened := 0
	for i := 0; i < poolSize; i++ {
		fd, err := unix.Eventfd(0, 0)
		if err != nil {
			continue
		}
		p.add(fd)
		opened++
	}
	return errIfNonePropagated(opened)
}

// FileProvider opens a pool of regular files under a scratch directory,
// so path- and offset-taking syscalls have a real file to chew on.
type FileProvider struct {
	basePool
	dir string
}

func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{basePool: basePool{name: "file"}, dir: dir}
}

func (p *FileProvider) Open() error {
	opened := 0
	for i := 0; i < poolSize; i++ {
		path := p.dir + "/fdpool-file"
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0644)
		if err != nil {
			continue
		}
		p.add(fd)
		opened++
	}
	return errIfNonePropagated(opened)
}

// DefaultProviders is the standard six-pool set every process opens:
// sockets, pipes, perf events, epoll instances, eventfds, and scratch
// files under dir.
func DefaultProviders(dir string) []Provider {
	return []Provider{
		NewSocketProvider(),
		NewPipeProvider(),
		NewPerfProvider(),
		NewEpollProvider(),
		NewEventfdProvider(),
		NewFileProvider(dir),
	}
}

func errIfNonePropagated(opened int) error {
	if opened == 0 {
		return errProviderEmpty
	}
	return nil
}
