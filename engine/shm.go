package engine

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	cerrors "sysfuzz/errors"
)

// SharedBlock owns the memfd-backed MAP_SHARED mapping that lets the
// supervisor, every re-exec'd worker, and the watchdog observe the same
// ControlBlock after crossing an exec() boundary. Go cannot fork a
// running multi-threaded runtime safely, so instead of fork-inherited
// anonymous shared memory the supervisor re-execs /proc/self/exe and
// hands the memfd across as an inherited file descriptor via os/exec's
// ExtraFiles.
type SharedBlock struct {
	File *os.File
	Data []byte
	CB   *ControlBlock
}

// blockSize is the mmap length, rounded up to a page boundary.
func blockSize() int {
	sz := int(unsafe.Sizeof(ControlBlock{}))
	page := os.Getpagesize()
	if rem := sz % page; rem != 0 {
		sz += page - rem
	}
	return sz
}

// CreateSharedBlock allocates a fresh memfd, truncates it to hold one
// ControlBlock, and maps it MAP_SHARED so every process that inherits
// the fd shares the same backing pages.
func CreateSharedBlock(name string) (*SharedBlock, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrInit, "memfd_create")
	}
	f := os.NewFile(uintptr(fd), name)

	sz := blockSize()
	if err := unix.Ftruncate(int(f.Fd()), int64(sz)); err != nil {
		f.Close()
		return nil, cerrors.Wrap(err, cerrors.ErrInit, "ftruncate")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, sz, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, cerrors.Wrap(err, cerrors.ErrInit, "mmap")
	}

	cb := (*ControlBlock)(unsafe.Pointer(&data[0]))
	return &SharedBlock{File: f, Data: data, CB: cb}, nil
}

// OpenSharedBlock maps an already-created memfd inherited from the
// parent process (typically os.NewFile(3, "cb") after ExtraFiles
// placed it at fd 3 in a re-exec'd child).
func OpenSharedBlock(f *os.File) (*SharedBlock, error) {
	sz := blockSize()
	data, err := unix.Mmap(int(f.Fd()), 0, sz, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrInit, "mmap")
	}
	cb := (*ControlBlock)(unsafe.Pointer(&data[0]))
	return &SharedBlock{File: f, Data: data, CB: cb}, nil
}

// Close unmaps the shared region and closes the backing memfd.
func (s *SharedBlock) Close() error {
	if err := unix.Munmap(s.Data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return s.File.Close()
}
