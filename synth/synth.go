// Package synth synthesises the argument values for one syscall
// invocation, dispatching on the syzcall.ArgKind tag attached to each
// declared argument slot. Cross-argument relationships like the
// socket-fd/sockaddr/sockaddr-len triple are handled once here rather
// than duplicated across every socket syscall's own fixup code.
package synth

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"sysfuzz/fdpool"
	"sysfuzz/prng"
	"sysfuzz/syzcall"
)

// Context is the per-call state the synthesiser needs, passed explicitly
// so nothing here depends on package globals.
type Context struct {
	Src    *prng.Source
	Pages  *prng.SentinelPages
	FDPool *fdpool.Registry
	Proto  string

	// lastFamily is the address family chosen for the most recent
	// sockaddr slot, consumed by the paired sockaddr-len slot so the two
	// collude on one family per call.
	lastFamily string
}

// Synthesise produces one raw argument value for the given slot. A
// sockaddr-len slot reports the family the preceding sockaddr slot chose,
// which is carried in ctx; the idx and siblings parameters are not
// consulted.
func Synthesise(kind syzcall.ArgKind, idx int, siblings []uint64, ctx *Context) uint64 {
	switch kind {
	case syzcall.ArgFD, syzcall.ArgSocketInfo:
		return uint64(ctx.FDPool.GetRandomFD(ctx.Src))
	case syzcall.ArgSockAddr:
		return sockaddrPointer(ctx)
	case syzcall.ArgSockAddrLen:
		return sockaddrLen(ctx)
	case syzcall.ArgLen:
		return uint64(ctx.Src.Uniform(0, int64(len(ctx.Pages.PageZeros))*8))
	case syzcall.ArgPtr, syzcall.ArgAddress, syzcall.ArgList:
		return uint64(ctx.Pages.BiasedPointer(ctx.Src))
	case syzcall.ArgMode:
		return uint64(ctx.Src.Uniform(0, 0o10000))
	case syzcall.ArgFlags:
		return ctx.Src.Rand64()
	case syzcall.ArgValue:
		return ctx.Src.Rand64()
	default:
		return ctx.Src.Rand64()
	}
}

// SynthesiseArgs fills every argument slot for one descriptor in
// declaration order; keeping the draw order matching arg order matters
// for reproducibility under a fixed seed.
func SynthesiseArgs(d *syzcall.Descriptor, ctx *Context) []uint64 {
	args := make([]uint64, len(d.Args))
	for i, a := range d.Args {
		args[i] = Synthesise(a.Kind, i, args, ctx)
	}
	return args
}

// families are the address families a sockaddr slot draws from when no
// --proto pin is in effect.
var families = []string{"inet", "inet6", "unix", "netlink", "packet"}

// chooseFamily returns the pinned protocol family, or a fresh random one
// per call when none was pinned.
func chooseFamily(ctx *Context) string {
	if ctx.Proto != "" {
		return ctx.Proto
	}
	return families[ctx.Src.Uniform(0, int64(len(families)))]
}

// sockaddrPointer chooses this call's address family, records it for the
// paired sockaddr-len slot, and returns the address of the rand page: a
// readable buffer whose contents vary across regenerate epochs.
func sockaddrPointer(ctx *Context) uint64 {
	ctx.lastFamily = chooseFamily(ctx)
	return uint64(uintptr(unsafe.Pointer(&ctx.Pages.PageRand[0])))
}

// sockaddrLen returns the struct size for the family the preceding
// sockaddr slot chose, drawing a fresh family only when this slot stands
// alone. The recorded family is consumed so one call's choice never
// leaks into the next.
func sockaddrLen(ctx *Context) uint64 {
	family := ctx.lastFamily
	ctx.lastFamily = ""
	if family == "" {
		family = chooseFamily(ctx)
	}
	switch family {
	case "inet6":
		return uint64(unix.SizeofSockaddrInet6)
	case "unix":
		return uint64(unix.SizeofSockaddrUnix)
	case "netlink":
		return uint64(unix.SizeofSockaddrNetlink)
	case "packet":
		return uint64(unix.SizeofSockaddrLinklayer)
	default:
		return uint64(unix.SizeofSockaddrInet4)
	}
}
