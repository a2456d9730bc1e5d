//go:build linux && amd64

package syzcall

import (
	"os"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"
)

// sanitiseMmap keeps addr page-aligned and the length nonzero, so the
// call exercises mapping logic instead of failing the same trivial
// EINVAL check every iteration.
func sanitiseMmap(inv *Invocation) {
	inv.Args[0] &^= uint64(os.Getpagesize() - 1)
	if inv.Args[1] == 0 {
		inv.Args[1] = uint64(os.Getpagesize())
	}
}

// postCloseFD closes a descriptor the call just created, so a long run
// does not exhaust the fd table one successful open at a time.
func postCloseFD(inv *Invocation) {
	if inv.Ret >= 0 {
		unix.Close(int(inv.Ret))
	}
}

// amd64Descriptors is a representative slice of the syscall table, covering
// the vfs/net/mm/ipc/sched groups. Every ArgKind except ArgList appears in
// it, and every Flags bit except Avoid64. This hand-authored subset is the
// whole table this module ships.
var amd64Descriptors = []Descriptor{
	{
		Name:   "read",
		Number: 0,
		Group:  "vfs",
		Args: []Arg{
			{Name: "fd", Kind: ArgFD},
			{Name: "buf", Kind: ArgPtr},
			{Name: "count", Kind: ArgLen},
		},
		Ret:   RetValue,
		Flags: NeedAlarm,
	},
	{
		Name:   "write",
		Number: 1,
		Group:  "vfs",
		Args: []Arg{
			{Name: "fd", Kind: ArgFD},
			{Name: "buf", Kind: ArgPtr},
			{Name: "count", Kind: ArgLen},
		},
		Ret:   RetValue,
		Flags: NeedAlarm,
	},
	{
		Name:   "open",
		Number: 2,
		Group:  "vfs",
		Args: []Arg{
			{Name: "filename", Kind: ArgPtr},
			{Name: "flags", Kind: ArgFlags},
			{Name: "mode", Kind: ArgMode},
		},
		Ret:  RetFD,
		Post: postCloseFD,
	},
	{
		Name:   "close",
		Number: 3,
		Group:  "vfs",
		Args: []Arg{
			{Name: "fd", Kind: ArgFD},
		},
		Ret: RetZeroSuccess,
	},
	{
		Name:   "lseek",
		Number: 8,
		Group:  "vfs",
		Args: []Arg{
			{Name: "fd", Kind: ArgFD},
			{Name: "offset", Kind: ArgValue},
			{Name: "whence", Kind: ArgFlags},
		},
		Ret: RetValue,
	},
	{
		Name:   "mmap",
		Number: 9,
		Group:  "mm",
		Args: []Arg{
			{Name: "addr", Kind: ArgAddress},
			{Name: "length", Kind: ArgLen},
			{Name: "prot", Kind: ArgFlags},
			{Name: "flags", Kind: ArgFlags},
			{Name: "fd", Kind: ArgFD},
			{Name: "offset", Kind: ArgValue},
		},
		Ret:      RetValue,
		Sanitise: sanitiseMmap,
	},
	{
		Name:   "mprotect",
		Number: 10,
		Group:  "mm",
		Args: []Arg{
			{Name: "addr", Kind: ArgAddress},
			{Name: "len", Kind: ArgLen},
			{Name: "prot", Kind: ArgFlags},
		},
		Ret: RetZeroSuccess,
	},
	{
		Name:   "connect",
		Number: 42,
		Group:  "net",
		Args: []Arg{
			{Name: "fd", Kind: ArgSocketInfo},
			{Name: "uservaddr", Kind: ArgSockAddr},
			{Name: "addrlen", Kind: ArgSockAddrLen},
		},
		Ret:   RetZeroSuccess,
		Flags: NeedAlarm,
	},
	{
		Name:   "accept",
		Number: 43,
		Group:  "net",
		Args: []Arg{
			{Name: "fd", Kind: ArgSocketInfo},
			{Name: "upeer_sockaddr", Kind: ArgSockAddr},
			{Name: "upeer_addrlen", Kind: ArgSockAddrLen},
		},
		Ret:   RetFD,
		Flags: NeedAlarm,
	},
	{
		Name:   "bind",
		Number: 49,
		Group:  "net",
		Args: []Arg{
			{Name: "fd", Kind: ArgSocketInfo},
			{Name: "umyaddr", Kind: ArgSockAddr},
			{Name: "addrlen", Kind: ArgSockAddrLen},
		},
		Ret: RetZeroSuccess,
	},
	{
		Name:   "epoll_wait",
		Number: 232,
		Group:  "net",
		Args: []Arg{
			{Name: "epfd", Kind: ArgFD},
			{Name: "events", Kind: ArgPtr},
			{Name: "maxevents", Kind: ArgLen},
			{Name: "timeout", Kind: ArgValue},
		},
		Ret:   RetValue,
		Flags: NeedAlarm,
	},
	{
		Name:   "eventfd2",
		Number: 290,
		Group:  "ipc",
		Args: []Arg{
			{Name: "count", Kind: ArgValue},
			{Name: "flags", Kind: ArgFlags},
		},
		Ret:  RetFD,
		Post: postCloseFD,
	},
	{
		Name:   "shmget",
		Number: 29,
		Group:  "ipc",
		Args: []Arg{
			{Name: "key", Kind: ArgValue},
			{Name: "size", Kind: ArgLen},
			{Name: "shmflg", Kind: ArgFlags},
		},
		Ret: RetValue,
	},
	{
		Name:   "sched_setaffinity",
		Number: 203,
		Group:  "sched",
		Args: []Arg{
			{Name: "pid", Kind: ArgValue},
			{Name: "len", Kind: ArgLen},
			{Name: "user_mask_ptr", Kind: ArgPtr},
		},
		Ret: RetZeroSuccess,
	},
	{
		Name:   "reboot",
		Number: 169,
		Group:  "sched",
		Args: []Arg{
			{Name: "magic1", Kind: ArgValue},
			{Name: "magic2", Kind: ArgValue},
			{Name: "cmd", Kind: ArgFlags},
			{Name: "arg", Kind: ArgPtr},
		},
		Ret:         RetZeroSuccess,
		Flags:       Dangerous | AvoidCapability,
		RequiredCap: capability.CAP_SYS_BOOT,
	},
	{
		Name:   "ioperm",
		Number: 173,
		Group:  "vfs",
		Args: []Arg{
			{Name: "from", Kind: ArgValue},
			{Name: "num", Kind: ArgValue},
			{Name: "turn_on", Kind: ArgFlags},
		},
		Ret:   RetZeroSuccess,
		Flags: Dangerous | Avoid32,
	},
}

// NewAMD64Table builds a Table from the amd64 descriptor subset.
func NewAMD64Table() *Table {
	return NewTable(amd64Descriptors)
}
