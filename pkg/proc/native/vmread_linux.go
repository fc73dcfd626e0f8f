//go:build linux

package native

import (
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"
)

type remoteIovec struct {
	base uintptr
	len  uintptr
}

// processVMRead calls process_vm_readv. It reads the target without
// attaching and without stopping it; the kernel applies the same access
// checks as /proc/<pid>/mem.
func processVMRead(pid int, addr uintptr, data []byte) (int, error) {
	localIov := sys.Iovec{Base: &data[0]}
	localIov.SetLen(len(data))
	remoteIov := remoteIovec{base: addr, len: uintptr(len(data))}
	n, _, err := syscall.Syscall6(sys.SYS_PROCESS_VM_READV, uintptr(pid), uintptr(unsafe.Pointer(&localIov)), 1, uintptr(unsafe.Pointer(&remoteIov)), 1, 0)
	if err != syscall.Errno(0) {
		return 0, err
	}
	return int(n), nil
}
