//go:build darwin

package native

// #include "proc_darwin.h"
import "C"
import (
	"fmt"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/memsift/memsift/pkg/proc"
)

// osProcessDetails holds Darwin specific information.
type osProcessDetails struct {
	task C.task_t // mach task port for the target process
}

func (dbp *Process) attach() error {
	if err := sys.Kill(dbp.pid, 0); err != nil {
		if err == sys.ESRCH {
			return proc.ErrProcessNotFound
		}
	}
	kret := C.acquire_mach_task(C.int(dbp.pid), &dbp.os.task)
	if kret != C.KERN_SUCCESS {
		// task_for_pid fails with KERN_FAILURE both for missing
		// privileges and for a pid that vanished in between; we already
		// know the pid exists.
		return proc.ErrPermissionDenied
	}
	return nil
}

func (dbp *Process) release() {
	C.mach_port_deallocate(C.mach_task_self_, C.mach_port_name_t(dbp.os.task))
}

// alive reports whether the target still exists.
func (dbp *Process) alive() bool {
	return sys.Kill(dbp.pid, 0) == nil
}

func (dbp *Process) errProcessGone(err error) bool {
	return false
}

// readMemory expects mu to be held.
func (dbp *Process) readMemory(buf []byte, addr uint64) (int, error) {
	var nread C.mach_vm_size_t
	kret := C.read_mem(dbp.os.task, C.mach_vm_address_t(addr), unsafe.Pointer(&buf[0]), C.mach_vm_size_t(len(buf)), &nread)
	if kret != C.KERN_SUCCESS {
		return 0, fmt.Errorf("could not read memory at %#x: kern return %d", addr, int(kret))
	}
	return int(nread), nil
}

// writeMemory expects mu to be held.
func (dbp *Process) writeMemory(addr uint64, data []byte) (int, error) {
	kret := C.write_mem(dbp.os.task, C.mach_vm_address_t(addr), unsafe.Pointer(&data[0]), C.mach_msg_type_number_t(len(data)))
	if kret != C.KERN_SUCCESS {
		return 0, fmt.Errorf("could not write memory at %#x: kern return %d", addr, int(kret))
	}
	return len(data), nil
}

// regions walks the target's address space with mach_vm_region. Expects
// mu to be held.
func (dbp *Process) regions() ([]proc.MemoryRegion, error) {
	var out []proc.MemoryRegion
	var (
		addr C.mach_vm_address_t = 1
		sz   C.mach_vm_size_t
		prot C.vm_prot_t
	)
	for {
		kret := C.next_region(dbp.os.task, &addr, &sz, &prot)
		if kret == C.KERN_INVALID_ADDRESS {
			break
		}
		if kret != C.KERN_SUCCESS {
			return nil, fmt.Errorf("could not enumerate regions: kern return %d", int(kret))
		}
		r := proc.MemoryRegion{
			Addr:  uint64(addr),
			Size:  uint64(sz),
			Read:  prot&C.VM_PROT_READ != 0,
			Write: prot&C.VM_PROT_WRITE != 0,
			Exec:  prot&C.VM_PROT_EXECUTE != 0,
		}
		r.ID = fmt.Sprintf("%#x-%#x", r.Addr, r.End())
		out = append(out, r)
		addr += sz
	}
	return out, nil
}
