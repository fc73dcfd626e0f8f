// Package native implements the proc.ProcessMemory contract on top of
// the raw kernel facilities of each supported platform: the
// /proc/<pid>/maps and /proc/<pid>/mem pseudo-file pair (plus
// process_vm_readv) on Linux, and the mach task port on Darwin.
package native

import (
	"fmt"
	"sync"

	"github.com/memsift/memsift/pkg/logflags"
	"github.com/memsift/memsift/pkg/proc"
)

// Process is an attached target process. It implements
// proc.ProcessMemory.
//
// All kernel access is serialized behind mu. The lock is held for the
// duration of a single read, write or map enumeration only, so watch
// polls and edits issued from other goroutines are never starved by an
// in-progress scan.
type Process struct {
	pid int

	mu sync.Mutex
	os *osProcessDetails

	exited   bool
	detached bool

	log logflags.Logger
}

// Attach attaches to the process with the given pid. The target keeps
// running: no ptrace stop is involved, reads and writes happen on live
// memory.
func Attach(pid int) (*Process, error) {
	dbp := &Process{
		pid: pid,
		os:  new(osProcessDetails),
		log: logflags.MemAccessLogger(),
	}
	if err := dbp.attach(); err != nil {
		return nil, err
	}
	dbp.log.Debugf("attached to process %d", pid)
	return dbp, nil
}

// Pid returns the process ID of the target.
func (dbp *Process) Pid() int {
	return dbp.pid
}

// Valid returns whether the target is still attached and alive.
func (dbp *Process) Valid() (bool, error) {
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	return dbp.valid()
}

// valid expects mu to be held.
func (dbp *Process) valid() (bool, error) {
	if dbp.detached {
		return false, proc.ProcessDetachedError{}
	}
	if !dbp.exited && !dbp.alive() {
		dbp.exited = true
	}
	if dbp.exited {
		return false, proc.ErrProcessExited{Pid: dbp.pid}
	}
	return true, nil
}

// ReadMemory reads len(buf) bytes of the target's memory at addr.
func (dbp *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	if _, err := dbp.valid(); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := dbp.readMemory(buf, addr)
	if err != nil {
		return n, dbp.convertMemoryError(err, addr)
	}
	if n < len(buf) {
		return n, proc.ErrShortRead
	}
	return n, nil
}

// WriteMemory writes data to the target's memory at addr. The write is
// refused if [addr, addr+len) does not lie entirely within a currently
// writable region; /proc/<pid>/mem and the mach write primitive can
// both bypass page protections, and silently patching read-only memory
// is never what a scan caller wants.
func (dbp *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	if _, err := dbp.valid(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	regions, err := dbp.regions()
	if err != nil {
		return 0, err
	}
	writable := false
	for _, r := range regions {
		if r.Write && r.Contains(addr, len(data)) {
			writable = true
			break
		}
	}
	if !writable {
		return 0, proc.ErrUnwritable
	}
	n, err := dbp.writeMemory(addr, data)
	if err != nil {
		err = dbp.convertMemoryError(err, addr)
		if _, exited := err.(proc.ErrProcessExited); exited {
			return n, err
		}
		// The region check above passed, so the address was unmapped
		// (or its protection changed) between the check and the write.
		return n, fmt.Errorf("%w: %v", proc.ErrUnwritable, err)
	}
	if n < len(data) {
		return n, proc.ErrUnwritable
	}
	dbp.log.Debugf("wrote %d bytes at %#x", n, addr)
	return n, nil
}

// Regions enumerates the target's memory map. The map is re-derived on
// every call; the target mutates it at will, so caching would hand out
// stale regions.
func (dbp *Process) Regions() ([]proc.MemoryRegion, error) {
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	if _, err := dbp.valid(); err != nil {
		return nil, err
	}
	return dbp.regions()
}

// Detach releases the handle to the target. The target is left running;
// attach never stopped it.
func (dbp *Process) Detach() error {
	dbp.mu.Lock()
	defer dbp.mu.Unlock()
	if dbp.detached {
		return nil
	}
	dbp.release()
	dbp.detached = true
	dbp.log.Debugf("detached from process %d", dbp.pid)
	return nil
}

// convertMemoryError maps a raw kernel error to the package error
// taxonomy, marking the process exited when the kernel says it is gone.
// Expects mu to be held.
func (dbp *Process) convertMemoryError(err error, addr uint64) error {
	if err == nil {
		return nil
	}
	if dbp.errProcessGone(err) || !dbp.alive() {
		dbp.exited = true
		return proc.ErrProcessExited{Pid: dbp.pid}
	}
	return err
}
