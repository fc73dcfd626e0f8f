// Package proc defines the contract for raw memory access to a live
// target process. Everything above this package is platform independent:
// the four operations below are implemented once per supported OS by the
// native subpackage and nothing else ever branches on GOOS.
package proc

import (
	"errors"
	"fmt"
)

// ProcessMemory is the memory accessor for one attached target process.
// Implementations must be safe for concurrent use from multiple
// goroutines; if the underlying kernel primitive is not, calls are
// serialized behind a lock held only for the duration of a single
// operation, never across a whole scan.
type ProcessMemory interface {
	// Pid returns the target's process ID.
	Pid() int

	// ReadMemory reads len(buf) bytes at addr in the target's address
	// space. A partial read is an error (ErrShortRead), never a
	// truncated success: callers decode typed values from the buffer
	// and must not misinterpret a short one.
	ReadMemory(buf []byte, addr uint64) (n int, err error)

	// WriteMemory writes data at addr. Addresses outside any currently
	// writable region are refused with ErrUnwritable rather than
	// attempted.
	WriteMemory(addr uint64, data []byte) (written int, err error)

	// Regions re-derives the target's memory map. The map is mutable
	// while the target runs, so every call reads it fresh; results are
	// never cached across calls.
	Regions() ([]MemoryRegion, error)

	// Valid returns whether the target is still attached and alive.
	Valid() (bool, error)

	// Detach releases the handle. Reads and writes after Detach fail
	// with ProcessDetachedError.
	Detach() error
}

// ErrProcessExited indicates that the target process has exited.
type ErrProcessExited struct {
	Pid int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("process %d has exited", pe.Pid)
}

// ProcessDetachedError indicates that the accessor handle was released
// by an explicit detach.
type ProcessDetachedError struct{}

func (pe ProcessDetachedError) Error() string {
	return "detached from process"
}

var (
	// ErrProcessNotFound is returned by Attach when no process with the
	// given pid exists.
	ErrProcessNotFound = errors.New("no process with the given pid")

	// ErrPermissionDenied is returned when the kernel refuses access to
	// the target's memory. It is fatal to the session; retrying without
	// elevated privileges cannot succeed.
	ErrPermissionDenied = errors.New("could not access process memory: permission denied")

	// ErrShortRead is returned when the kernel returned fewer bytes
	// than requested.
	ErrShortRead = errors.New("short read of target memory")

	// ErrUnwritable is returned for writes to addresses outside any
	// writable region, and for writes the kernel refused.
	ErrUnwritable = errors.New("address is not writable")
)
