//go:build !linux && !darwin

package native

import (
	"errors"
	"runtime"

	"github.com/memsift/memsift/pkg/proc"
)

type osProcessDetails struct{}

var errUnsupported = errors.New("memory access is not supported on " + runtime.GOOS)

func (dbp *Process) attach() error { return errUnsupported }

func (dbp *Process) release() {}

func (dbp *Process) alive() bool { return false }

func (dbp *Process) errProcessGone(err error) bool { return false }

func (dbp *Process) readMemory(buf []byte, addr uint64) (int, error) {
	return 0, errUnsupported
}

func (dbp *Process) writeMemory(addr uint64, data []byte) (int, error) {
	return 0, errUnsupported
}

func (dbp *Process) regions() ([]proc.MemoryRegion, error) {
	return nil, errUnsupported
}
