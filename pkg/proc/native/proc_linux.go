//go:build linux

package native

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	sys "golang.org/x/sys/unix"

	"github.com/memsift/memsift/pkg/proc"
)

// Process statuses from /proc/<pid>/stat.
const (
	statusZombie = 'Z'
	statusDead   = 'X'
)

// osProcessDetails contains Linux specific process details.
type osProcessDetails struct {
	comm string

	// mem is the open /proc/<pid>/mem handle, used for all writes and
	// as the fallback read path when process_vm_readv is unavailable.
	mem *os.File

	// vmReadBroken is set after process_vm_readv failed with ENOSYS or
	// EPERM so subsequent reads go straight to the mem file.
	vmReadBroken bool
}

func (dbp *Process) attach() error {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", dbp.pid)); err != nil {
		return proc.ErrProcessNotFound
	}

	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", dbp.pid))
	if err == nil {
		// comm is interpolated into a Fscanf format by status().
		dbp.os.comm = strings.ReplaceAll(strings.TrimSuffix(string(comm), "\n"), "%", "%%")
	}

	mem, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", dbp.pid), os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return proc.ErrPermissionDenied
		}
		if os.IsNotExist(err) {
			return proc.ErrProcessNotFound
		}
		return err
	}
	dbp.os.mem = mem

	// Opening /proc/<pid>/mem succeeds regardless of the kernel's
	// ptrace access mode check; the check happens on the first actual
	// read. Probe now so the caller learns about missing privileges at
	// attach time instead of from an empty scan.
	regions, err := dbp.regions()
	if err != nil {
		mem.Close()
		return err
	}
	for _, r := range regions {
		if !r.Read {
			continue
		}
		buf := make([]byte, 1)
		if _, err := dbp.readMemory(buf, r.Addr); err != nil {
			if errors.Is(err, sys.EPERM) || errors.Is(err, sys.EACCES) {
				mem.Close()
				return proc.ErrPermissionDenied
			}
		}
		break
	}
	return nil
}

func (dbp *Process) release() {
	if dbp.os.mem != nil {
		dbp.os.mem.Close()
	}
}

// alive reports whether the target still exists and is not a zombie.
func (dbp *Process) alive() bool {
	state := status(dbp.pid, dbp.os.comm)
	return state != '\000' && state != statusZombie && state != statusDead
}

func (dbp *Process) errProcessGone(err error) bool {
	return errors.Is(err, sys.ESRCH)
}

// readMemory expects mu to be held.
func (dbp *Process) readMemory(buf []byte, addr uint64) (int, error) {
	if !dbp.os.vmReadBroken {
		n, err := processVMRead(dbp.pid, uintptr(addr), buf)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, sys.ENOSYS) || errors.Is(err, sys.EPERM):
			dbp.os.vmReadBroken = true
		case errors.Is(err, sys.ESRCH):
			return 0, err
		default:
			// EFAULT and EIO mean the range is not fully mapped;
			// the mem file gives the same answer, skip the retry.
			return 0, err
		}
	}
	return dbp.os.mem.ReadAt(buf, int64(addr))
}

// writeMemory expects mu to be held. Writes always go through the mem
// file: unlike process_vm_writev it does not require the target to be
// stopped and behaves uniformly across kernel versions.
func (dbp *Process) writeMemory(addr uint64, data []byte) (int, error) {
	return dbp.os.mem.WriteAt(data, int64(addr))
}

// regions parses /proc/<pid>/maps. Expects mu to be held.
func (dbp *Process) regions() ([]proc.MemoryRegion, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", dbp.pid))
	if err != nil {
		if os.IsNotExist(err) {
			dbp.exited = true
			return nil, proc.ErrProcessExited{Pid: dbp.pid}
		}
		return nil, err
	}
	defer f.Close()
	return parseMaps(f)
}

// parseMaps reads a Linux maps pseudo-file. Lines that do not parse are
// skipped rather than failing the enumeration; the kernel appends
// entries (like [vsyscall]) whose format has historically drifted.
func parseMaps(rd io.Reader) ([]proc.MemoryRegion, error) {
	var regions []proc.MemoryRegion
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(addrs[0], 16, 64)
		end, err2 := strconv.ParseUint(addrs[1], 16, 64)
		if err1 != nil || err2 != nil || end < start {
			continue
		}
		perms := fields[1]
		if len(perms) < 3 {
			continue
		}
		regions = append(regions, proc.MemoryRegion{
			Addr:  start,
			Size:  end - start,
			Read:  perms[0] == 'r',
			Write: perms[1] == 'w',
			Exec:  perms[2] == 'x',
			ID:    fields[0] + " " + fields[2] + " " + fields[3] + " " + fields[4],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// status returns the status character of the process as reported by
// /proc/<pid>/stat.
func status(pid int, comm string) rune {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	defer f.Close()

	var (
		p     int
		state rune
	)

	// The second field of /proc/pid/stat is the name of the task in
	// parentheses. Since both parentheses and spaces can appear inside
	// the name and no escaping happens we need to use the name read at
	// attach time to skip past it.
	_, _ = fmt.Fscanf(bufio.NewReader(f), "%d ("+comm+")  %c", &p, &state)
	return state
}
