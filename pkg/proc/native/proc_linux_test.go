package native

import (
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"unsafe"

	"github.com/memsift/memsift/pkg/proc"
)

const mapsFixture = `00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
00651000-00652000 r--p 00051000 08:02 173521      /usr/bin/dbus-daemon
00652000-00655000 rw-p 00052000 08:02 173521      /usr/bin/dbus-daemon
00e03000-00e24000 rw-p 00000000 00:00 0           [heap]
7f84ac1ec000-7f84ac3a2000 r-xp 00000000 08:02 135522  /usr/lib64/libc-2.20.so
7fff3eb5f000-7fff3eb80000 rw-p 00000000 00:00 0   [stack]
ffffffffff600000-ffffffffff601000 --xp 00000000 00:00 0  [vsyscall]
not a maps line
`

func TestParseMaps(t *testing.T) {
	regions, err := parseMaps(strings.NewReader(mapsFixture))
	assertNoError(err, t, "parseMaps")
	if len(regions) != 7 {
		t.Fatalf("parsed %d regions, expected 7", len(regions))
	}

	text := regions[0]
	if text.Addr != 0x400000 || text.Size != 0x52000 {
		t.Errorf("first region is %v", text)
	}
	if !text.Read || text.Write || !text.Exec {
		t.Errorf("first region permissions parsed as %v", text)
	}

	heap := regions[3]
	if heap.Addr != 0xe03000 || !heap.Read || !heap.Write || heap.Exec {
		t.Errorf("heap region parsed as %v", heap)
	}
	if heap.ID != "00e03000-00e24000 00000000 00:00 0" {
		t.Errorf("heap region ID = %q", heap.ID)
	}

	vsyscall := regions[6]
	if vsyscall.Read || vsyscall.Write || !vsyscall.Exec {
		t.Errorf("vsyscall region parsed as %v", vsyscall)
	}
}

func TestParseMapsEmpty(t *testing.T) {
	regions, err := parseMaps(strings.NewReader(""))
	assertNoError(err, t, "parseMaps")
	if len(regions) != 0 {
		t.Errorf("parsed %d regions from an empty file", len(regions))
	}
}

// scratch lives in the data segment so the self-attach tests below have
// a known writable address to read and modify.
var scratch int32

func TestAttachSelfReadWrite(t *testing.T) {
	p, err := Attach(os.Getpid())
	assertNoError(err, t, "Attach")
	defer p.Detach()

	scratch = 12345
	addr := uint64(uintptr(unsafe.Pointer(&scratch)))

	buf := make([]byte, 4)
	_, err = p.ReadMemory(buf, addr)
	assertNoError(err, t, "ReadMemory")
	if got := int32(binary.NativeEndian.Uint32(buf)); got != 12345 {
		t.Fatalf("read %d, expected 12345", got)
	}

	binary.NativeEndian.PutUint32(buf, uint32(54321))
	_, err = p.WriteMemory(addr, buf)
	assertNoError(err, t, "WriteMemory")
	if scratch != 54321 {
		t.Fatalf("scratch is %d after write, expected 54321", scratch)
	}
}

func TestAttachSelfRegions(t *testing.T) {
	p, err := Attach(os.Getpid())
	assertNoError(err, t, "Attach")
	defer p.Detach()

	regions, err := p.Regions()
	assertNoError(err, t, "Regions")
	if len(regions) == 0 {
		t.Fatal("no regions enumerated")
	}

	addr := uint64(uintptr(unsafe.Pointer(&scratch)))
	found := false
	for _, r := range regions {
		if r.Contains(addr, 4) {
			found = true
			if !r.Write {
				t.Errorf("region %v holding a package variable is not writable", r)
			}
		}
	}
	if !found {
		t.Errorf("no region contains %#x", addr)
	}
}

func TestValidAndDetach(t *testing.T) {
	p, err := Attach(os.Getpid())
	assertNoError(err, t, "Attach")

	ok, err := p.Valid()
	assertNoError(err, t, "Valid")
	if !ok {
		t.Fatal("freshly attached process not valid")
	}

	assertNoError(p.Detach(), t, "Detach")
	buf := make([]byte, 4)
	if _, err := p.ReadMemory(buf, uint64(uintptr(unsafe.Pointer(&scratch)))); !errors.As(err, &proc.ProcessDetachedError{}) {
		t.Errorf("read after detach returned %v, expected ProcessDetachedError", err)
	}
	if _, err := p.Valid(); err == nil {
		t.Error("Valid after detach returned no error")
	}
}

func TestAttachExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	assertNoError(cmd.Start(), t, "Start")
	pid := cmd.Process.Pid
	assertNoError(cmd.Wait(), t, "Wait")

	if _, err := Attach(pid); !errors.Is(err, proc.ErrProcessNotFound) {
		t.Errorf("attach to an exited process returned %v, expected ErrProcessNotFound", err)
	}
}

func TestReadUnmappedAddress(t *testing.T) {
	p, err := Attach(os.Getpid())
	assertNoError(err, t, "Attach")
	defer p.Detach()

	// The zero page is never mapped.
	buf := make([]byte, 4)
	if _, err := p.ReadMemory(buf, 0); err == nil {
		t.Error("read of the zero page succeeded")
	}
}

func TestWriteUnmappedAddressRefused(t *testing.T) {
	p, err := Attach(os.Getpid())
	assertNoError(err, t, "Attach")
	defer p.Detach()

	if _, err := p.WriteMemory(0, []byte{1, 2, 3, 4}); !errors.Is(err, proc.ErrUnwritable) {
		t.Errorf("write to the zero page returned %v, expected ErrUnwritable", err)
	}
}
