package scan

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/memsift/memsift/pkg/proc"
)

func assertNoError(err error, t testing.TB, s string) {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		fname := filepath.Base(file)
		t.Fatalf("failed assertion at %s:%d: %s - %s\n", fname, line, s, err)
	}
}

// fakeRegion is one mapping of the fake target's address space.
type fakeRegion struct {
	proc.MemoryRegion
	data []byte
}

// fakeMem implements proc.ProcessMemory over in-process buffers so the
// session can be exercised without a live target.
type fakeMem struct {
	pid int

	mu       sync.Mutex
	regions  []*fakeRegion
	exited   bool
	detached bool

	// onRead, when set, runs at the start of every ReadMemory with the
	// read's address. Tests use it to cancel or kill the target at a
	// chosen point of a scan.
	onRead func(addr uint64)
}

func newFakeMem() *fakeMem {
	return &fakeMem{pid: 4242}
}

func (m *fakeMem) addRegion(addr, size uint64, read, write, exec bool) *fakeRegion {
	r := &fakeRegion{
		MemoryRegion: proc.MemoryRegion{
			Addr: addr, Size: size,
			Read: read, Write: write, Exec: exec,
			ID: fmt.Sprintf("%#x-%#x", addr, addr+size),
		},
		data: make([]byte, size),
	}
	m.mu.Lock()
	m.regions = append(m.regions, r)
	m.mu.Unlock()
	return r
}

func (m *fakeMem) removeRegion(r *fakeRegion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.regions {
		if m.regions[i] == r {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return
		}
	}
}

func (m *fakeMem) poke(r *fakeRegion, off uint64, b []byte) {
	m.mu.Lock()
	copy(r.data[off:], b)
	m.mu.Unlock()
}

func (m *fakeMem) find(addr uint64, n int) *fakeRegion {
	for _, r := range m.regions {
		if r.Contains(addr, n) {
			return r
		}
	}
	return nil
}

func (m *fakeMem) Pid() int { return m.pid }

func (m *fakeMem) ReadMemory(buf []byte, addr uint64) (int, error) {
	if m.onRead != nil {
		m.onRead(addr)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return 0, proc.ErrProcessExited{Pid: m.pid}
	}
	if m.detached {
		return 0, proc.ProcessDetachedError{}
	}
	r := m.find(addr, len(buf))
	if r == nil {
		return 0, fmt.Errorf("read at %#x: unmapped", addr)
	}
	copy(buf, r.data[addr-r.Addr:])
	return len(buf), nil
}

func (m *fakeMem) WriteMemory(addr uint64, data []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return 0, proc.ErrProcessExited{Pid: m.pid}
	}
	if m.detached {
		return 0, proc.ProcessDetachedError{}
	}
	r := m.find(addr, len(data))
	if r == nil || !r.Write {
		return 0, proc.ErrUnwritable
	}
	copy(r.data[addr-r.Addr:], data)
	return len(data), nil
}

func (m *fakeMem) Regions() ([]proc.MemoryRegion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return nil, proc.ErrProcessExited{Pid: m.pid}
	}
	out := make([]proc.MemoryRegion, len(m.regions))
	for i, r := range m.regions {
		out[i] = r.MemoryRegion
	}
	return out, nil
}

func (m *fakeMem) Valid() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detached {
		return false, proc.ProcessDetachedError{}
	}
	if m.exited {
		return false, proc.ErrProcessExited{Pid: m.pid}
	}
	return true, nil
}

func (m *fakeMem) Detach() error {
	m.mu.Lock()
	m.detached = true
	m.mu.Unlock()
	return nil
}

func TestFirstScanExact(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())
	mem.poke(r, 0x40, Int32Value(100).Bytes())
	mem.poke(r, 0x80, Int32Value(77).Bytes())

	s := NewSession(mem, Config{})
	count, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")
	if count != 2 {
		t.Fatalf("found %d candidates, expected 2", count)
	}
	cands := s.Candidates()
	if cands[0].Addr != 0x1010 || cands[1].Addr != 0x1040 {
		t.Errorf("candidates at %#x and %#x, expected 0x1010 and 0x1040", cands[0].Addr, cands[1].Addr)
	}
	for _, c := range cands {
		if !c.Writable {
			t.Errorf("candidate %#x not marked writable", c.Addr)
		}
	}
	if s.State() != HasResults {
		t.Errorf("state is %v after a first scan", s.State())
	}
}

func TestFirstScanAcrossChunkBoundary(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x40, true, true, false)
	// With a 16-byte chunk a value at offset 14 straddles the first
	// chunk boundary.
	mem.poke(r, 14, Int32Value(31337).Bytes())

	s := NewSession(mem, Config{ChunkSize: 16})
	count, err := s.FirstScan(Int32Value(31337))
	assertNoError(err, t, "FirstScan")
	if count != 1 {
		t.Fatalf("found %d candidates, expected 1", count)
	}
	if addr := s.Candidates()[0].Addr; addr != 0x100e {
		t.Errorf("candidate at %#x, expected 0x100e", addr)
	}
}

func TestFirstScanReplacesPreviousResults(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())
	mem.poke(r, 0x40, Int32Value(200).Bytes())

	s := NewSession(mem, Config{})
	_, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "first FirstScan")
	count, err := s.FirstScan(Int32Value(200))
	assertNoError(err, t, "second FirstScan")
	if count != 1 || s.Candidates()[0].Addr != 0x1040 {
		t.Errorf("second scan did not replace the candidate set: %v", s.Candidates())
	}
}

func TestNextScanNarrows(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())
	mem.poke(r, 0x40, Int32Value(100).Bytes())
	mem.poke(r, 0x80, Int32Value(100).Bytes())

	s := NewSession(mem, Config{})
	count, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")
	if count != 3 {
		t.Fatalf("found %d candidates, expected 3", count)
	}

	// Only the real counter moves from 100 to 150.
	mem.poke(r, 0x40, Int32Value(150).Bytes())
	count, err = s.NextScan(CompareIncreased, nil)
	assertNoError(err, t, "NextScan increased")
	if count != 1 {
		t.Fatalf("increased kept %d candidates, expected 1", count)
	}

	target := Int32Value(150)
	count, err = s.NextScan(CompareExact, &target)
	assertNoError(err, t, "NextScan exact")
	if count != 1 || s.Candidates()[0].Addr != 0x1040 {
		t.Fatalf("exact(150) kept %v", s.Candidates())
	}
	if got := s.Candidates()[0].Value.Int(); got != 150 {
		t.Errorf("kept candidate holds %d, expected the refreshed 150", got)
	}

	// A scan that matches nothing empties the set but stays usable.
	miss := Int32Value(999)
	count, err = s.NextScan(CompareExact, &miss)
	assertNoError(err, t, "NextScan exact miss")
	if count != 0 {
		t.Errorf("exact(999) kept %d candidates", count)
	}
	if s.State() != HasResults {
		t.Errorf("state is %v after an empty next scan", s.State())
	}
}

func TestNextScanDropsUnmapped(t *testing.T) {
	mem := newFakeMem()
	r1 := mem.addRegion(0x1000, 0x100, true, true, false)
	r2 := mem.addRegion(0x9000, 0x100, true, true, false)
	mem.poke(r1, 0x10, Int32Value(500).Bytes())
	mem.poke(r2, 0x20, Int32Value(500).Bytes())

	s := NewSession(mem, Config{})
	count, err := s.FirstScan(Int32Value(500))
	assertNoError(err, t, "FirstScan")
	if count != 2 {
		t.Fatalf("found %d candidates, expected 2", count)
	}

	// The second mapping disappears before the next scan.
	mem.removeRegion(r2)
	count, err = s.NextScan(CompareUnchanged, nil)
	assertNoError(err, t, "NextScan")
	if count != 1 || s.Candidates()[0].Addr != 0x1010 {
		t.Fatalf("next scan kept %v", s.Candidates())
	}
	if dropped := s.Stats().CandidatesDropped; dropped != 1 {
		t.Errorf("CandidatesDropped = %d, expected 1", dropped)
	}
}

func TestCancelKeepsPartialResults(t *testing.T) {
	mem := newFakeMem()
	regions := []*fakeRegion{
		mem.addRegion(0x1000, 0x100, true, true, false),
		mem.addRegion(0x2000, 0x100, true, true, false),
		mem.addRegion(0x3000, 0x100, true, true, false),
	}
	for _, r := range regions {
		mem.poke(r, 0x10, Int32Value(600).Bytes())
	}

	s := NewSession(mem, Config{Workers: 1})
	// One worker visits regions in order; cancelling as the second
	// region's read starts leaves exactly the first fully processed.
	mem.onRead = func(addr uint64) {
		if addr == 0x2000 {
			s.CancelScan()
		}
	}
	count, err := s.FirstScan(Int32Value(600))
	assertNoError(err, t, "FirstScan")
	if count < 1 || count >= 3 {
		t.Fatalf("cancelled scan returned %d candidates, expected a partial set", count)
	}
	completed, total := s.Progress()
	if completed != 1 || total != 3 {
		t.Errorf("progress after cancel = (%d,%d), expected (1,3)", completed, total)
	}
	if s.State() != HasResults {
		t.Errorf("state is %v after a cancelled scan", s.State())
	}
}

func TestProcessExitMidScanDetaches(t *testing.T) {
	mem := newFakeMem()
	r1 := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.addRegion(0x2000, 0x100, true, true, false)
	mem.poke(r1, 0x10, Int32Value(700).Bytes())

	s := NewSession(mem, Config{Workers: 1})
	mem.onRead = func(addr uint64) {
		if addr == 0x2000 {
			mem.mu.Lock()
			mem.exited = true
			mem.mu.Unlock()
		}
	}
	count, err := s.FirstScan(Int32Value(700))
	var exited proc.ErrProcessExited
	if !errors.As(err, &exited) {
		t.Fatalf("FirstScan returned %v, expected ErrProcessExited", err)
	}
	if count != 1 {
		t.Errorf("partial result count = %d, expected 1", count)
	}
	if s.State() != Detached {
		t.Errorf("state is %v, expected detached", s.State())
	}
	// The partial candidates stay inspectable but no new scan may run.
	if len(s.Candidates()) != 1 {
		t.Errorf("candidates after exit: %v", s.Candidates())
	}
	if _, err := s.FirstScan(Int32Value(700)); !errors.Is(err, ErrDetached) {
		t.Errorf("FirstScan after exit returned %v, expected ErrDetached", err)
	}
}

func TestRegionPolicy(t *testing.T) {
	mem := newFakeMem()
	rw := mem.addRegion(0x1000, 0x100, true, true, false)
	ro := mem.addRegion(0x2000, 0x100, true, false, false)
	mem.poke(rw, 0x10, Int32Value(800).Bytes())
	mem.poke(ro, 0x10, Int32Value(800).Bytes())

	s := NewSession(mem, Config{})
	count, err := s.FirstScan(Int32Value(800))
	assertNoError(err, t, "FirstScan writable-only")
	if count != 1 || s.Candidates()[0].Addr != 0x1010 {
		t.Fatalf("writable-only scan found %v", s.Candidates())
	}

	s.Reset()
	assertNoError(s.SetScanType(Int32Type(), proc.ReadableOrWritable), t, "SetScanType")
	count, err = s.FirstScan(Int32Value(800))
	assertNoError(err, t, "FirstScan readable")
	if count != 2 {
		t.Fatalf("readable scan found %d candidates, expected 2", count)
	}
	for _, c := range s.Candidates() {
		want := c.Addr < 0x2000
		if c.Writable != want {
			t.Errorf("candidate %#x writable=%v", c.Addr, c.Writable)
		}
	}
}

func TestStringPrefixScan(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x20, []byte("flag{test}"))

	s := NewSession(mem, Config{})
	assertNoError(s.SetScanType(StringType(10), proc.WritableOnly), t, "SetScanType")

	target, err := ParseValue(StringType(10), "flag{")
	assertNoError(err, t, "ParseValue")
	count, err := s.FirstScan(target)
	assertNoError(err, t, "FirstScan")
	if count != 1 {
		t.Fatalf("found %d candidates, expected 1", count)
	}
	c := s.Candidates()[0]
	if c.Addr != 0x1020 {
		t.Errorf("candidate at %#x, expected 0x1020", c.Addr)
	}
	// The candidate's value is the whole window, not just the pattern.
	if got := c.Value.String(); got != `"flag{test}"` {
		t.Errorf("window value is %s", got)
	}

	if _, err := s.NextScan(CompareIncreased, nil); !errors.Is(err, ErrUnsupportedComparison) {
		t.Errorf("increased on str returned %v, expected ErrUnsupportedComparison", err)
	}
}

func TestRefreshKeepsEverything(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())
	mem.poke(r, 0x40, Int32Value(100).Bytes())

	s := NewSession(mem, Config{})
	_, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")

	mem.poke(r, 0x40, Int32Value(123).Bytes())
	count, err := s.Refresh()
	assertNoError(err, t, "Refresh")
	if count != 2 {
		t.Fatalf("refresh kept %d candidates, expected 2", count)
	}
	if got := s.Candidates()[1].Value.Int(); got != 123 {
		t.Errorf("refreshed value is %d, expected 123", got)
	}
}

func TestSessionUsageErrors(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())

	s := NewSession(mem, Config{})
	if _, err := s.NextScan(CompareChanged, nil); !errors.Is(err, ErrNoResults) {
		t.Errorf("NextScan while idle returned %v, expected ErrNoResults", err)
	}
	if _, err := s.Refresh(); !errors.Is(err, ErrNoResults) {
		t.Errorf("Refresh while idle returned %v, expected ErrNoResults", err)
	}
	if err := s.SetScanType(ValueType{Kind: StringPrefix}, proc.WritableOnly); err == nil {
		t.Error("zero-window string type accepted")
	}
	if _, err := s.FirstScan(Int64Value(100)); err == nil {
		t.Error("first scan with a mismatched target type accepted")
	}

	_, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")
	if _, err := s.NextScan(CompareExact, nil); !errors.Is(err, ErrNeedTarget) {
		t.Errorf("exact without target returned %v, expected ErrNeedTarget", err)
	}
	wrong := Int64Value(100)
	if _, err := s.NextScan(CompareExact, &wrong); err == nil {
		t.Error("next scan with a mismatched target type accepted")
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())

	s := NewSession(mem, Config{})
	_, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")

	s.Reset()
	if s.State() != Idle {
		t.Errorf("state is %v after reset", s.State())
	}
	if len(s.Candidates()) != 0 {
		t.Errorf("candidates survived reset: %v", s.Candidates())
	}
	if _, err := s.NextScan(CompareChanged, nil); !errors.Is(err, ErrNoResults) {
		t.Errorf("NextScan after reset returned %v, expected ErrNoResults", err)
	}
}

func TestDetachTerminal(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())

	s := NewSession(mem, Config{})
	_, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")
	assertNoError(s.Detach(), t, "Detach")

	if s.State() != Detached {
		t.Errorf("state is %v after detach", s.State())
	}
	if len(s.Candidates()) != 1 {
		t.Errorf("candidates gone after detach: %v", s.Candidates())
	}
	if _, err := s.FirstScan(Int32Value(100)); !errors.Is(err, ErrDetached) {
		t.Errorf("FirstScan after detach returned %v, expected ErrDetached", err)
	}
	if err := s.SetScanType(Int64Type(), proc.WritableOnly); !errors.Is(err, ErrDetached) {
		t.Errorf("SetScanType after detach returned %v, expected ErrDetached", err)
	}
	// Reset must not resurrect a detached session.
	s.Reset()
	if s.State() != Detached {
		t.Errorf("reset moved a detached session to %v", s.State())
	}
}

func TestDetachDuringScanStaysDetached(t *testing.T) {
	mem := newFakeMem()
	r1 := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.addRegion(0x2000, 0x100, true, true, false)
	mem.poke(r1, 0x10, Int32Value(900).Bytes())

	s := NewSession(mem, Config{Workers: 1})
	// Detach lands while the scan is between regions; the pass outlives
	// it and must not be allowed to resurrect the session.
	mem.onRead = func(addr uint64) {
		if addr == 0x2000 {
			if err := s.Detach(); err != nil {
				t.Errorf("Detach: %v", err)
			}
		}
	}
	if _, err := s.FirstScan(Int32Value(900)); !errors.Is(err, ErrDetached) {
		t.Fatalf("FirstScan returned %v, expected ErrDetached", err)
	}
	if s.State() != Detached {
		t.Errorf("state is %v after a detach raced the scan, expected detached", s.State())
	}
	// The racing pass's results are discarded, not committed.
	if len(s.Candidates()) != 0 {
		t.Errorf("candidates after detach: %v", s.Candidates())
	}
	if _, err := s.NextScan(CompareChanged, nil); !errors.Is(err, ErrDetached) {
		t.Errorf("NextScan after detach returned %v, expected ErrDetached", err)
	}
}

func TestCancelNextScanKeepsTail(t *testing.T) {
	mem := newFakeMem()
	r1 := mem.addRegion(0x1000, 0x100, true, true, false)
	r2 := mem.addRegion(0x2000, 0x100, true, true, false)
	r3 := mem.addRegion(0x3000, 0x100, true, true, false)
	for _, r := range []*fakeRegion{r1, r2, r3} {
		mem.poke(r, 0x10, Int32Value(100).Bytes())
	}

	s := NewSession(mem, Config{})
	count, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")
	if count != 3 {
		t.Fatalf("found %d candidates, expected 3", count)
	}

	// The first candidate now fails the filter; the cancel lands while
	// the second is being re-read, so the third is never evaluated.
	mem.poke(r1, 0x10, Int32Value(999).Bytes())
	mem.onRead = func(addr uint64) {
		if addr >= 0x2000 && addr < 0x3000 {
			s.CancelScan()
		}
	}
	count, err = s.NextScan(CompareUnchanged, nil)
	assertNoError(err, t, "NextScan")
	if count != 2 {
		t.Fatalf("cancelled next scan kept %d candidates, expected 2", count)
	}
	cands := s.Candidates()
	if cands[0].Addr != 0x2010 || cands[1].Addr != 0x3010 {
		t.Fatalf("cancelled next scan kept %v", cands)
	}
	completed, total := s.Progress()
	if completed != 2 || total != 3 {
		t.Errorf("progress after cancel = (%d,%d), expected (2,3)", completed, total)
	}

	// Rerunning the scan evaluates the retained tail.
	mem.onRead = nil
	count, err = s.NextScan(CompareUnchanged, nil)
	assertNoError(err, t, "NextScan rerun")
	if count != 2 {
		t.Errorf("rerun kept %d candidates, expected 2", count)
	}
}

func TestWatchPollEdit(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(55).Bytes())

	s := NewSession(mem, Config{})
	entry, err := s.Watch(0x1010, Int32Type())
	assertNoError(err, t, "Watch")
	if !entry.Writable || entry.LastValue.Int() != 55 {
		t.Fatalf("watch entry = %+v", entry)
	}

	mem.poke(r, 0x10, Int32Value(56).Bytes())
	v, err := s.Poll(entry)
	assertNoError(err, t, "Poll")
	if v.Int() != 56 || entry.LastValue.Int() != 56 {
		t.Errorf("poll saw %d, entry holds %d", v.Int(), entry.LastValue.Int())
	}

	assertNoError(s.Edit(entry, Int32Value(999)), t, "Edit")
	v, err = s.Poll(entry)
	assertNoError(err, t, "Poll after edit")
	if v.Int() != 999 {
		t.Errorf("edited value reads back as %d", v.Int())
	}

	if err := s.Edit(entry, Int64Value(1)); err == nil {
		t.Error("edit with a mismatched value type accepted")
	}
}

func TestEditReadOnly(t *testing.T) {
	mem := newFakeMem()
	ro := mem.addRegion(0x2000, 0x100, true, false, false)
	mem.poke(ro, 0x10, Int32Value(55).Bytes())

	s := NewSession(mem, Config{})
	entry, err := s.Watch(0x2010, Int32Type())
	assertNoError(err, t, "Watch")
	if entry.Writable {
		t.Fatal("entry in a read-only region marked writable")
	}
	if err := s.Edit(entry, Int32Value(1)); !errors.Is(err, ErrReadOnly) {
		t.Errorf("edit of a read-only entry returned %v, expected ErrReadOnly", err)
	}
}

func TestWatchUnmapped(t *testing.T) {
	mem := newFakeMem()
	mem.addRegion(0x1000, 0x100, true, true, false)

	s := NewSession(mem, Config{})
	if _, err := s.Watch(0x5000, Int32Type()); err == nil {
		t.Error("watch of an unmapped address accepted")
	}
	// An address too close to the region end for a full value is
	// outside the mapping as far as typed reads are concerned.
	if _, err := s.Watch(0x10fe, Int32Type()); err == nil {
		t.Error("watch straddling the region end accepted")
	}
}

func TestWatchSurvivesCandidateDrop(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())

	s := NewSession(mem, Config{})
	_, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")
	entry, err := s.Watch(0x1010, Int32Type())
	assertNoError(err, t, "Watch")

	// The candidate is filtered out; the watch keeps working.
	miss := Int32Value(999)
	_, err = s.NextScan(CompareExact, &miss)
	assertNoError(err, t, "NextScan")
	if len(s.Candidates()) != 0 {
		t.Fatalf("candidates not emptied: %v", s.Candidates())
	}
	v, err := s.Poll(entry)
	assertNoError(err, t, "Poll")
	if v.Int() != 100 {
		t.Errorf("watch reads %d after candidate drop", v.Int())
	}
}

func TestProgressNextScan(t *testing.T) {
	mem := newFakeMem()
	r := mem.addRegion(0x1000, 0x100, true, true, false)
	mem.poke(r, 0x10, Int32Value(100).Bytes())
	mem.poke(r, 0x40, Int32Value(100).Bytes())

	s := NewSession(mem, Config{})
	_, err := s.FirstScan(Int32Value(100))
	assertNoError(err, t, "FirstScan")
	_, err = s.NextScan(CompareUnchanged, nil)
	assertNoError(err, t, "NextScan")
	completed, total := s.Progress()
	if completed != 2 || total != 2 {
		t.Errorf("progress after next scan = (%d,%d), expected (2,2)", completed, total)
	}
}
