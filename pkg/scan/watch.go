package scan

import (
	"errors"
	"fmt"

	"github.com/memsift/memsift/pkg/logflags"
	"github.com/memsift/memsift/pkg/proc"
)

// ErrReadOnly is returned by Edit for entries created from a region
// without write permission. It is reported, never silently ignored:
// the caller chose the readable-or-writable policy and gets told which
// of its candidates cannot be changed.
var ErrReadOnly = errors.New("address is in a read-only region")

// WatchEntry is one address observed outside the scan pipeline. The
// watch service is passive: the caller drives Poll on whatever cadence
// its display wants. An entry is independent of the candidate set; an
// address that a next scan dropped can still be watched.
type WatchEntry struct {
	Addr     uint64
	Type     ValueType
	Writable bool

	// LastValue is the most recent successfully polled value.
	LastValue Value
}

// Watch creates a watch entry for addr, deriving its writability from
// the region the first read goes through and recording the current
// value.
func (s *Session) Watch(addr uint64, t ValueType) (*WatchEntry, error) {
	if t.Size() <= 0 {
		return nil, fmt.Errorf("invalid value type %v", t)
	}
	regions, err := s.mem.Regions()
	if err != nil {
		return nil, err
	}
	var within *proc.MemoryRegion
	for i := range regions {
		if regions[i].Contains(addr, t.Size()) {
			within = &regions[i]
			break
		}
	}
	if within == nil {
		return nil, fmt.Errorf("%#x is not inside any mapped region", addr)
	}

	buf := make([]byte, t.Size())
	if _, err := s.mem.ReadMemory(buf, addr); err != nil {
		return nil, err
	}
	val, err := t.Decode(buf)
	if err != nil {
		return nil, err
	}
	logflags.WatchLogger().Debugf("watching %#x (%v, writable=%v)", addr, t, within.Write)
	return &WatchEntry{
		Addr:      addr,
		Type:      t,
		Writable:  within.Write,
		LastValue: val,
	}, nil
}

// Poll re-reads the entry's address and updates LastValue. A poll of an
// address that has become unmapped fails fast; there is nothing
// long-running to cancel.
func (s *Session) Poll(e *WatchEntry) (Value, error) {
	buf := make([]byte, e.Type.Size())
	if _, err := s.mem.ReadMemory(buf, e.Addr); err != nil {
		return Value{}, err
	}
	val, err := e.Type.Decode(buf)
	if err != nil {
		return Value{}, err
	}
	e.LastValue = val
	return val, nil
}

// Edit writes v at the entry's address. The entry's writable flag is
// validated before the kernel is asked; entries from read-only regions
// fail with ErrReadOnly. A write that fails because the address became
// unmapped surfaces as proc.ErrUnwritable.
func (s *Session) Edit(e *WatchEntry, v Value) error {
	s.mu.Lock()
	detached := s.state == Detached
	s.mu.Unlock()
	if detached {
		return ErrDetached
	}
	if v.Type() != e.Type {
		return fmt.Errorf("value is %v but the watch is %v", v.Type(), e.Type)
	}
	if !e.Writable {
		return ErrReadOnly
	}
	if _, err := s.mem.WriteMemory(e.Addr, v.Bytes()); err != nil {
		return err
	}
	e.LastValue = v
	return nil
}
