// Package scan implements the iterative memory scanning engine: typed
// value matching over a target's address space, the candidate set that
// successive scans narrow, and the watch service used to observe and
// edit the survivors.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/memsift/memsift/pkg/logflags"
	"github.com/memsift/memsift/pkg/proc"
)

// State is the scan session's lifecycle state.
type State int

const (
	// Idle: no candidates; a first scan may start.
	Idle State = iota
	// ScanningFirst: a first scan is streaming the address space.
	ScanningFirst
	// ScanningNext: a next scan is filtering the candidate set.
	ScanningNext
	// HasResults: a candidate set exists; next scans may run.
	HasResults
	// Detached: the target exited or the caller detached. Candidates
	// remain inspectable; scans and edits are refused. Terminal.
	Detached
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ScanningFirst:
		return "scanning (first)"
	case ScanningNext:
		return "scanning (next)"
	case HasResults:
		return "has results"
	case Detached:
		return "detached"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrScanInProgress is returned for operations that are only legal
	// while no scan is running.
	ErrScanInProgress = errors.New("a scan is already in progress")

	// ErrNoResults is returned by NextScan before any first scan ran.
	ErrNoResults = errors.New("no candidate set; run a first scan first")

	// ErrDetached is returned for scans and edits after the session
	// reached the Detached state.
	ErrDetached = errors.New("session is detached from its target")

	// ErrNeedTarget is returned when an exact comparison is requested
	// without a target value.
	ErrNeedTarget = errors.New("exact comparison needs a target value")
)

// ScanStats summarizes the failures a pass absorbed instead of
// aborting on. Nothing is silently swallowed: every skipped region and
// dropped candidate is reflected here.
type ScanStats struct {
	RegionsSkipped    int
	CandidatesDropped int
}

// Session drives first/next scans against one attached target process
// and owns the candidate set in between. It is an explicit value owned
// by the caller; there is no process-wide current session.
//
// The accessor handle is lent to scans, watches and edits for the
// duration of single calls only, so all three can proceed concurrently.
// A Session's methods are safe for concurrent use.
type Session struct {
	mem proc.ProcessMemory
	log logflags.Logger

	chunkSize int
	workers   int

	mu        sync.Mutex
	state     State
	valueType ValueType
	policy    proc.RegionPolicy
	store     *candidateStore
	stats     ScanStats
	gen       uint64 // bumped by Reset to orphan in-flight scans
	cancel    context.CancelFunc

	// lastPass records which kind of pass the progress counters below
	// belong to. Guarded by mu.
	lastPass State

	// progress counters, written by scan workers and read by Progress
	// from other goroutines.
	regionsDone     atomic.Int64
	regionsTotal    atomic.Int64
	candidatesDone  atomic.Int64
	candidatesTotal atomic.Int64
}

// Config adjusts a Session's resource envelope.
type Config struct {
	// ChunkSize bounds the size of a single region read during first
	// scans. Defaults to DefaultChunkSize.
	ChunkSize int
	// Workers bounds how many regions are scanned concurrently during
	// a first scan. Defaults to 1, which also makes progress reporting
	// follow region order exactly.
	Workers int
}

// NewSession returns a session for the given attached target, starting
// Idle with an int32 value type and the writable-only region policy.
func NewSession(mem proc.ProcessMemory, cfg Config) *Session {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Session{
		mem:       mem,
		log:       logflags.ScannerLogger(),
		chunkSize: cfg.ChunkSize,
		workers:   cfg.Workers,
		state:     Idle,
		valueType: Int32Type(),
		policy:    proc.WritableOnly,
		store:     newCandidateStore(),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ValueType returns the active value type.
func (s *Session) ValueType() ValueType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valueType
}

// Policy returns the active region policy.
func (s *Session) Policy() proc.RegionPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetScanType sets the value type and region policy for subsequent
// first scans. Switching mid-scan is a usage error; switching is only
// allowed from Idle or HasResults, before the next first scan.
func (s *Session) SetScanType(t ValueType, policy proc.RegionPolicy) error {
	if t.Size() <= 0 {
		return fmt.Errorf("invalid value type %v", t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Idle, HasResults:
		s.valueType = t
		s.policy = policy
		return nil
	case ScanningFirst, ScanningNext:
		return ErrScanInProgress
	case Detached:
		return ErrDetached
	}
	return nil
}

// FirstScan builds a brand-new candidate set holding every address in
// the selected regions whose value equals target exactly. Any previous
// candidate set is replaced. The call blocks until the scan finishes,
// fails, or is cancelled via CancelScan; progress is readable
// concurrently through Progress.
//
// If the target process exits mid-scan the candidates gathered so far
// are committed, the session detaches, and the exit error is returned
// alongside the partial count.
func (s *Session) FirstScan(target Value) (int, error) {
	s.mu.Lock()
	if s.state == Detached {
		s.mu.Unlock()
		return 0, ErrDetached
	}
	if s.state == ScanningFirst || s.state == ScanningNext {
		s.mu.Unlock()
		return 0, ErrScanInProgress
	}
	if target.Type() != s.valueType {
		s.mu.Unlock()
		return 0, fmt.Errorf("target is %v but the session scans %v", target.Type(), s.valueType)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = ScanningFirst
	s.lastPass = ScanningFirst
	gen := s.gen
	policy := s.policy
	s.regionsDone.Store(0)
	s.regionsTotal.Store(0)
	s.mu.Unlock()
	defer cancel()

	regions, err := s.mem.Regions()
	if err != nil {
		return 0, s.commit(gen, nil, ScanStats{}, err)
	}
	selected := proc.SelectRegions(regions, policy)
	s.regionsTotal.Store(int64(len(selected)))
	s.log.Debugf("first scan: %d of %d regions selected (%v)", len(selected), len(regions), policy)

	cands, skipped, fatal := s.firstScanPass(ctx, selected, target)
	err = s.commit(gen, cands, ScanStats{RegionsSkipped: skipped}, fatal)
	s.log.Debugf("first scan: %d candidates, %d regions skipped", len(cands), skipped)
	return len(cands), err
}

// NextScan re-reads every candidate and keeps the ones whose fresh
// value satisfies op. target is required for CompareExact and ignored
// otherwise. The candidate set never grows: candidates that fail the
// comparison, or whose address has become unreadable, are dropped.
func (s *Session) NextScan(op CompareOp, target *Value) (int, error) {
	s.mu.Lock()
	switch s.state {
	case Detached:
		s.mu.Unlock()
		return 0, ErrDetached
	case ScanningFirst, ScanningNext:
		s.mu.Unlock()
		return 0, ErrScanInProgress
	case Idle:
		s.mu.Unlock()
		return 0, ErrNoResults
	}
	if err := op.check(s.valueType); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	var tgt Value
	if op.needsTarget() {
		if target == nil {
			s.mu.Unlock()
			return 0, ErrNeedTarget
		}
		if target.Type() != s.valueType {
			s.mu.Unlock()
			return 0, fmt.Errorf("target is %v but the session scans %v", target.Type(), s.valueType)
		}
		tgt = *target
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = ScanningNext
	s.lastPass = ScanningNext
	gen := s.gen
	cands := s.store.snapshot()
	s.candidatesDone.Store(0)
	s.candidatesTotal.Store(int64(len(cands)))
	s.mu.Unlock()
	defer cancel()

	kept, dropped, fatal := s.nextScanPass(ctx, cands, op, tgt)
	err := s.commit(gen, kept, ScanStats{CandidatesDropped: dropped}, fatal)
	s.log.Debugf("next scan (%v): %d of %d candidates kept, %d dropped unreadable", op, len(kept), len(cands), dropped)
	return len(kept), err
}

// Refresh re-reads every candidate's current value without filtering,
// dropping only candidates whose address is gone. Intended for the
// caller's periodic display update.
func (s *Session) Refresh() (int, error) {
	s.mu.Lock()
	switch s.state {
	case Detached:
		s.mu.Unlock()
		return 0, ErrDetached
	case ScanningFirst, ScanningNext:
		s.mu.Unlock()
		return 0, ErrScanInProgress
	case Idle:
		s.mu.Unlock()
		return 0, ErrNoResults
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = ScanningNext
	s.lastPass = ScanningNext
	gen := s.gen
	cands := s.store.snapshot()
	s.candidatesDone.Store(0)
	s.candidatesTotal.Store(int64(len(cands)))
	s.mu.Unlock()
	defer cancel()

	kept, dropped, fatal := s.refreshPass(ctx, cands)
	err := s.commit(gen, kept, ScanStats{CandidatesDropped: dropped}, fatal)
	return len(kept), err
}

// commit installs a pass's results under the state lock. A Reset that
// happened while the pass ran orphans it: the results are discarded and
// the session stays wherever Reset put it. Detached is terminal, so a
// Detach that raced the pass likewise discards its results; the
// candidate set from before the scan stays inspectable.
func (s *Session) commit(gen uint64, cands []Candidate, stats ScanStats, fatal error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil
	}
	s.cancel = nil
	if s.state == Detached {
		return ErrDetached
	}
	s.store.replace(cands)
	s.stats = stats

	var exited proc.ErrProcessExited
	switch {
	case fatal == nil:
		s.state = HasResults
		return nil
	case errors.As(fatal, &exited), errors.As(fatal, &proc.ProcessDetachedError{}):
		// Keep what was gathered; the session is over but the
		// candidates stay inspectable.
		s.state = Detached
		return fatal
	default:
		s.state = Detached
		return fatal
	}
}

// CancelScan asks an in-progress scan to stop. A cancelled first scan
// returns the candidates gathered so far; a cancelled next scan or
// refresh keeps the candidates it had not yet evaluated, so rerunning
// the scan picks up where it stopped. Cancelling when no scan is
// running is a no-op.
func (s *Session) CancelScan() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Progress reports how far the current (or last) scan has come: regions
// completed out of total for first scans, candidates processed out of
// total for next scans.
func (s *Session) Progress() (completed, total int) {
	s.mu.Lock()
	lastPass := s.lastPass
	s.mu.Unlock()
	if lastPass == ScanningNext {
		return int(s.candidatesDone.Load()), int(s.candidatesTotal.Load())
	}
	return int(s.regionsDone.Load()), int(s.regionsTotal.Load())
}

// Stats returns the failure counters of the last completed pass.
func (s *Session) Stats() ScanStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Candidates returns an ordered snapshot of the current candidate set.
func (s *Session) Candidates() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.snapshot()
}

// Reset discards the candidate set and returns the session to Idle. An
// in-flight scan is cancelled and its results are discarded when it
// finishes. A detached session stays detached: the target is gone
// either way.
func (s *Session) Reset() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.gen++
	s.store = newCandidateStore()
	s.stats = ScanStats{}
	if s.state != Detached {
		s.state = Idle
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Regions enumerates the target's current memory map, for diagnostics.
func (s *Session) Regions() ([]proc.MemoryRegion, error) {
	return s.mem.Regions()
}

// Pid returns the target's process ID.
func (s *Session) Pid() int {
	return s.mem.Pid()
}

// Detach cancels any in-flight scan, releases the accessor handle, and
// moves the session to the terminal Detached state. Candidates from
// before the scan remain available for inspection; the results of a
// scan still in flight are discarded when it finishes.
func (s *Session) Detach() error {
	s.CancelScan()
	s.mu.Lock()
	s.state = Detached
	s.mu.Unlock()
	return s.mem.Detach()
}
