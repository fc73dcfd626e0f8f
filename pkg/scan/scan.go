package scan

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/memsift/memsift/pkg/proc"
)

// DefaultChunkSize is the size of the reads a first scan streams a
// region through. Peak memory of a scan is bounded by chunk size times
// worker count, independent of how large the target's regions are.
const DefaultChunkSize = 0x10000

// regionResult carries one region's matches from a scan worker back to
// the collector.
type regionResult struct {
	idx     int
	cands   []Candidate
	skipped bool
}

// fatalScanError reports whether err must abort the whole pass instead
// of just the address that produced it.
func fatalScanError(err error) bool {
	if err == nil {
		return false
	}
	var exited proc.ErrProcessExited
	return errors.As(err, &exited) ||
		errors.As(err, &proc.ProcessDetachedError{}) ||
		errors.Is(err, proc.ErrPermissionDenied)
}

// scanRegion streams one region through mem in chunks of at most
// chunkSize bytes and collects a candidate at every offset holding the
// target value. Successive chunks overlap by size-1 bytes so a value
// straddling a chunk boundary is still found. Returns the candidates
// gathered so far when ctx is cancelled mid-region.
func (s *Session) scanRegion(ctx context.Context, region proc.MemoryRegion, target Value, chunkSize int) (cands []Candidate, skipped bool, fatal error) {
	size := target.Type().Size()
	buf := make([]byte, chunkSize)

	for base := region.Addr; base < region.End(); {
		select {
		case <-ctx.Done():
			return cands, skipped, nil
		default:
		}

		toRead := chunkSize
		if rest := region.End() - base; rest < uint64(toRead) {
			toRead = int(rest)
		}
		if toRead < size {
			break
		}

		chunk := buf[:toRead]
		if _, err := s.mem.ReadMemory(chunk, base); err != nil {
			if fatalScanError(err) {
				return cands, skipped, err
			}
			// Unreadable chunk: absorbed, counted, never fatal.
			if !skipped {
				skipped = true
				s.log.Debugf("skipping unreadable region %s: %v", region, err)
			}
			base += uint64(toRead)
			continue
		}

		for i := 0; i+size <= toRead; i++ {
			cur, err := target.Type().Decode(chunk[i : i+size])
			if err != nil {
				continue
			}
			if matchTarget(target, cur) {
				cands = append(cands, Candidate{
					Addr:     base + uint64(i),
					Value:    cur,
					Writable: region.Write,
				})
			}
		}

		base += uint64(toRead - (size - 1))
	}
	return cands, skipped, nil
}

// firstScanPass scans every selected region, fanning out over an
// errgroup bounded by the configured worker count. Results flow back
// over a channel and are committed in region order, so candidate order
// is stable whatever the parallelism. A fatal error cancels the
// remaining workers but the candidates gathered so far are still
// returned.
func (s *Session) firstScanPass(ctx context.Context, regions []proc.MemoryRegion, target Value) ([]Candidate, int, error) {
	results := make([]regionResult, len(regions))
	resCh := make(chan regionResult)

	collectorDone := make(chan struct{})
	go func() {
		for rr := range resCh {
			results[rr.idx] = rr
		}
		close(collectorDone)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range regions {
		i := i
		region := regions[i]
		g.Go(func() error {
			cands, skipped, fatal := s.scanRegion(gctx, region, target, s.chunkSize)
			resCh <- regionResult{idx: i, cands: cands, skipped: skipped}
			if fatal != nil {
				return fatal
			}
			if gctx.Err() == nil {
				s.regionsDone.Add(1)
			}
			return nil
		})
	}
	fatal := g.Wait()
	close(resCh)
	<-collectorDone

	var (
		cands   []Candidate
		skipped int
	)
	for _, rr := range results {
		cands = append(cands, rr.cands...)
		if rr.skipped {
			skipped++
		}
	}
	return cands, skipped, fatal
}

// nextScanPass re-reads every candidate and keeps the ones satisfying
// op. Candidates whose re-read fails are dropped: an address that is no
// longer mapped must never survive a scan as a stale entry. On
// cancellation the candidates not yet evaluated are kept unchanged, so
// an interrupted pass can be rerun instead of losing the tail of the
// set.
func (s *Session) nextScanPass(ctx context.Context, cands []Candidate, op CompareOp, target Value) (kept []Candidate, dropped int, fatal error) {
	cache := newBlockCache(s.mem)
	kept = make([]Candidate, 0, len(cands))

	for i, c := range cands {
		select {
		case <-ctx.Done():
			return append(kept, cands[i:]...), dropped, nil
		default:
		}

		size := c.Value.Type().Size()
		buf := make([]byte, size)
		if err := cache.read(buf, c.Addr); err != nil {
			if fatalScanError(err) {
				return kept, dropped, err
			}
			dropped++
			s.candidatesDone.Add(1)
			continue
		}
		cur, err := c.Value.Type().Decode(buf)
		if err != nil {
			dropped++
			s.candidatesDone.Add(1)
			continue
		}
		if op.eval(c.Value, cur, target) {
			c.Value = cur
			kept = append(kept, c)
		}
		s.candidatesDone.Add(1)
	}
	return kept, dropped, nil
}

// refreshPass re-reads every candidate without filtering, dropping only
// the ones whose address has become unreadable. As in nextScanPass,
// cancellation keeps the unevaluated tail unchanged.
func (s *Session) refreshPass(ctx context.Context, cands []Candidate) (kept []Candidate, dropped int, fatal error) {
	cache := newBlockCache(s.mem)
	kept = make([]Candidate, 0, len(cands))

	for i, c := range cands {
		select {
		case <-ctx.Done():
			return append(kept, cands[i:]...), dropped, nil
		default:
		}

		size := c.Value.Type().Size()
		buf := make([]byte, size)
		if err := cache.read(buf, c.Addr); err != nil {
			if fatalScanError(err) {
				return kept, dropped, err
			}
			dropped++
			s.candidatesDone.Add(1)
			continue
		}
		cur, err := c.Value.Type().Decode(buf)
		if err != nil {
			dropped++
			s.candidatesDone.Add(1)
			continue
		}
		c.Value = cur
		kept = append(kept, c)
		s.candidatesDone.Add(1)
	}
	return kept, dropped, nil
}
