package smra

import (
	"fmt"
	"time"
)

// Metadata is the resolved, human-readable form of one recorded fault. It
// shares no ownership with the record it came from; once built it lives
// independently of the session.
type Metadata struct {
	Path      string    `json:"path"`
	Offset    uint64    `json:"offset"`
	Time      time.Time `json:"time"`
	Deleted   bool      `json:"deleted,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
}

// PostProcess resolves the recorded faults of every target into ordered
// Metadata lists, one per requested pid, in registry order.
//
// pids must enumerate the registry exactly as Setup built it and bufferSize
// must be the capacity Setup was called with; a mismatch means the caller's
// view of the registry is stale and is treated as a programming error
// (panic), not a recoverable failure. Call this from the same serialized
// control path that runs Setup and Reset.
//
// Per target, the buffer is copied into a preallocated working snapshot
// under the registry read lock and the target lock; both locks are dropped
// before any record is resolved, so resolution is free to block and
// allocate. If resolving any record fails the whole batch is abandoned:
// no Metadata is returned for any pid and the error is propagated. Handle
// references taken at record time are not released here; that happens on
// Reset.
func (s *Session) PostProcess(pids []int32, bufferSize int) ([][]Metadata, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("smra: buffer size must be positive, got %d", bufferSize)
	}

	// One working copy reused for every target, sized before any lock is
	// taken so the copy under lock never allocates.
	working := newBufferSnapshot(bufferSize)
	footprints := make([][]Metadata, len(pids))

	i := 0
	s.mu.RLock()
	for _, t := range s.targets {
		if i >= len(pids) || t.pid != pids[i] {
			s.mu.RUnlock()
			panic(fmt.Sprintf("smra: registry changed under post-processing (slot %d holds pid %d)", i, t.pid))
		}

		t.mu.Lock()
		working.copyFrom(t.buf)
		t.mu.Unlock()
		s.mu.RUnlock()

		s.log.Info().Int("pid", int(t.pid)).Int("records", working.cur).Msg("Post-processing target")

		metas, err := s.resolveSnapshot(working)
		if err != nil {
			// No partial results: everything produced so far is dropped.
			return nil, fmt.Errorf("post-processing pid %d: %w", t.pid, err)
		}
		footprints[i] = metas
		i++
		s.mu.RLock()
	}
	s.mu.RUnlock()

	return footprints, nil
}

// resolveSnapshot turns a snapshot's raw records into Metadata, preserving
// record order. Runs without any session lock held.
func (s *Session) resolveSnapshot(snap *bufferSnapshot) ([]Metadata, error) {
	if snap.cur == 0 {
		s.log.Info().Msg("Empty buffer, nothing to be processed")
		return []Metadata{}, nil
	}
	if snap.cur >= snap.size {
		s.log.Warn().Msg("Buffer filled up, consider recording again with a larger buffer")
	}

	metas := make([]Metadata, 0, snap.cur)
	for k := 0; k < snap.cur; k++ {
		fi := &snap.info[k]
		rp, err := s.resolver.Resolve(fi.handle)
		if err != nil {
			return nil, fmt.Errorf("resolving record %d: %w", k, err)
		}
		metas = append(metas, Metadata{
			Path:      rp.Path,
			Offset:    fi.offset,
			Time:      fi.time,
			Deleted:   rp.Deleted,
			Truncated: rp.Truncated,
		})
	}
	return metas, nil
}
