// Package smra implements the core of SMRA (Smart Readahead) recording: a
// per-process capture of file-backed page-fault events into fixed-size ring
// buffers, with lock-free post-processing of the captured records into
// readable path metadata.
//
// The package is the in-memory recording engine only. The fault-event
// source, the path resolver, and any control surface are injected by the
// caller; see the feed and web packages for the ones this binary ships.
package smra

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"smra_exporter/internal/logger"

	"github.com/phuslu/log"
)

// ErrBudgetExceeded is returned by Setup when the requested targets would
// hold more records than the session's configured budget allows.
var ErrBudgetExceeded = errors.New("smra: record budget exceeded")

// target pairs one tracked pid with its dedicated record buffer. The mutex
// guards the buffer and is held only for a single append or a single
// snapshot copy, never across allocation or I/O.
type target struct {
	pid int32
	mu  sync.Mutex
	buf *infoBuffer
}

// Stats are the recorder's lifetime event counters.
type Stats struct {
	// Recorded counts appends that landed in a buffer.
	Recorded uint64
	// Dropped counts appends refused because the target's buffer was full.
	Dropped uint64
	// Untracked counts faults for pids with no registered target.
	Untracked uint64
	// Skipped counts faults seen while recording was disabled or that
	// carried no handle (special mappings such as vdso).
	Skipped uint64
}

// Session owns all SMRA recording state: the registered targets, the
// global enable flag, and the event counters. It replaces what the in-kernel
// implementation kept as globals with one explicit object whose lifecycle
// the caller controls.
//
// Lock order: the registry lock (Session.mu) is always taken before a
// target's own lock, and both are released before any blocking or
// allocating work. OnFault runs under the read side of the registry lock so
// concurrent faulting threads do not serialize against each other, only
// against Setup/Reset and the flag toggles.
type Session struct {
	mu      sync.RWMutex
	enabled bool
	targets []*target

	// Record budget across all live targets; 0 means unlimited. Stands in
	// for allocator failure, which Go programs cannot observe recoverably.
	maxRecords int

	resolver Resolver
	log      log.Logger

	recorded  atomic.Uint64
	dropped   atomic.Uint64
	untracked atomic.Uint64
	skipped   atomic.Uint64
}

// Options tune a Session. The zero value is valid.
type Options struct {
	// MaxTotalRecords caps the summed capacity of all target buffers a
	// Setup call may leave registered. 0 disables the cap.
	MaxTotalRecords int
}

// NewSession creates an empty, disabled session. resolver is used by
// PostProcess only and may be nil if PostProcess is never called.
func NewSession(resolver Resolver, opts Options) *Session {
	return &Session{
		maxRecords: opts.MaxTotalRecords,
		resolver:   resolver,
		log:        logger.New("smra_core"),
	}
}

// Setup registers one recording target per pid, each with its own empty
// buffer of bufferSize records. The call is all-or-nothing: on failure no
// target from this call survives and previously registered targets are
// untouched.
//
// Setup does not deduplicate: calling it again without an intervening Reset
// appends more targets, including a second entry for an already-registered
// pid. Callers wanting a fresh registry must Reset first.
func (s *Session) Setup(pids []int32, bufferSize int) error {
	if bufferSize <= 0 {
		return fmt.Errorf("smra: buffer size must be positive, got %d", bufferSize)
	}
	if len(pids) == 0 {
		return errors.New("smra: no target pids given")
	}

	// Build the whole batch before touching the registry so a failure needs
	// no unwinding of shared state. Fresh buffers hold no handle
	// references, discarding them releases nothing.
	batch := make([]*target, len(pids))
	for i, pid := range pids {
		batch[i] = &target{pid: pid, buf: newInfoBuffer(bufferSize)}
	}

	s.mu.Lock()
	if s.maxRecords > 0 {
		// Checked under the write lock so two concurrent Setup calls cannot
		// both pass and jointly exceed the budget.
		held := 0
		for _, t := range s.targets {
			held += t.buf.size()
		}
		if held+len(pids)*bufferSize > s.maxRecords {
			s.mu.Unlock()
			return fmt.Errorf("%w: %d targets x %d records on top of %d held, budget %d",
				ErrBudgetExceeded, len(pids), bufferSize, held, s.maxRecords)
		}
	}
	s.targets = append(s.targets, batch...)
	s.mu.Unlock()

	s.log.Info().
		Int("targets", len(pids)).
		Int("buffer_size", bufferSize).
		Msg("Recording targets registered")
	return nil
}

// Start enables recording. Idempotent; faults observed from here on are
// eligible for capture.
func (s *Session) Start() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	s.log.Info().Msg("Recording started")
}

// Stop disables recording. Idempotent and best-effort: an OnFault call that
// already passed the enable check may still complete its append after Stop
// returns. Callers needing a hard quiesce must wait on their own.
func (s *Session) Stop() {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	s.log.Info().Msg("Recording stopped")
}

// Reset destroys every registered target, releasing the handle reference of
// each record still held in any buffer, and empties the registry. The
// enable flag is left as it is. Always succeeds.
func (s *Session) Reset() {
	s.mu.Lock()
	n := len(s.targets)
	for _, t := range s.targets {
		t.buf.reset()
	}
	s.targets = nil
	s.mu.Unlock()

	s.log.Info().Int("targets", n).Msg("Recording state reset")
}

// Enabled reports whether recording is currently on.
func (s *Session) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// findLocked returns the first target registered for pid. Caller holds at
// least the read lock.
func (s *Session) findLocked(pid int32) *target {
	for _, t := range s.targets {
		if t.pid == pid {
			return t
		}
	}
	return nil
}

// OnFault is the hot-path entry point, invoked synchronously for every
// file-backed page fault the event source observes, tracked process or not.
// h is nil for special mappings with no backing file.
//
// The whole body runs in bounded time: no allocation, no logging, no
// blocking beyond the registry read lock and one target mutex. On a
// successful append one extra reference is taken on h so the backing
// resource outlives the caller; the reference is dropped by Reset.
func (s *Session) OnFault(h Handle, offset uint64, now time.Time, pid int32) {
	s.mu.RLock()
	if !s.enabled || h == nil {
		s.mu.RUnlock()
		s.skipped.Add(1)
		return
	}
	t := s.findLocked(pid)
	if t == nil {
		s.mu.RUnlock()
		s.untracked.Add(1)
		return
	}

	t.mu.Lock()
	ok := t.buf.append(faultInfo{handle: h, offset: offset, time: now})
	if ok {
		h.Retain()
	}
	t.mu.Unlock()
	s.mu.RUnlock()

	if ok {
		s.recorded.Add(1)
	} else {
		s.dropped.Add(1)
	}
}

// Stats returns a point-in-time copy of the event counters.
func (s *Session) Stats() Stats {
	return Stats{
		Recorded:  s.recorded.Load(),
		Dropped:   s.dropped.Load(),
		Untracked: s.untracked.Load(),
		Skipped:   s.skipped.Load(),
	}
}

// TargetCount returns the number of registered targets, duplicates
// included.
func (s *Session) TargetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.targets)
}

// RangeTargets calls fn for each registered target in registry order with
// its current fill level and capacity, stopping early if fn returns false.
// Used by the metrics collector at scrape time.
func (s *Session) RangeTargets(fn func(slot int, pid int32, used, capacity int) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, t := range s.targets {
		t.mu.Lock()
		used, capacity := t.buf.cur, t.buf.size()
		t.mu.Unlock()
		if !fn(i, t.pid, used, capacity) {
			return
		}
	}
}
