package smra

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	return NewSession(mapResolver{}, opts)
}

func feedFault(s *Session, h Handle, offset uint64, pid int32) {
	s.OnFault(h, offset, time.Now(), pid)
}

func TestOnFaultWhileDisabled(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Setup([]int32{7}, 5))

	h := &testHandle{name: "a"}
	for i := 0; i < 10; i++ {
		feedFault(s, h, uint64(i), 7)
	}

	s.RangeTargets(func(_ int, pid int32, used, _ int) bool {
		require.Zero(t, used, "disabled recorder must not append for pid %d", pid)
		return true
	})
	require.Equal(t, int64(0), h.refs.Load())
	require.Equal(t, uint64(10), s.Stats().Skipped)
}

func TestOnFaultFIFOKeepsFirstCapacity(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Setup([]int32{42}, 3))
	s.Start()

	handles := make([]*testHandle, 5)
	for i := range handles {
		handles[i] = &testHandle{name: string(rune('A' + i))}
		feedFault(s, handles[i], uint64(i), 42)
	}

	stats := s.Stats()
	require.Equal(t, uint64(3), stats.Recorded)
	require.Equal(t, uint64(2), stats.Dropped, "appends past capacity are dropped, never overwritten")

	// The first three handles carry the recorded references; the dropped
	// ones carry none.
	for i, h := range handles {
		want := int64(0)
		if i < 3 {
			want = 1
		}
		require.Equal(t, want, h.refs.Load(), "handle %d", i)
	}
}

func TestOnFaultNilHandleAndUntrackedPid(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Setup([]int32{7, 8}, 10))
	s.Start()

	// Untracked process: both buffers stay empty.
	feedFault(s, &testHandle{name: "x"}, 0, 9)
	// Special mapping with no backing file.
	feedFault(s, nil, 0, 7)

	s.RangeTargets(func(_ int, _ int32, used, _ int) bool {
		require.Zero(t, used)
		return true
	})
	stats := s.Stats()
	require.Equal(t, uint64(1), stats.Untracked)
	require.Equal(t, uint64(1), stats.Skipped)
}

func TestStopDropsLaterFaults(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Setup([]int32{7}, 5))
	s.Start()

	h := &testHandle{name: "a"}
	feedFault(s, h, 1, 7)
	feedFault(s, h, 2, 7)
	s.Stop()
	feedFault(s, h, 3, 7)

	s.RangeTargets(func(_ int, _ int32, used, _ int) bool {
		require.Equal(t, 2, used, "post-stop fault must not be appended")
		return true
	})
	require.Equal(t, int64(2), h.refs.Load())
}

func TestStartStopIdempotent(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Setup([]int32{1}, 2))

	s.Start()
	s.Start()
	require.True(t, s.Enabled())
	s.Stop()
	s.Stop()
	require.False(t, s.Enabled())
}

func TestResetReleasesAllReferences(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Setup([]int32{7, 8}, 4))
	s.Start()

	ha := &testHandle{name: "a"}
	hb := &testHandle{name: "b"}
	for i := 0; i < 6; i++ {
		feedFault(s, ha, uint64(i), 7)
		feedFault(s, hb, uint64(i), 8)
	}
	require.Equal(t, int64(4), ha.refs.Load())
	require.Equal(t, int64(4), hb.refs.Load())

	s.Reset()
	require.Equal(t, int64(0), ha.refs.Load(), "reference count must return to baseline")
	require.Equal(t, int64(0), hb.refs.Load())
	require.Zero(t, s.TargetCount())

	// A second reset is a no-op, not a double release.
	require.NotPanics(t, func() { s.Reset() })
}

func TestResetLeavesEnableFlag(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Setup([]int32{1}, 2))
	s.Start()
	s.Reset()
	require.True(t, s.Enabled(), "reset tears down targets, not the enable flag")
}

func TestSetupValidation(t *testing.T) {
	s := newTestSession(t, Options{})
	require.Error(t, s.Setup([]int32{1}, 0))
	require.Error(t, s.Setup([]int32{1}, -3))
	require.Error(t, s.Setup(nil, 8))
	require.Zero(t, s.TargetCount())
}

func TestSetupBudgetRollback(t *testing.T) {
	s := newTestSession(t, Options{MaxTotalRecords: 100})

	require.NoError(t, s.Setup([]int32{1, 2}, 30))
	require.Equal(t, 2, s.TargetCount())

	// 2x30 held, 2x30 more would exceed 100: the call fails whole and the
	// existing registry is untouched.
	err := s.Setup([]int32{3, 4}, 30)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Equal(t, 2, s.TargetCount(), "failed setup must not leave partial targets")

	// A smaller batch still fits.
	require.NoError(t, s.Setup([]int32{3}, 30))
	require.Equal(t, 3, s.TargetCount())
}

func TestSetupBudgetUnderConcurrentCalls(t *testing.T) {
	// The budget is checked and committed under one write-lock hold, so
	// racing Setup calls can never jointly exceed it.
	s := newTestSession(t, Options{MaxTotalRecords: 100})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Setup([]int32{int32(i + 1)}, 30)
		}(g)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrBudgetExceeded)
			failed++
		}
	}
	require.Equal(t, 3, s.TargetCount(), "budget 100 admits exactly three 30-record buffers")
	require.Equal(t, 5, failed)
}

func TestRepeatedSetupAccumulatesDuplicates(t *testing.T) {
	s := newTestSession(t, Options{})
	require.NoError(t, s.Setup([]int32{7}, 3))
	require.NoError(t, s.Setup([]int32{7}, 3))
	require.Equal(t, 2, s.TargetCount(), "setup without reset accumulates, even for the same pid")

	// Recording lands in the first registered duplicate only.
	s.Start()
	h := &testHandle{name: "a"}
	feedFault(s, h, 1, 7)

	var fills []int
	s.RangeTargets(func(_ int, _ int32, used, _ int) bool {
		fills = append(fills, used)
		return true
	})
	require.Equal(t, []int{1, 0}, fills)
}

func TestConcurrentFaultsAndLifecycle(t *testing.T) {
	s := newTestSession(t, Options{})
	pids := []int32{1, 2, 3, 4}
	require.NoError(t, s.Setup(pids, 64))
	s.Start()

	handles := make([]*testHandle, len(pids))
	for i := range handles {
		handles[i] = &testHandle{name: string(rune('a' + i))}
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				pid := pids[(g+i)%len(pids)]
				feedFault(s, handles[pid-1], uint64(i), pid)
			}
		}(g)
	}
	// Lifecycle toggles race with the fault path by design; the flag is
	// read under the registry lock so this must stay clean under -race.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.Stop()
			s.Start()
		}
	}()
	wg.Wait()

	stats := s.Stats()
	total := stats.Recorded + stats.Dropped + stats.Skipped
	require.Equal(t, uint64(8*200), total, "every fault is recorded, dropped, or skipped")

	// Each buffer holds at most its capacity and exactly one reference per
	// record.
	var held int64
	s.RangeTargets(func(_ int, pid int32, used, capacity int) bool {
		require.LessOrEqual(t, used, capacity)
		require.Equal(t, int64(used), handles[pid-1].refs.Load())
		held += int64(used)
		return true
	})
	require.Equal(t, stats.Recorded, uint64(held))

	s.Reset()
	for _, h := range handles {
		require.Zero(t, h.refs.Load())
	}
}
