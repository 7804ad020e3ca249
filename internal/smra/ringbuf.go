package smra

import "time"

// faultInfo is one recorded page-fault event. While it sits in a buffer it
// holds one reference on its handle; the reference is dropped when the
// buffer is reset.
type faultInfo struct {
	handle Handle
	offset uint64
	time   time.Time
}

// infoBuffer is a fixed-capacity, append-only record buffer owned by a
// single target. All access is protected by the owning target's lock. When
// the buffer is full further appends are dropped silently; the cursor never
// moves backwards except on reset.
type infoBuffer struct {
	info []faultInfo
	cur  int
}

func newInfoBuffer(size int) *infoBuffer {
	return &infoBuffer{info: make([]faultInfo, size)}
}

func (b *infoBuffer) size() int { return len(b.info) }

func (b *infoBuffer) full() bool { return b.cur >= len(b.info) }

// append stores one record and advances the cursor. Returns false, leaving
// the buffer untouched, when the buffer is full. Never allocates.
func (b *infoBuffer) append(fi faultInfo) bool {
	if b.full() {
		return false
	}
	b.info[b.cur] = fi
	b.cur++
	return true
}

// reset drops every held handle reference and empties the buffer. The
// recorder takes the reference at append time; this is the single matching
// release for each stored record.
func (b *infoBuffer) reset() {
	for i := 0; i < b.cur; i++ {
		b.info[i].handle.Release()
		b.info[i] = faultInfo{}
	}
	b.cur = 0
}

// bufferSnapshot is an independent copy of one buffer's contents, taken
// while holding both the registry read lock and the target lock. Once built
// it aliases nothing in the live buffer, so post-processing can walk it
// without any lock. The snapshot borrows the handle references of the live
// records instead of taking its own; it must not outlive a reset of the
// source buffer.
type bufferSnapshot struct {
	info []faultInfo
	cur  int
	size int
}

// newBufferSnapshot preallocates a working snapshot for buffers of up to
// size records. Allocation happens here, before any lock is taken; copyFrom
// only copies.
func newBufferSnapshot(size int) *bufferSnapshot {
	return &bufferSnapshot{info: make([]faultInfo, size)}
}

// copyFrom fills the snapshot from src. Caller holds src's target lock. The
// snapshot is reused across targets, so previous contents are overwritten.
func (s *bufferSnapshot) copyFrom(src *infoBuffer) {
	if src.cur > len(s.info) {
		panic("smra: snapshot smaller than source buffer, setup and post-processing capacities disagree")
	}
	s.cur = src.cur
	s.size = src.size()
	copy(s.info, src.info[:src.cur])
}
