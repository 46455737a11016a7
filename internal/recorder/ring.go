package recorder

import (
	"sync"
	"time"
)

// RingBuffer is a circular store of frames for one speaker that retains at
// most a fixed duration of audio.
//
// Retention is tracked by cumulative duration rather than slot count:
// writing a frame evicts from the head until the retained audio plus the new
// frame fits the limit. The slot array is sized up front for frames of the
// nominal interval and only grows when frames arrive shorter than that.
//
// Frames are kept in arrival order. Their timestamps are clamped to be
// non-decreasing, so late or jittered frames never make a snapshot go back
// in time.
//
// All methods are safe for concurrent use.
type RingBuffer struct {
	mu sync.Mutex

	limit time.Duration
	slots []Frame
	head  int
	count int

	retained  time.Duration
	lastWrite time.Time
}

// NewRingBuffer returns a buffer that retains up to limit of audio. The
// frame interval only sizes the initial slot array: ceil(limit/interval).
func NewRingBuffer(limit, frameInterval time.Duration) *RingBuffer {
	n := 1
	if frameInterval > 0 {
		n = int((limit + frameInterval - 1) / frameInterval)
	}
	if n < 1 {
		n = 1
	}
	return &RingBuffer{
		limit: limit,
		slots: make([]Frame, n),
	}
}

// Limit returns the maximum duration the buffer retains.
func (b *RingBuffer) Limit() time.Duration {
	return b.limit
}

// Write appends f, evicting the oldest frames as needed. A frame longer than
// the buffer limit is rejected with [ErrFrameTooLong]. Empty frames only
// refresh the last write time.
func (b *RingBuffer) Write(f Frame) error {
	d := f.Duration()
	if d > b.limit {
		return ErrFrameTooLong
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeLocked(f, d)
	return nil
}

// writeLocked appends f of duration d. Caller must hold b.mu and have
// checked d against the limit.
func (b *RingBuffer) writeLocked(f Frame, d time.Duration) {
	if f.At.Before(b.lastWrite) {
		f.At = b.lastWrite
	}
	b.lastWrite = f.At
	if len(f.Samples) == 0 {
		return
	}

	for b.count > 0 && b.retained+d > b.limit {
		b.popHead()
	}
	if b.count == len(b.slots) {
		b.grow()
	}

	b.slots[(b.head+b.count)%len(b.slots)] = f
	b.count++
	b.retained += d
}

// popHead drops the oldest frame. Caller must hold b.mu.
func (b *RingBuffer) popHead() {
	b.retained -= b.slots[b.head].Duration()
	b.slots[b.head] = Frame{}
	b.head = (b.head + 1) % len(b.slots)
	b.count--
}

// grow doubles the slot array, unrolling it so the head sits at index 0.
// Caller must hold b.mu.
func (b *RingBuffer) grow() {
	next := make([]Frame, len(b.slots)*2)
	for i := range b.count {
		next[i] = b.slots[(b.head+i)%len(b.slots)]
	}
	b.slots = next
	b.head = 0
}

// Snapshot returns the current contents in chronological order. It is a
// pure read: frames are shared, not copied, which is safe because they are
// never mutated after Write.
func (b *RingBuffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := make([]Frame, b.count)
	for i := range b.count {
		frames[i] = b.slots[(b.head+i)%len(b.slots)]
	}
	return Snapshot{frames: frames}
}

// IsStale reports whether more than expiration has passed since the last
// write.
func (b *RingBuffer) IsStale(now time.Time, expiration time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastWrite) > expiration
}

// Len returns the number of frames currently retained.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Retained returns the total duration of the frames currently retained.
func (b *RingBuffer) Retained() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained
}

// LastWrite returns the timestamp of the most recent write.
func (b *RingBuffer) LastWrite() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastWrite
}

// reset drops all frames but keeps the slot array. Caller must hold b.mu.
func (b *RingBuffer) reset() {
	clear(b.slots)
	b.head = 0
	b.count = 0
	b.retained = 0
}

// writeFresh writes f after discarding the existing contents if the buffer
// went stale relative to f.At. The check and the write happen under one
// lock. It reports whether old audio was discarded.
func (b *RingBuffer) writeFresh(f Frame, expiration time.Duration) (bool, error) {
	d := f.Duration()
	if d > b.limit {
		return false, ErrFrameTooLong
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	discarded := false
	if b.count > 0 && f.At.Sub(b.lastWrite) > expiration {
		b.reset()
		discarded = true
	}
	b.writeLocked(f, d)
	return discarded, nil
}
