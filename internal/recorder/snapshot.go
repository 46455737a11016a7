package recorder

import (
	"iter"
	"time"
)

// Snapshot is a point-in-time, chronologically ordered view of a
// [RingBuffer]. It is immutable and may be iterated any number of times.
type Snapshot struct {
	frames []Frame
}

// All returns an iterator over the frames, oldest first. The sequence is
// finite and restartable.
func (s Snapshot) All() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for _, f := range s.frames {
			if !yield(f) {
				return
			}
		}
	}
}

// Len returns the number of frames.
func (s Snapshot) Len() int {
	return len(s.frames)
}

// Empty reports whether the snapshot holds no frames.
func (s Snapshot) Empty() bool {
	return len(s.frames) == 0
}

// Frames returns a copy of the frame slice.
func (s Snapshot) Frames() []Frame {
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Duration returns the total audio duration held in the snapshot.
func (s Snapshot) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.frames {
		d += f.Duration()
	}
	return d
}

// Start returns the timestamp of the oldest frame, or the zero time.
func (s Snapshot) Start() time.Time {
	if len(s.frames) == 0 {
		return time.Time{}
	}
	return s.frames[0].At
}

// Samples flattens the snapshot into one contiguous sample slice.
func (s Snapshot) Samples() []int16 {
	n := 0
	for _, f := range s.frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range s.frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Chunks splits the snapshot into consecutive pieces, each spanning at most
// maxSpan of audio. Boundaries fall between frames, never inside one; a
// frame longer than maxSpan forms a chunk on its own. A non-positive maxSpan
// returns the whole snapshot as a single chunk.
func (s Snapshot) Chunks(maxSpan time.Duration) []Snapshot {
	if len(s.frames) == 0 {
		return nil
	}
	if maxSpan <= 0 {
		return []Snapshot{s}
	}

	var (
		chunks []Snapshot
		start  int
		span   time.Duration
	)
	for i, f := range s.frames {
		d := f.Duration()
		if i > start && span+d > maxSpan {
			chunks = append(chunks, Snapshot{frames: s.frames[start:i:i]})
			start, span = i, 0
		}
		span += d
	}
	return append(chunks, Snapshot{frames: s.frames[start:]})
}
