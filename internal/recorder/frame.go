// Package recorder keeps a rolling, duration-bounded recording of every
// consenting speaker in a voice session.
//
// Audio arrives as [Frame] values (48 kHz mono PCM) and is written into a
// per-(session, speaker) [RingBuffer] held by a [BufferStore]. Buffers that
// receive no audio for longer than the expiration window are dropped, both
// lazily when touched and by a periodic sweep, so memory is reclaimed even
// for speakers nobody ever downloads.
package recorder

import (
	"errors"
	"time"
)

// SampleRate is the rate of every sample stored by the recorder.
const SampleRate = 48000

var (
	// ErrNotFound is returned when no live buffer exists for a key. Buffers
	// that expired but were not swept yet are reported the same way.
	ErrNotFound = errors.New("recorder: no voice data")

	// ErrFrameTooLong is returned when a single frame spans more audio than
	// the whole buffer may retain.
	ErrFrameTooLong = errors.New("recorder: frame longer than buffer duration")
)

// Frame is one block of mono PCM captured from a single speaker. A frame is
// immutable once written: neither the store nor readers modify Samples.
type Frame struct {
	// At is when the frame was captured, as reported by the store's clock.
	At time.Time

	// Samples holds signed 16-bit mono samples at [SampleRate].
	Samples []int16
}

// Duration reports how much audio the frame carries.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples))
}

// SamplesDuration converts a sample count at [SampleRate] into a duration.
func SamplesDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// DurationSamples converts d into a sample count at [SampleRate], rounding
// down.
func DurationSamples(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}
