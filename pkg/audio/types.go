package audio

import (
	"time"
)

// Frame is one block of interleaved little-endian int16 PCM flowing between a
// voice platform and the application. Frames are the unit of transport for
// both directions: per-participant input and the single output stream.
type Frame struct {
	// Data holds interleaved signed 16-bit little-endian samples.
	Data []byte

	// SampleRate in Hz. Discord delivers and expects 48000.
	SampleRate int

	// Channels is 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration reports how much audio the frame carries. It returns zero for a
// frame without a valid format.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Data) / 2 / f.Channels
	return time.Duration(perChannel) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the frame's data into int16 samples, still interleaved.
func (f Frame) Samples() []int16 {
	return BytesToSamples(f.Data)
}
