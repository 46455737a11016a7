package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts frames to a target format. It logs once on the
// first format mismatch and once on the first misaligned frame.
// Create one per stream; it is not meant for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts frame to the target format. A frame that already matches
// is returned unchanged. Misaligned frames come back with nil Data.
func (c *FormatConverter) Convert(frame Frame) Frame {
	if frame.Channels <= 0 || len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned pcm frame, dropping",
				"bytes", len(frame.Data),
				"format", Format{frame.SampleRate, frame.Channels},
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}

	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if src == c.Target {
		return frame
	}
	c.warnedMismatch.Do(func() {
		slog.Debug("audio: converting stream", "from", src, "to", c.Target)
	})

	samples := ConvertSamples(BytesToSamples(frame.Data), src, c.Target)
	return Frame{
		Data:       SamplesToBytes(samples),
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// ConvertStream converts every frame from in to target on its own goroutine.
// The returned channel has the same capacity as in and is closed when in is
// closed. Frames that convert to nothing are dropped.
func ConvertStream(in <-chan Frame, target Format) <-chan Frame {
	out := make(chan Frame, cap(in))
	go func() {
		defer close(out)
		conv := FormatConverter{Target: target}
		for frame := range in {
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// ConvertSamples converts interleaved samples from src to dst. The channel
// count is changed first when reducing channels and last when adding them, so
// the resampler always works on the fewest channels. Only mono and stereo
// layouts are converted between; other channel counts are downmixed to mono
// first.
func ConvertSamples(samples []int16, src, dst Format) []int16 {
	ch := src.Channels
	if ch > dst.Channels {
		samples = Downmix(samples, ch)
		ch = 1
	}
	samples = Resample(samples, ch, src.SampleRate, dst.SampleRate)
	if ch == 1 && dst.Channels == 2 {
		samples = Upmix(samples)
	}
	return samples
}

// Downmix averages each group of channels interleaved samples into one mono
// sample. The sum is done in int32, so the result cannot overflow.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(samples[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Upmix duplicates every mono sample into an L+R pair.
func Upmix(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate by linear
// interpolation, per channel. Equal or invalid rates return the input.
func Resample(samples []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || channels <= 0 {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return samples
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			s0 := float64(samples[idx*channels+c])
			s1 := float64(samples[next*channels+c])
			out[i*channels+c] = int16(s0*(1-frac) + s1*frac)
		}
	}
	return out
}

// StereoToMono downmixes little-endian stereo PCM bytes to mono PCM bytes.
func StereoToMono(pcm []byte) []byte {
	return SamplesToBytes(Downmix(BytesToSamples(pcm), 2))
}

// MonoToStereo duplicates little-endian mono PCM bytes into stereo.
func MonoToStereo(pcm []byte) []byte {
	return SamplesToBytes(Upmix(BytesToSamples(pcm)))
}

// BytesToSamples decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func BytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian int16 PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
