package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// Compile-time interface assertion.
var _ Converter = Native{}

// Native decodes WAV, MP3 and FLAC without external tools. Any other
// container yields [ErrUnsupported].
type Native struct{}

// Convert implements [Converter].
func (Native) Convert(ctx context.Context, src Source, format Format) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !NativeSupports(src.Ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, src.Ext)
	}

	f, err := os.Open(src.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConversionFailed, src.Path, err)
	}
	defer f.Close()

	samples, err := DecodeNative(bufio.NewReader(f), src.Ext)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s contains no audio", ErrConversionFailed, src.ID)
	}
	return Package(audio.SamplesToBytes(samples), format)
}

// NativeSupports reports whether [Native] can decode ext.
func NativeSupports(ext string) bool {
	switch ext {
	case "wav", "mp3", "flac":
		return true
	}
	return false
}

// DecodeNative decodes r according to ext and returns target-layout samples.
func DecodeNative(r io.Reader, ext string) ([]int16, error) {
	var (
		samples []int16
		src     audio.Format
		err     error
	)
	switch ext {
	case "wav":
		samples, src, err = decodeWAV(r)
	case "mp3":
		samples, src, err = decodeMP3(r)
	case "flac":
		samples, src, err = decodeFLAC(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConversionFailed, ext, err)
	}
	return audio.ConvertSamples(samples, src, Target), nil
}

func decodeWAV(r io.Reader) ([]int16, audio.Format, error) {
	a, err := wav.Decode(r)
	if err != nil {
		return nil, audio.Format{}, err
	}
	return a.Samples, audio.Format{SampleRate: a.SampleRate, Channels: a.Channels}, nil
}

// decodeMP3 reads the whole stream. go-mp3 always produces 16-bit stereo.
func decodeMP3(r io.Reader) ([]int16, audio.Format, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, audio.Format{}, err
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, audio.Format{}, err
	}
	return audio.BytesToSamples(pcm), audio.Format{SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// decodeFLAC interleaves all subframes and scales every bit depth to 16.
func decodeFLAC(r io.Reader) ([]int16, audio.Format, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, audio.Format{}, err
	}
	info := stream.Info
	channels := int(info.NChannels)
	bits := int(info.BitsPerSample)
	if channels == 0 || info.SampleRate == 0 {
		return nil, audio.Format{}, fmt.Errorf("invalid stream info: %d Hz, %d channels", info.SampleRate, channels)
	}

	var out []int16
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, audio.Format{}, err
		}
		for i := range int(frame.BlockSize) {
			for ch := range channels {
				out = append(out, scaleTo16(frame.Subframes[ch].Samples[i], bits))
			}
		}
	}
	return out, audio.Format{SampleRate: int(info.SampleRate), Channels: channels}, nil
}

func scaleTo16(s int32, bits int) int16 {
	switch {
	case bits > 16:
		return int16(s >> (bits - 16))
	case bits < 16:
		return int16(s << (16 - bits))
	default:
		return int16(s)
	}
}
