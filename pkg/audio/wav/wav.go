// Package wav reads and writes 16-bit PCM RIFF/WAVE files.
//
// Only uncompressed 16-bit PCM is supported. The decoder walks the chunk list,
// so files with LIST, fact or other metadata chunks before the audio decode
// fine.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// headerSize is the size of the canonical header written by [Encode].
const headerSize = 44

var (
	// ErrNotWAV is returned when the input lacks the RIFF/WAVE signature.
	ErrNotWAV = errors.New("wav: not a RIFF/WAVE file")

	// ErrUnsupported is returned for anything other than 16-bit integer PCM.
	ErrUnsupported = errors.New("wav: unsupported encoding")
)

// Audio is decoded PCM together with its layout.
type Audio struct {
	// Samples are interleaved when Channels > 1.
	Samples    []int16
	SampleRate int
	Channels   int
}

// Encode writes samples as a canonical 44-byte-header WAV file.
func Encode(w io.Writer, samples []int16, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("wav: encode: invalid format %d Hz, %d channels", sampleRate, channels)
	}
	dataSize := uint32(len(samples) * 2)
	blockAlign := uint16(channels * 2)

	var h [headerSize]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate)*uint32(blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)

	if _, err := w.Write(h[:]); err != nil {
		return fmt.Errorf("wav: write header: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	return nil
}

// EncodeBytes is [Encode] into a fresh byte slice.
func EncodeBytes(samples []int16, sampleRate, channels int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(samples)*2)
	if err := Encode(&buf, samples, sampleRate, channels); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodePCM wraps raw little-endian PCM bytes in a WAV header without
// decoding them first.
func EncodePCM(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("wav: encode: odd pcm length %d", len(pcm))
	}
	var buf bytes.Buffer
	buf.Grow(headerSize + len(pcm))
	if err := Encode(&buf, nil, sampleRate, channels); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	return append(out, pcm...), nil
}

// Decode reads a complete WAV file from r.
func Decode(r io.Reader) (*Audio, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		out     Audio
		haveFmt bool
	)
	for {
		var ch [8]byte
		if _, err := io.ReadFull(r, ch[:]); err != nil {
			return nil, fmt.Errorf("wav: missing data chunk: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too short (%d bytes)", size)
			}
			var f [16]byte
			if _, err := io.ReadFull(r, f[:]); err != nil {
				return nil, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			if err := skip(r, size-16+size%2); err != nil {
				return nil, err
			}
			format := binary.LittleEndian.Uint16(f[0:2])
			bits := binary.LittleEndian.Uint16(f[14:16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: format %d, %d bits", ErrUnsupported, format, bits)
			}
			out.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			if out.Channels == 0 || out.SampleRate == 0 {
				return nil, fmt.Errorf("%w: %d Hz, %d channels", ErrUnsupported, out.SampleRate, out.Channels)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, errors.New("wav: data chunk before fmt chunk")
			}
			// Streams written before their length was known carry a bogus
			// size; read to EOF in that case.
			var data []byte
			var err error
			if size == 0 || size == 0xFFFFFFFF {
				data, err = io.ReadAll(r)
			} else {
				data = make([]byte, size)
				_, err = io.ReadFull(r, data)
			}
			if err != nil {
				return nil, fmt.Errorf("wav: read data chunk: %w", err)
			}
			out.Samples = make([]int16, len(data)/2)
			for i := range out.Samples {
				out.Samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
			}
			return &out, nil

		default:
			if err := skip(r, size+size%2); err != nil {
				return nil, err
			}
		}
	}
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("wav: skip chunk: %w", err)
	}
	return nil
}
