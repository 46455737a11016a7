package discord

import (
	"fmt"

	"github.com/MrWong99/earshot/pkg/audio"
	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// opusFrameBytes is the PCM input size of one encoded frame.
	opusFrameBytes = opusFrameSize * opusChannels * 2
	// maxOpusPacket bounds the encoder output buffer.
	maxOpusPacket = 4000
)

// opusDecoder decodes a single SSRC's packets. Decoder state carries across
// consecutive packets, so every SSRC needs its own instance.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns the packet as little-endian interleaved stereo PCM.
func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return audio.SamplesToBytes(pcm), nil
}

// opusEncoder encodes the single outgoing stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode takes exactly one frame of little-endian interleaved stereo PCM.
func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	packet, err := e.enc.Encode(audio.BytesToSamples(pcm), opusFrameSize, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}
