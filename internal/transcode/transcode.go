// Package transcode turns stored sound files into playable audio and caches
// the result.
//
// A [Converter] decodes a [Source] into 48 kHz mono signed 16-bit PCM and
// packages it in the requested [Format]. Two converters exist: [Native],
// which decodes WAV, MP3 and FLAC in-process, and [FFmpeg], which shells out
// for everything else. [Chain] tries several converters in order, each
// behind its own circuit breaker.
//
// [Cache] sits in front of a converter and keeps results for a fixed time.
// Concurrent requests for the same sound and format share one conversion.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/wav"
)

// SampleRate and Channels describe every converter's output.
const (
	SampleRate = 48000
	Channels   = 1
)

// Target is the PCM layout every converter produces.
var Target = audio.Format{SampleRate: SampleRate, Channels: Channels}

var (
	// ErrConversionFailed wraps every converter failure.
	ErrConversionFailed = errors.New("transcode: conversion failed")

	// ErrUnsupported is returned by a converter that cannot read the
	// source's container. It wraps [ErrConversionFailed].
	ErrUnsupported = fmt.Errorf("%w: unsupported source format", ErrConversionFailed)

	// ErrUnknownFormat is returned by [ParseFormat].
	ErrUnknownFormat = errors.New("transcode: unknown output format")
)

// Format is an output packaging.
type Format string

const (
	// FormatPCM is raw little-endian s16 mono at 48 kHz, the voice pipeline's
	// native input.
	FormatPCM Format = "pcm"

	// FormatWAV is the same audio behind a 44-byte RIFF header.
	FormatWAV Format = "wav"
)

// Formats lists every supported output format.
var Formats = []Format{FormatPCM, FormatWAV}

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatPCM, FormatWAV:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Source identifies a stored sound file.
type Source struct {
	// ID is the sound's identifier, used for logging and cache keys.
	ID string

	// Path is the file on disk.
	Path string

	// Ext is the container format as a lower-case extension without the dot,
	// e.g. "mp3".
	Ext string
}

// SourceFromPath builds a Source, deriving Ext from path.
func SourceFromPath(id, path string) Source {
	return Source{ID: id, Path: path, Ext: ExtOf(path)}
}

// ExtOf returns the lower-case extension of name without the dot.
func ExtOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Converter decodes a source and packages it in format. Implementations must
// be safe for concurrent use and must wrap failures with
// [ErrConversionFailed].
type Converter interface {
	Convert(ctx context.Context, src Source, format Format) ([]byte, error)
}

// ConverterFunc adapts a function to [Converter].
type ConverterFunc func(ctx context.Context, src Source, format Format) ([]byte, error)

// Convert implements [Converter].
func (f ConverterFunc) Convert(ctx context.Context, src Source, format Format) ([]byte, error) {
	return f(ctx, src, format)
}

// SourceFunc looks up the source of a sound ID.
type SourceFunc func(ctx context.Context, soundID string) (Source, error)

// Package wraps target-layout PCM bytes in format.
func Package(pcm []byte, format Format) ([]byte, error) {
	switch format {
	case FormatPCM:
		return pcm, nil
	case FormatWAV:
		return wav.EncodePCM(pcm, SampleRate, Channels)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// PCMDuration returns the play time of target-layout PCM bytes in seconds.
func PCMDuration(pcm []byte) float64 {
	return float64(len(pcm)/2/Channels) / SampleRate
}
