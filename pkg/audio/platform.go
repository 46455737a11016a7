// Package audio defines the interfaces and types that connect Earshot to a
// voice platform.
//
// The two primary abstractions are:
//
//   - [Platform]: joins a voice channel and returns a [Connection].
//   - [Connection]: an active session on that channel, giving callers
//     per-participant input streams, a single output stream, and lifecycle
//     events.
//
// The Discord implementation lives in audio/discord; tests use audio/mock.
// PCM helpers shared by both directions (downmix, resample, byte packing) are
// in this package as well.
package audio

import (
	"context"
)

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
type Event struct {
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Username is the human-readable display name, when known.
	Username string
}

// Connection represents an active session on a voice channel.
//
// A Connection remains valid until [Connection.Disconnect] is called. Input
// channels are closed when the connection terminates. Implementations must be
// safe for concurrent use.
type Connection interface {
	// ChannelID returns the voice channel this connection is joined to.
	ChannelID() string

	// InputStreams returns a snapshot of the per-participant audio channels,
	// keyed by user ID. A new entry appears when a participant first
	// transmits; callers pick it up by calling InputStreams again after an
	// [EventJoin].
	InputStreams() map[string]<-chan Frame

	// OutputStream returns the write-only channel for audio sent into the
	// voice channel. The channel is buffered. The platform never closes it;
	// frames written after Disconnect are dropped.
	OutputStream() chan<- Frame

	// OnParticipantChange registers cb for join and leave events. Only one
	// callback may be registered; later calls replace it. cb runs on an
	// internal goroutine and must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect tears down the connection and closes all input channels.
	// Calls after the first are no-ops returning nil.
	Disconnect() error
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID in guildID and returns an active [Connection].
	// ctx bounds the connection attempt only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
