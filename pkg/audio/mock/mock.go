// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	in := make(chan audio.Frame, 16)
//	out := make(chan audio.Frame, 16)
//	conn := &mock.Connection{
//	    ChannelIDResult:    "channel-42",
//	    InputStreamsResult: map[string]<-chan audio.Frame{"user-1": in},
//	    OutputStreamResult: out,
//	}
//	platform := &mock.Platform{ConnectResult: conn}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Connection = (*Connection)(nil)
	_ audio.Platform   = (*Platform)(nil)
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// ChannelIDResult is returned by [Connection.ChannelID].
	ChannelIDResult string

	// InputStreamsResult is returned by [Connection.InputStreams].
	// Defaults to an empty (non-nil) map if left nil.
	InputStreamsResult map[string]<-chan audio.Frame

	// OutputStreamResult is returned by [Connection.OutputStream].
	OutputStreamResult chan<- audio.Frame

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// CallCountInputStreams records how many times InputStreams was called.
	CallCountInputStreams int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// RecordedCallbacks holds the callbacks registered via OnParticipantChange,
	// in order of registration.
	RecordedCallbacks []func(audio.Event)
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ChannelIDResult
}

// InputStreams implements [audio.Connection]. The returned map is a copy, so
// tests may add streams with [Connection.AddInput] while a consumer holds an
// earlier snapshot.
func (c *Connection) InputStreams() map[string]<-chan audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	out := make(map[string]<-chan audio.Frame, len(c.InputStreamsResult))
	for k, v := range c.InputStreamsResult {
		out[k] = v
	}
	return out
}

// AddInput registers a new input stream and emits an [audio.EventJoin] for
// it, mirroring what a real platform does when a participant starts talking.
func (c *Connection) AddInput(userID string, ch <-chan audio.Frame) {
	c.mu.Lock()
	if c.InputStreamsResult == nil {
		c.InputStreamsResult = make(map[string]<-chan audio.Frame)
	}
	c.InputStreamsResult[userID] = ch
	c.mu.Unlock()
	c.EmitEvent(audio.Event{Type: audio.EventJoin, UserID: userID})
}

// OutputStream implements [audio.Connection]. Returns OutputStreamResult.
func (c *Connection) OutputStream() chan<- audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.OutputStreamResult
}

// OnParticipantChange implements [audio.Connection].
// The callback is appended to RecordedCallbacks. To simulate events in tests,
// call [Connection.EmitEvent].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// EmitEvent calls all registered participant-change callbacks with the given event.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cbs := make([]func(audio.Event), len(c.RecordedCallbacks))
	copy(cbs, c.RecordedCallbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectFunc, when set, builds the result of each Connect call and takes
	// precedence over ConnectResult and ConnectError.
	ConnectFunc func(guildID, channelID string) (audio.Connection, error)

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	fn, res, err := p.ConnectFunc, p.ConnectResult, p.ConnectError
	p.mu.Unlock()
	if fn != nil {
		return fn(guildID, channelID)
	}
	return res, err
}

// Calls returns a copy of the recorded Connect invocations.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}
