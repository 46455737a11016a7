package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64

	// speakingIdle is how long the output may stay empty before the bot
	// stops flagging itself as speaking.
	speakingIdle = 200 * time.Millisecond
)

// Connection adapts a *discordgo.VoiceConnection to [audio.Connection].
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	guildID string

	mu       sync.RWMutex
	inputs   map[string]chan audio.Frame // keyed by user ID
	ssrcUser map[uint32]string
	closed   bool

	output chan audio.Frame

	changeCb func(audio.Event)
	changeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func()

	// disconnectVC tears down the voice connection. Overridden in tests.
	disconnectVC func() error
}

// newConnection wraps an already-joined voice connection and starts its
// receive and send loops.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		inputs:       make(map[string]chan audio.Frame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.Frame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	vc.AddHandler(c.handleSpeakingUpdate)
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)

	go c.recvLoop()
	go c.sendLoop()
	return c
}

// ChannelID returns the voice channel the connection is joined to.
func (c *Connection) ChannelID() string {
	return c.vc.ChannelID
}

// InputStreams returns a snapshot of the per-user input channels.
func (c *Connection) InputStreams() map[string]<-chan audio.Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]<-chan audio.Frame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// OutputStream returns the channel whose frames are encoded and sent into the
// voice channel.
func (c *Connection) OutputStream() chan<- audio.Frame {
	return c.output
}

// OnParticipantChange registers cb for join and leave events.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect leaves the voice channel and closes every input channel.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.mu.Lock()
		c.closed = true
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.mu.Unlock()
	})
	return err
}

// handleSpeakingUpdate learns the SSRC of a user from the voice gateway.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.bindSSRC(uint32(vs.SSRC), vs.UserID)
}

// bindSSRC records that ssrc belongs to userID. A user's earlier SSRC stays
// mapped, since late packets under it may still arrive.
func (c *Connection) bindSSRC(ssrc uint32, userID string) {
	c.mu.Lock()
	prev, known := c.ssrcUser[ssrc]
	c.ssrcUser[ssrc] = userID
	c.mu.Unlock()
	if !known || prev != userID {
		slog.Debug("discord: ssrc bound", "guild_id", c.guildID, "ssrc", ssrc, "user_id", userID)
	}
}

// userFor returns the user that owns ssrc, if announced.
func (c *Connection) userFor(ssrc uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ssrcUser[ssrc]
	return id, ok
}

// inputFor returns the input channel for userID, creating it on first use.
// created reports whether the channel is new. It returns nil once the
// connection is closed.
func (c *Connection) inputFor(userID string) (ch chan audio.Frame, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	ch, ok := c.inputs[userID]
	if !ok {
		ch = make(chan audio.Frame, inputChannelBuffer)
		c.inputs[userID] = ch
	}
	return ch, !ok
}

// recvLoop decodes incoming packets per SSRC and routes them to the owning
// user's input channel. It drops frames rather than block when a consumer
// falls behind.
func (c *Connection) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)
	unknown := make(map[uint32]bool)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			userID, known := c.userFor(pkt.SSRC)
			if !known {
				if !unknown[pkt.SSRC] {
					unknown[pkt.SSRC] = true
					slog.Debug("discord: dropping audio from unannounced ssrc", "guild_id", c.guildID, "ssrc", pkt.SSRC)
				}
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "user_id", userID, "error", err)
				continue
			}

			ch, created := c.inputFor(userID)
			if ch == nil {
				return
			}
			if created {
				c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: userID})
			}

			frame := audio.Frame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / opusSampleRate,
			}
			c.deliver(ch, frame)
		}
	}
}

// deliver sends frame without blocking. The read lock keeps Disconnect from
// closing ch mid-send.
func (c *Connection) deliver(ch chan audio.Frame, frame audio.Frame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case ch <- frame:
	default:
	}
}

// sendLoop converts output frames to 48 kHz stereo, cuts them into exact
// Opus frames, and sends them. Speaking is flagged on the first frame and
// cleared after the output has been idle for a short while.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "error", err)
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}
	speaking := false
	idle := time.NewTimer(speakingIdle)
	defer idle.Stop()

	var buf []byte
	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case <-idle.C:
			if speaking {
				c.setSpeaking(false)
				speaking = false
			}
		case frame := <-c.output:
			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}
			idle.Reset(speakingIdle)

			buf = append(buf, conv.Convert(frame).Data...)
			for len(buf) >= opusFrameBytes {
				packet, err := enc.encode(buf[:opusFrameBytes])
				buf = buf[opusFrameBytes:]
				if err != nil {
					slog.Warn("discord: opus encode error", "error", err)
					continue
				}
				select {
				case c.vc.OpusSend <- packet:
				case <-c.done:
					return
				}
			}
		}
	}
}

// handleVoiceStateUpdate turns gateway voice state changes for this channel
// into join and leave events.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID || vsu.VoiceState == nil {
		return
	}
	channelID := c.vc.ChannelID

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	wasHere := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID
	isHere := vsu.ChannelID == channelID
	switch {
	case wasHere && !isHere:
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: username})
	case isHere && !wasHere:
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: username})
	}
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}

// emitEvent invokes the registered callback on its own goroutine.
func (c *Connection) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
