package discord

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// silenceOpus is the three-byte Opus silence frame Discord sends.
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

// newTestConnection creates a Connection backed by fake OpusSend/OpusRecv
// channels instead of a live voice websocket.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 16),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	c := &Connection{
		vc:           vc,
		guildID:      "guild-test",
		inputs:       make(map[string]chan audio.Frame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.Frame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil },
	}
	go c.recvLoop()
	go c.sendLoop()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// waitForStreams polls InputStreams until it holds n entries.
func waitForStreams(t *testing.T, c *Connection, n int) map[string]<-chan audio.Frame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := c.InputStreams(); len(s) == n {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("InputStreams never reached %d entries, have %d", n, len(c.InputStreams()))
	return nil
}

func TestNew(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	if p := New(s); p == nil || p.session != s {
		t.Fatal("New did not keep the session")
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: %v", i, err)
		}
	}
}

func TestConnection_RoutesBySpeakingUpdate(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	joined := make(chan audio.Event, 4)
	c.OnParticipantChange(func(ev audio.Event) { joined <- ev })

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 100, Speaking: true})
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "bob", SSRC: 200, Speaking: true})
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}

	streams := waitForStreams(t, c, 2)
	for _, user := range []string{"alice", "bob"} {
		ch, ok := streams[user]
		if !ok {
			t.Fatalf("missing stream for %s", user)
		}
		select {
		case f := <-ch:
			if f.SampleRate != opusSampleRate || f.Channels != opusChannels {
				t.Errorf("%s: format %dHz %dch", user, f.SampleRate, f.Channels)
			}
			if len(f.Data) == 0 {
				t.Errorf("%s: empty frame", user)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for frame", user)
		}
	}

	for range 2 {
		select {
		case ev := <-joined:
			if ev.Type != audio.EventJoin {
				t.Errorf("event = %v, want JOIN", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for join event")
		}
	}
}

func TestConnection_DropsUnannouncedSSRC(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 999, Opus: silenceOpus}
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 1})
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 1, Opus: silenceOpus}

	streams := waitForStreams(t, c, 1)
	if _, ok := streams["alice"]; !ok {
		t.Fatalf("streams = %v, want only alice", streams)
	}
}

func TestConnection_NewSSRCKeepsUserStream(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 1})
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 1, Opus: silenceOpus}
	first := waitForStreams(t, c, 1)["alice"]

	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "alice", SSRC: 2})
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 2, Opus: silenceOpus}

	for range 2 {
		select {
		case <-first:
		case <-time.After(time.Second):
			t.Fatal("frame from the new SSRC did not reach the existing stream")
		}
	}
	if n := len(c.InputStreams()); n != 1 {
		t.Errorf("streams = %d, want 1", n)
	}
}

func TestConnection_OnParticipantChangeReplaces(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	first := make(chan audio.Event, 1)
	second := make(chan audio.Event, 1)
	c.OnParticipantChange(func(ev audio.Event) { first <- ev })
	c.OnParticipantChange(func(ev audio.Event) { second <- ev })

	c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: "u"})
	select {
	case ev := <-second:
		if ev.Type != audio.EventLeave || ev.UserID != "u" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	select {
	case ev := <-first:
		t.Errorf("replaced callback received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_VoiceStateEvents(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.vc.ChannelID = "vc-1"
	events := make(chan audio.Event, 4)
	c.OnParticipantChange(func(ev audio.Event) { events <- ev })

	member := &discordgo.Member{User: &discordgo.User{Username: "alice"}}
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "vc-1", UserID: "a", Member: member},
	})
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "", UserID: "a", Member: member},
		BeforeUpdate: &discordgo.VoiceState{GuildID: "guild-test", ChannelID: "vc-1", UserID: "a"},
	})
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "other", ChannelID: "vc-1", UserID: "b"},
	})

	got := map[audio.EventType]bool{}
	for range 2 {
		select {
		case ev := <-events:
			if ev.UserID != "a" || ev.Username != "alice" {
				t.Errorf("event = %+v", ev)
			}
			got[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for voice state event")
		}
	}
	if !got[audio.EventJoin] || !got[audio.EventLeave] {
		t.Errorf("events = %v, want join and leave", got)
	}
}

func TestConnection_SendEncodesMono(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	// 20 ms of mono is upmixed to exactly one stereo Opus frame.
	c.OutputStream() <- audio.Frame{
		Data:       make([]byte, opusFrameSize*2),
		SampleRate: opusSampleRate,
		Channels:   1,
	}

	select {
	case packet := <-c.vc.OpusSend:
		if len(packet) == 0 {
			t.Error("received empty Opus packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Opus packet")
	}
}

func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() { _ = c.Disconnect() })
	}
	wg.Wait()
	if _, created := c.inputFor("late"); created {
		t.Error("inputFor created a stream after Disconnect")
	}
}
