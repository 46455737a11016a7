// Package voice keeps the bot's voice connections, one per guild, and feeds
// what it hears into the recorder.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mixer"
	"github.com/MrWong99/earshot/pkg/clock"
)

var (
	// ErrNotConnected is returned when the guild has no voice connection.
	ErrNotConnected = errors.New("voice: not connected")

	// ErrUserNotInVoice is returned by [Manager.Follow] when the user is in
	// no voice channel of the guild.
	ErrUserNotInVoice = errors.New("voice: user is not in a voice channel")

	// ErrClosed is returned by [Manager.Join] after [Manager.Close].
	ErrClosed = errors.New("voice: manager closed")
)

// infoEvery is how many frames a pump ingests between info-level progress
// logs. At 20 ms per frame this is five minutes.
const infoEvery = 15000

// Mono48k is the layout frames are stored in.
var Mono48k = audio.Format{SampleRate: recorder.SampleRate, Channels: 1}

// playFrame is the duration of one outgoing frame.
const playFrame = 20 * time.Millisecond

// Ingester accepts recorded frames. [*recorder.BufferStore] implements it.
type Ingester interface {
	Ingest(session, speaker string, f recorder.Frame) error
	DropSpeaker(speaker string) int
}

// Consent decides whether a user may be recorded.
type Consent interface {
	Allowed(user string) bool
}

// Locator finds the voice channel a user is in.
type Locator interface {
	UserVoiceChannel(guildID, userID string) (channelID string, ok bool)
}

// LocatorFunc adapts a function to [Locator].
type LocatorFunc func(guildID, userID string) (string, bool)

// UserVoiceChannel implements [Locator].
func (f LocatorFunc) UserVoiceChannel(guildID, userID string) (string, bool) {
	return f(guildID, userID)
}

// Config holds the dependencies of a [Manager].
type Config struct {
	Platform audio.Platform
	Recorder Ingester
	Consent  Consent

	// Locator backs [Manager.Follow]. Follow fails when it is nil.
	Locator Locator

	// Clock stamps ingested frames. Defaults to [clock.Real].
	Clock clock.Clock

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Info describes a live connection.
type Info struct {
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

type session struct {
	info   Info
	conn   audio.Connection
	player *mixer.Queue
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	pumps map[string]bool
}

// Manager owns the voice connections of every guild.
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
	joins    map[string]*sync.Mutex // serialises Join per guild
	closed   bool
}

// NewManager creates a manager with no connections.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*session),
		joins:    make(map[string]*sync.Mutex),
	}
}

// Join connects to channelID in guildID. If the guild is already connected
// to another channel the old connection is closed first; joining the
// current channel again is a no-op.
//
// Joins of one guild run one at a time. The platform handshake runs without
// the manager lock, so other guilds are not held up by it.
func (m *Manager) Join(ctx context.Context, guildID, channelID string) error {
	lock := m.joinLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old, ok := m.sessions[guildID]
	if ok && old.info.ChannelID == channelID {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, guildID)
	m.mu.Unlock()

	if ok {
		slog.Info("voice: moving channel", "guild_id", guildID, "from", old.info.ChannelID, "to", channelID)
		m.teardown(old)
	}

	conn, err := m.cfg.Platform.Connect(ctx, guildID, channelID)
	if err != nil {
		return fmt.Errorf("voice: join %s/%s: %w", guildID, channelID, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		info:   Info{GuildID: guildID, ChannelID: channelID, JoinedAt: m.cfg.Clock.Now()},
		conn:   conn,
		player: mixer.New(conn.OutputStream()),
		cancel: cancel,
		pumps:  make(map[string]bool),
	}
	conn.OnParticipantChange(func(ev audio.Event) {
		slog.Debug("voice: participant change", "guild_id", guildID, "user_id", ev.UserID, "event", ev.Type)
		if ev.Type == audio.EventJoin {
			m.startPumps(pumpCtx, s)
		}
	})
	m.startPumps(pumpCtx, s)
	m.cfg.Metrics.ActiveVoiceSessions.Add(ctx, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.teardown(s)
		return ErrClosed
	}
	m.sessions[guildID] = s
	m.mu.Unlock()

	slog.Info("voice: joined", "guild_id", guildID, "channel_id", channelID)
	return nil
}

// joinLock returns the mutex serialising joins of guildID.
func (m *Manager) joinLock(guildID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.joins[guildID]
	if !ok {
		l = new(sync.Mutex)
		m.joins[guildID] = l
	}
	return l
}

// Follow joins the voice channel userID is currently in and returns it.
func (m *Manager) Follow(ctx context.Context, guildID, userID string) (string, error) {
	if m.cfg.Locator == nil {
		return "", ErrUserNotInVoice
	}
	channelID, ok := m.cfg.Locator.UserVoiceChannel(guildID, userID)
	if !ok || channelID == "" {
		return "", ErrUserNotInVoice
	}
	return channelID, m.Join(ctx, guildID, channelID)
}

// Leave disconnects from the guild's voice channel.
func (m *Manager) Leave(guildID string) error {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	delete(m.sessions, guildID)
	m.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	m.teardown(s)
	slog.Info("voice: left", "guild_id", guildID, "channel_id", s.info.ChannelID)
	return nil
}

// Connected returns the live connection of guildID, if any.
func (m *Manager) Connected(guildID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	if !ok {
		return Info{}, false
	}
	return s.info, true
}

// List returns every live connection.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info)
	}
	return out
}

// Play sends 48 kHz mono PCM to the guild's voice channel in 20 ms frames.
// Sounds of one guild play one after another: Play waits behind any sound
// already queued and returns once its last frame is sent or ctx ends.
func (m *Manager) Play(ctx context.Context, guildID string, pcm []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[guildID]
	m.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	err := s.player.Play(ctx, Frames(pcm))
	if errors.Is(err, mixer.ErrClosed) {
		return ErrNotConnected
	}
	return err
}

// Frames slices 48 kHz mono PCM into 20 ms frames. The last frame is padded
// with silence.
func Frames(pcm []byte) []audio.Frame {
	size := recorder.DurationSamples(playFrame) * 2
	frames := make([]audio.Frame, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		data := make([]byte, size)
		copy(data, pcm[start:])
		frames = append(frames, audio.Frame{
			Data:       data,
			SampleRate: Mono48k.SampleRate,
			Channels:   Mono48k.Channels,
			Timestamp:  time.Duration(len(frames)) * playFrame,
		})
	}
	return frames
}

// Close disconnects every guild. Joins after Close fail with [ErrClosed].
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := m.teardown(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// teardown stops playback, disconnects s and waits for its pumps.
func (m *Manager) teardown(s *session) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.player.Close()
	err := s.conn.Disconnect()
	if err != nil {
		slog.Warn("voice: disconnect error", "guild_id", s.info.GuildID, "err", err)
	}
	s.wg.Wait()
	m.cfg.Metrics.ActiveVoiceSessions.Add(context.Background(), -1)
	return err
}

// startPumps starts a pump for every input stream that has none yet.
func (m *Manager) startPumps(ctx context.Context, s *session) {
	streams := s.conn.InputStreams()

	s.mu.Lock()
	defer s.mu.Unlock()
	// teardown cancels under s.mu, so no pump starts once it waits.
	if ctx.Err() != nil {
		return
	}
	for user, ch := range streams {
		if s.pumps[user] {
			continue
		}
		s.pumps[user] = true
		s.wg.Go(func() { m.pump(ctx, s.info.GuildID, user, ch) })
	}
}

// pump ingests one user's audio until the stream closes or ctx ends.
func (m *Manager) pump(ctx context.Context, guildID, userID string, in <-chan audio.Frame) {
	conv := audio.FormatConverter{Target: Mono48k}
	var ingested, skipped int

	slog.Debug("voice: pump started", "guild_id", guildID, "user_id", userID)
	defer func() {
		slog.Debug("voice: pump stopped",
			"guild_id", guildID,
			"user_id", userID,
			"ingested", ingested,
			"skipped", skipped,
		)
	}()

	for {
		var f audio.Frame
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			f = frame
		}

		if m.cfg.Consent != nil && !m.cfg.Consent.Allowed(userID) {
			skipped++
			continue
		}
		mono := conv.Convert(f)
		if len(mono.Data) == 0 {
			continue
		}
		err := m.cfg.Recorder.Ingest(guildID, userID, recorder.Frame{
			At:      m.cfg.Clock.Now(),
			Samples: audio.BytesToSamples(mono.Data),
		})
		if err != nil {
			slog.Debug("voice: ingest rejected", "guild_id", guildID, "user_id", userID, "err", err)
			continue
		}
		// Consent may have been withdrawn between the check and the write.
		if m.cfg.Consent != nil && !m.cfg.Consent.Allowed(userID) {
			m.cfg.Recorder.DropSpeaker(userID)
			skipped++
			continue
		}
		ingested++
		slog.Debug("voice: frame", "guild_id", guildID, "user_id", userID, "bytes", len(mono.Data))
		if ingested%infoEvery == 0 {
			slog.Info("voice: receiving", "guild_id", guildID, "user_id", userID, "frames", ingested)
		}
	}
}
