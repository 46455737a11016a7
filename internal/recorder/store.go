package recorder

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/clock"
)

// shardCount is the number of independently locked partitions of a
// [BufferStore]. Must be a power of two.
const shardCount = 32

type key struct {
	session string
	speaker string
}

type shard struct {
	mu      sync.RWMutex
	buffers map[key]*RingBuffer
}

// Option is a functional option for [NewBufferStore].
type Option func(*BufferStore)

// WithClock sets the time source used to stamp frames and judge staleness.
// Defaults to [clock.Real].
func WithClock(c clock.Clock) Option {
	return func(s *BufferStore) { s.clock = c }
}

// WithFrameInterval sets the nominal frame interval used to size new ring
// buffers. Defaults to 20 ms.
func WithFrameInterval(d time.Duration) Option {
	return func(s *BufferStore) { s.frameInterval = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *BufferStore) { s.metrics = m }
}

// BufferStore maps (session, speaker) pairs to their [RingBuffer].
//
// Keys are spread over shards, each guarded by its own RWMutex, and every
// buffer has its own mutex. Ingest holds the shard read lock for the whole
// write, so concurrent ingest for different speakers never contends, while a
// sweep holds the shard write lock and therefore never interleaves with a
// write to a buffer it is about to drop.
//
// All methods are safe for concurrent use.
type BufferStore struct {
	shards [shardCount]shard
	seed   maphash.Seed

	duration      time.Duration
	expiration    time.Duration
	frameInterval time.Duration

	clock   clock.Clock
	metrics *observe.Metrics
}

// NewBufferStore creates a store whose buffers retain duration of audio and
// expire after expiration without writes.
func NewBufferStore(duration, expiration time.Duration, opts ...Option) *BufferStore {
	s := &BufferStore{
		seed:          maphash.MakeSeed(),
		duration:      duration,
		expiration:    expiration,
		frameInterval: 20 * time.Millisecond,
		clock:         clock.Real{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	for i := range s.shards {
		s.shards[i].buffers = make(map[key]*RingBuffer)
	}
	return s
}

// Duration returns the per-buffer retention limit.
func (s *BufferStore) Duration() time.Duration { return s.duration }

// Expiration returns the inactivity window after which buffers are dropped.
func (s *BufferStore) Expiration() time.Duration { return s.expiration }

func (s *BufferStore) shardFor(k key) *shard {
	h := maphash.String(s.seed, k.session+"\x00"+k.speaker)
	return &s.shards[h&(shardCount-1)]
}

// Ingest writes f into the buffer for (session, speaker), creating it on the
// first frame. A zero f.At is stamped with the store's clock. A buffer that
// went stale is reset before the write, so the old audio never joins the
// new.
func (s *BufferStore) Ingest(session, speaker string, f Frame) error {
	ctx := context.Background()
	if f.Duration() > s.duration {
		s.metrics.RecordFrameDropped(ctx, "too_long")
		return fmt.Errorf("recorder: ingest %s/%s: %w", session, speaker, ErrFrameTooLong)
	}
	if f.At.IsZero() {
		f.At = s.clock.Now()
	}

	k := key{session: session, speaker: speaker}
	sh := s.shardFor(k)

	sh.mu.RLock()
	if buf, ok := sh.buffers[k]; ok {
		discarded, err := buf.writeFresh(f, s.expiration)
		sh.mu.RUnlock()
		return s.afterIngest(ctx, k, discarded, err)
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	buf, ok := sh.buffers[k]
	if !ok {
		buf = NewRingBuffer(s.duration, s.frameInterval)
		sh.buffers[k] = buf
		s.metrics.ActiveBuffers.Add(ctx, 1)
		slog.Debug("recorder: buffer created", "session", session, "speaker", speaker)
	}
	discarded, err := buf.writeFresh(f, s.expiration)
	sh.mu.Unlock()
	return s.afterIngest(ctx, k, discarded, err)
}

func (s *BufferStore) afterIngest(ctx context.Context, k key, discarded bool, err error) error {
	if err != nil {
		s.metrics.RecordFrameDropped(ctx, "rejected")
		return fmt.Errorf("recorder: ingest %s/%s: %w", k.session, k.speaker, err)
	}
	if discarded {
		slog.Debug("recorder: stale buffer restarted", "session", k.session, "speaker", k.speaker)
	}
	s.metrics.FramesIngested.Add(ctx, 1)
	return nil
}

// Export returns a snapshot of the buffer for (session, speaker). It returns
// [ErrNotFound] when no buffer exists, when it holds no audio, or when it
// expired; an expired buffer is dropped on the spot.
func (s *BufferStore) Export(session, speaker string) (Snapshot, error) {
	k := key{session: session, speaker: speaker}
	sh := s.shardFor(k)

	sh.mu.RLock()
	buf, ok := sh.buffers[k]
	sh.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	now := s.clock.Now()
	if buf.IsStale(now, s.expiration) {
		s.evictIfStale(sh, k, buf, now)
		return Snapshot{}, ErrNotFound
	}

	snap := buf.Snapshot()
	if snap.Empty() {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *BufferStore) evictIfStale(sh *shard, k key, buf *RingBuffer, now time.Time) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.buffers[k]; ok && cur == buf && buf.IsStale(now, s.expiration) {
		delete(sh.buffers, k)
		s.recordEvictions(1)
	}
}

// ListActive returns the sorted IDs of speakers in session that have live,
// non-empty buffers.
func (s *BufferStore) ListActive(session string) []string {
	now := s.clock.Now()
	var speakers []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, buf := range sh.buffers {
			if k.session != session || buf.Len() == 0 || buf.IsStale(now, s.expiration) {
				continue
			}
			speakers = append(speakers, k.speaker)
		}
		sh.mu.RUnlock()
	}
	slices.Sort(speakers)
	return speakers
}

// Sweep removes every buffer that is stale at now and returns how many were
// removed. Shards are swept one at a time, so ingest into other shards
// proceeds while a sweep runs.
func (s *BufferStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, buf := range sh.buffers {
			if buf.IsStale(now, s.expiration) {
				delete(sh.buffers, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	s.recordEvictions(removed)
	return removed
}

// DropSpeaker removes the speaker's buffers from every session and returns
// how many were removed. Used when a speaker withdraws consent.
func (s *BufferStore) DropSpeaker(speaker string) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k := range sh.buffers {
			if k.speaker == speaker {
				delete(sh.buffers, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		s.metrics.ActiveBuffers.Add(context.Background(), int64(-removed))
	}
	return removed
}

// Len returns the total number of buffers across all sessions, stale or not.
func (s *BufferStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.buffers)
		sh.mu.RUnlock()
	}
	return n
}

func (s *BufferStore) recordEvictions(n int) {
	if n == 0 {
		return
	}
	ctx := context.Background()
	s.metrics.BufferEvictions.Add(ctx, int64(n))
	s.metrics.ActiveBuffers.Add(ctx, int64(-n))
}

// Run sweeps the store every interval until ctx is cancelled. A panicking
// sweep is logged and the schedule continues. Run returns nil on
// cancellation and may be called again afterwards.
func (s *BufferStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("recorder: sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.safeSweep()
		}
	}
}

func (s *BufferStore) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recorder: sweep panicked", "panic", r)
		}
	}()
	removed := s.Sweep(s.clock.Now())
	level := slog.LevelDebug
	if removed > 0 {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, "recorder: swept stale buffers", "removed", removed, "remaining", s.Len())
}
