package soundboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/transcode"
	"github.com/MrWong99/earshot/pkg/clock"
)

// SoundCache produces the bytes of a sound in a format.
// [*transcode.Cache] implements it.
type SoundCache interface {
	Get(ctx context.Context, soundID string, format transcode.Format) ([]byte, error)
}

var _ SoundCache = (*transcode.Cache)(nil)

// Playback is the outcome of a successful [Dispatcher.Play].
type Playback struct {
	Session string           `json:"session"`
	SoundID string           `json:"sound_id"`
	Name    string           `json:"name"`
	Expr    string           `json:"expr"`
	Format  transcode.Format `json:"format"`
	At      time.Time        `json:"at"`

	// Data is shared with the cache and must not be modified.
	Data []byte `json:"-"`
}

// Observer is told about every successful play. It runs on the playing
// goroutine and must not block.
type Observer func(ctx context.Context, p Playback)

// DispatcherOption is a functional option for [NewDispatcher].
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock sets the time source for history entries.
func WithDispatcherClock(c clock.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// WithDispatcherMetrics sets the metrics sink.
func WithDispatcherMetrics(m *observe.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher resolves play requests, fetches their audio and records them.
type Dispatcher struct {
	resolver *Resolver
	cache    SoundCache
	history  *History
	clock    clock.Clock
	metrics  *observe.Metrics

	mu        sync.RWMutex
	observers map[int]Observer
	nextID    int
}

// NewDispatcher wires the play pipeline together.
func NewDispatcher(resolver *Resolver, cache SoundCache, history *History, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		resolver:  resolver,
		cache:     cache,
		history:   history,
		clock:     clock.Real{},
		observers: make(map[int]Observer),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// History returns the play history the dispatcher records into.
func (d *Dispatcher) History() *History { return d.history }

// Subscribe registers fn for every later play and returns a function that
// removes it.
func (d *Dispatcher) Subscribe(fn Observer) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.observers[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}
}

// Play resolves expr in session, fetches the sound in format and records the
// play. History is only touched when every step succeeded.
func (d *Dispatcher) Play(ctx context.Context, session string, expr Expr, format transcode.Format) (Playback, error) {
	kind := Kind(expr)

	snd, err := d.resolver.ResolveSound(ctx, session, expr)
	if err != nil {
		d.metrics.RecordPlay(ctx, kind, playStatus(err))
		return Playback{}, err
	}

	data, err := d.cache.Get(ctx, snd.ID, format)
	if err != nil {
		d.metrics.RecordPlay(ctx, kind, playStatus(err))
		slog.Warn("soundboard: play failed",
			"session", session,
			"sound_id", snd.ID,
			"format", format,
			"error", err,
		)
		return Playback{}, err
	}

	p := Playback{
		Session: session,
		SoundID: snd.ID,
		Name:    snd.Name,
		Expr:    expr.String(),
		Format:  format,
		At:      d.clock.Now(),
		Data:    data,
	}
	d.history.Record(session, snd.ID, p.At)
	d.metrics.RecordPlay(ctx, kind, "ok")
	slog.Debug("soundboard: playing", "session", session, "sound_id", snd.ID, "name", snd.Name, "bytes", len(data))

	d.mu.RLock()
	observers := make([]Observer, 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	d.mu.RUnlock()
	for _, fn := range observers {
		fn(ctx, p)
	}
	return p, nil
}

func playStatus(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.Is(err, transcode.ErrConversionFailed):
		return "conversion_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
