// Package app wires the Earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the sound catalog and
// builds the recorder, soundboard, voice manager and HTTP API, Run drives
// the background sweepers and the API server, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithPlatform, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/api"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/consent"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/soundboard"
	"github.com/MrWong99/earshot/internal/transcode"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/clock"
)

// ErrNoVoicePlatform is returned when joining a voice channel without a
// configured platform, i.e. when the Discord bot is disabled.
var ErrNoVoicePlatform = errors.New("app: no voice platform configured")

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Injected or defaulted in New.
	store          soundboard.Store
	consentStore   consent.Store
	platform       audio.Platform
	locator        voice.Locator
	clock          clock.Clock
	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems, initialised in New, torn down in Shutdown.
	converter  transcode.Converter
	cache      *transcode.Cache
	library    *soundboard.Library
	dispatcher *soundboard.Dispatcher
	stats      *soundboard.Stats
	recordings *recorder.BufferStore
	whitelist  *consent.Registry
	voice      *voice.Manager
	health     *health.Handler
	server     *api.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a sound catalog instead of opening one through the
// registry. The caller keeps ownership and closes it.
func WithStore(s soundboard.Store) Option {
	return func(a *App) { a.store = s }
}

// WithConsentStore injects the whitelist backend instead of a file at
// recorder.whitelist_path.
func WithConsentStore(s consent.Store) Option {
	return func(a *App) { a.consentStore = s }
}

// WithPlatform sets the voice platform and the locator backing /listen.
// Without it every join fails with [ErrNoVoicePlatform].
func WithPlatform(p audio.Platform, loc voice.Locator) Option {
	return func(a *App) {
		a.platform = p
		a.locator = loc
	}
}

// WithClock replaces the wall clock in every subsystem.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics sets the instruments and the handler exposed at /metrics.
func WithMetrics(m *observe.Metrics, handler http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = handler
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Stores and
// converters come from reg, which main populates with the concrete
// implementations.
//
// New performs all initialisation synchronously. On error every resource
// opened so far is released.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.platform == nil {
		a.platform = noPlatform{}
	}

	if err := a.init(ctx); err != nil {
		a.runClosers()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Sound catalog ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Converter + library + cache ───────────────────────────────────
	if err := a.initSoundboard(); err != nil {
		return fmt.Errorf("app: init soundboard: %w", err)
	}

	// ── 3. Voice buffers ─────────────────────────────────────────────────
	rc := a.cfg.Recorder
	a.recordings = recorder.NewBufferStore(rc.BufferDuration, rc.BufferExpiration,
		recorder.WithClock(a.clock),
		recorder.WithFrameInterval(rc.FrameInterval),
		recorder.WithMetrics(a.metrics),
	)

	// ── 4. Consent whitelist ─────────────────────────────────────────────
	if err := a.initConsent(); err != nil {
		return fmt.Errorf("app: init consent: %w", err)
	}

	// ── 5. Voice manager ─────────────────────────────────────────────────
	a.voice = voice.NewManager(voice.Config{
		Platform: a.platform,
		Recorder: a.recordings,
		Consent:  a.whitelist,
		Locator:  a.locator,
		Clock:    a.clock,
		Metrics:  a.metrics,
	})

	// ── 6. Health + HTTP API ─────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	a.server = api.New(api.Config{
		Voice:          a.voice,
		Dispatcher:     a.dispatcher,
		Catalog:        a.library,
		Recordings:     a.recordings,
		Stats:          a.stats,
		Health:         a.health,
		MetricsHandler: a.metricsHandler,
		Metrics:        a.metrics,
		Clock:          a.clock,
	})

	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured catalog unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	store, err := a.reg.CreateStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.store = store
	if c, ok := store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	slog.Info("app: store opened", "driver", a.cfg.Store.Driver)
	return nil
}

// initSoundboard builds the converter, library, transcode cache and the
// dispatcher on top of the catalog.
func (a *App) initSoundboard() error {
	sc := a.cfg.Soundboard

	conv, err := a.reg.CreateConverter(sc)
	if err != nil {
		return err
	}
	a.converter = conv

	a.library = soundboard.NewLibrary(a.store, conv, nil, soundboard.LibraryConfig{
		Dir:         sc.SoundsDir,
		MaxDuration: sc.MaxDuration,
		Clock:       a.clock,
	})
	a.cache = transcode.NewCache(conv, a.library.Source, sc.CacheDuration,
		transcode.WithClock(a.clock),
		transcode.WithMetrics(a.metrics),
	)
	a.library.SetCache(a.cache)

	history := soundboard.NewHistory(sc.HistorySize)
	resolver := soundboard.NewResolver(a.store, history, nil)
	a.dispatcher = soundboard.NewDispatcher(resolver, a.cache, history,
		soundboard.WithDispatcherClock(a.clock),
		soundboard.WithDispatcherMetrics(a.metrics),
	)
	a.stats = soundboard.NewStats()
	return nil
}

// initConsent loads the whitelist. Removing a user drops their buffers.
func (a *App) initConsent() error {
	if a.consentStore == nil {
		a.consentStore = consent.NewFileStore(a.cfg.Recorder.WhitelistPath)
	}
	reg, err := consent.NewRegistry(a.consentStore)
	if err != nil {
		return err
	}
	reg.OnRemove(func(user string) {
		n := a.recordings.DropSpeaker(user)
		slog.Info("app: dropped buffers of withdrawn user", "user_id", user, "buffers", n)
	})
	a.whitelist = reg
	slog.Info("app: whitelist loaded", "users", len(reg.List()))
	return nil
}

// checkers returns the readiness probes for the configured backends.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{Name: "store", Check: a.store.Ping}}
	if a.cfg.Soundboard.Converter.UsesFFmpeg() {
		ff := transcode.NewFFmpeg(a.cfg.Soundboard.FFmpegPath)
		checks = append(checks, health.Checker{Name: "ffmpeg", Check: ff.Available})
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Voice returns the voice connection manager.
func (a *App) Voice() *voice.Manager { return a.voice }

// Library returns the sound library.
func (a *App) Library() *soundboard.Library { return a.library }

// Dispatcher returns the sound playback dispatcher.
func (a *App) Dispatcher() *soundboard.Dispatcher { return a.dispatcher }

// Stats returns the per-user play counters.
func (a *App) Stats() *soundboard.Stats { return a.stats }

// Recordings returns the rolling voice buffers.
func (a *App) Recordings() *recorder.BufferStore { return a.recordings }

// Whitelist returns the recording consent registry.
func (a *App) Whitelist() *consent.Registry { return a.whitelist }

// Server returns the HTTP API.
func (a *App) Server() *api.Server { return a.server }

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run starts the buffer and cache sweepers and, when server.listen_addr is
// set, the HTTP API. It blocks until ctx is cancelled or a component fails;
// the first failure stops the others.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.recordings.Run(gctx, a.cfg.Recorder.SweepInterval)
	})
	g.Go(func() error {
		return a.cache.Run(gctx, a.cfg.Soundboard.CacheSweepInterval)
	})
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error {
			return a.server.Run(gctx, addr)
		})
	} else {
		slog.Info("app: http api disabled")
	}

	return g.Wait()
}

// Shutdown disconnects every voice channel and runs all registered closers
// in order, respecting the context deadline. It is safe to call multiple
// times; only the first call has any effect.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		// Voice first so no frame reaches a closed store.
		if err := a.voice.Close(); err != nil {
			slog.Warn("app: voice close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("app: closer error", "err", err)
		}
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// noPlatform stands in when no bot is running.
type noPlatform struct{}

func (noPlatform) Connect(context.Context, string, string) (audio.Connection, error) {
	return nil, ErrNoVoicePlatform
}
