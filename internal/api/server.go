// Package api exposes the voice, soundboard and recorder operations over
// HTTP using echo.
//
// Every route is scoped to a guild. Playback routes resolve a sound
// expression through the [soundboard.Dispatcher] and stream the PCM to the
// guild's voice connection; the audio route returns the same sound as a WAV
// file instead. Recordings are exported from the [recorder.BufferStore] as
// WAV. Play events are pushed to websocket subscribers as JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/soundboard"
	"github.com/MrWong99/earshot/internal/transcode"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/clock"
)

// shutdownTimeout bounds graceful shutdown in [Server.Run].
const shutdownTimeout = 5 * time.Second

// Voice is the subset of [voice.Manager] the API drives.
type Voice interface {
	Join(ctx context.Context, guildID, channelID string) error
	Follow(ctx context.Context, guildID, userID string) (string, error)
	Leave(guildID string) error
	Connected(guildID string) (voice.Info, bool)
	Play(ctx context.Context, guildID string, pcm []byte) error
}

var _ Voice = (*voice.Manager)(nil)

// Recordings is the subset of [recorder.BufferStore] the API reads.
type Recordings interface {
	ListActive(session string) []string
	Export(session, speaker string) (recorder.Snapshot, error)
}

var _ Recordings = (*recorder.BufferStore)(nil)

// Catalog lists a guild's sounds grouped for display.
type Catalog interface {
	Groups(ctx context.Context, session string) ([]soundboard.Group, error)
}

var _ Catalog = (*soundboard.Library)(nil)

// Config holds the dependencies of a [Server]. Voice, Dispatcher, Catalog
// and Recordings are required.
type Config struct {
	Voice      Voice
	Dispatcher *soundboard.Dispatcher
	Catalog    Catalog
	Recordings Recordings

	// Stats counts plays from requests carrying a ?user= query and backs
	// /stats. Defaults to an empty counter.
	Stats *soundboard.Stats

	// Health serves /healthz and /readyz. Defaults to a handler without
	// readiness checks.
	Health *health.Handler

	// MetricsHandler serves /metrics when non-nil.
	MetricsHandler http.Handler

	// Metrics receives HTTP request durations. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	Clock clock.Clock
}

// Server is the echo application.
type Server struct {
	echo *echo.Echo
	cfg  Config
}

// New builds the echo app and registers every route.
func New(cfg Config) *Server {
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Stats == nil {
		cfg.Stats = soundboard.NewStats()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(observe.Middleware(cfg.Metrics))

	s := &Server{echo: e, cfg: cfg}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.cfg.Health.Register(s.echo)
	if s.cfg.MetricsHandler != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.cfg.MetricsHandler))
	}

	g := s.echo.Group("/guilds/:guild")
	g.POST("/channels/:channel/join", s.handleJoin)
	g.POST("/users/:user/follow", s.handleFollow)
	g.POST("/leave", s.handleLeave)

	g.POST("/sounds/random/play", s.handlePlay(func(echo.Context) (soundboard.Expr, error) {
		return soundboard.Random{}, nil
	}))
	g.POST("/sounds/latest/play", s.handlePlay(func(echo.Context) (soundboard.Expr, error) {
		return soundboard.LatestAdded{}, nil
	}))
	g.POST("/sounds/last-played/play", s.handlePlay(func(echo.Context) (soundboard.Expr, error) {
		return soundboard.LastPlayed{}, nil
	}))
	g.POST("/sounds/last-played/:offset/play", s.handlePlay(func(c echo.Context) (soundboard.Expr, error) {
		lp, err := soundboard.ParseOffset(c.Param("offset"))
		if err != nil {
			return nil, err
		}
		return lp, nil
	}))
	g.POST("/sounds/:sound/play", s.handlePlay(soundParam))

	g.GET("/sounds", s.handleSounds)
	g.GET("/sounds/:sound/audio", s.handleAudio)
	g.GET("/recordings", s.handleRecordings)
	g.GET("/recordings/:user", s.handleRecording)
	g.GET("/stats", s.handleStats)
	g.GET("/events", s.handleEvents)
}

// Run serves on addr until ctx is cancelled or startup fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api: listen %s: %w", addr, err)
			return
		}
		errCh <- nil
	}()
	slog.Info("api: listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("api: shutdown: %w", err)
		}
		return nil
	}
}

// ─── Error mapping ───────────────────────────────────────────────────────────

// httpError maps domain errors onto HTTP statuses. Unknown errors become 500
// without leaking their text.
func httpError(err error) error {
	switch {
	case errors.Is(err, soundboard.ErrBadExpr):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, soundboard.ErrNotFound),
		errors.Is(err, soundboard.ErrEmpty),
		errors.Is(err, recorder.ErrNotFound),
		errors.Is(err, voice.ErrNotConnected),
		errors.Is(err, voice.ErrUserNotInVoice):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, soundboard.ErrTranscodingFailed),
		errors.Is(err, transcode.ErrConversionFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	default:
		slog.Error("api: request failed", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// soundParam parses the :sound segment, which may hold several ids joined
// by "|".
func soundParam(c echo.Context) (soundboard.Expr, error) {
	raw := c.Param("sound")
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return soundboard.ParseIDs(raw)
}
