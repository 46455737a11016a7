package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/soundboard"
	"github.com/MrWong99/earshot/internal/transcode"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/audio/wav"
)

const mimeWAV = "audio/wav"

// ─── Voice ───────────────────────────────────────────────────────────────────

func (s *Server) connection(c echo.Context, guild string) error {
	info, ok := s.cfg.Voice.Connected(guild)
	if !ok {
		return httpError(voice.ErrNotConnected)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleJoin(c echo.Context) error {
	guild := c.Param("guild")
	if err := s.cfg.Voice.Join(c.Request().Context(), guild, c.Param("channel")); err != nil {
		return httpError(err)
	}
	return s.connection(c, guild)
}

func (s *Server) handleFollow(c echo.Context) error {
	guild := c.Param("guild")
	if _, err := s.cfg.Voice.Follow(c.Request().Context(), guild, c.Param("user")); err != nil {
		return httpError(err)
	}
	return s.connection(c, guild)
}

func (s *Server) handleLeave(c echo.Context) error {
	if err := s.cfg.Voice.Leave(c.Param("guild")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusOK)
}

// ─── Playback ────────────────────────────────────────────────────────────────

type exprFunc func(c echo.Context) (soundboard.Expr, error)

// handlePlay resolves the request's expression and plays it in the guild's
// voice channel. It answers once the sound is queued on the connection.
func (s *Server) handlePlay(parse exprFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		guild := c.Param("guild")

		expr, err := parse(c)
		if err != nil {
			return httpError(err)
		}
		if _, ok := s.cfg.Voice.Connected(guild); !ok {
			return echo.NewHTTPError(http.StatusConflict, "not in a voice channel")
		}

		p, err := s.cfg.Dispatcher.Play(ctx, guild, expr, transcode.FormatPCM)
		if err != nil {
			return httpError(err)
		}
		if err := s.cfg.Voice.Play(ctx, guild, p.Data); err != nil {
			if errors.Is(err, voice.ErrNotConnected) {
				return echo.NewHTTPError(http.StatusConflict, "not in a voice channel")
			}
			return httpError(err)
		}
		if user := c.QueryParam("user"); user != "" {
			s.cfg.Stats.Register(guild, user, p.At)
		}
		return c.JSON(http.StatusOK, p)
	}
}

// handleAudio answers with the resolved sound as a WAV file. The play is
// recorded in history like any other.
func (s *Server) handleAudio(c echo.Context) error {
	expr, err := soundParam(c)
	if err != nil {
		return httpError(err)
	}
	p, err := s.cfg.Dispatcher.Play(c.Request().Context(), c.Param("guild"), expr, transcode.FormatWAV)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`inline; filename="%s.wav"`, safeFilename(p.Name)))
	return c.Blob(http.StatusOK, mimeWAV, p.Data)
}

type soundsResponse struct {
	Groups []soundboard.Group `json:"groups"`
}

func (s *Server) handleSounds(c echo.Context) error {
	groups, err := s.cfg.Catalog.Groups(c.Request().Context(), c.Param("guild"))
	if err != nil {
		return httpError(err)
	}
	if groups == nil {
		groups = []soundboard.Group{}
	}
	return c.JSON(http.StatusOK, soundsResponse{Groups: groups})
}

// ─── Recordings ──────────────────────────────────────────────────────────────

type recordingsResponse struct {
	Speakers []string `json:"speakers"`
}

func (s *Server) handleRecordings(c echo.Context) error {
	speakers := s.cfg.Recordings.ListActive(c.Param("guild"))
	if speakers == nil {
		speakers = []string{}
	}
	return c.JSON(http.StatusOK, recordingsResponse{Speakers: speakers})
}

func (s *Server) handleRecording(c echo.Context) error {
	user := c.Param("user")
	snap, err := s.cfg.Recordings.Export(c.Param("guild"), user)
	if err != nil {
		return httpError(err)
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, mimeWAV)
	h.Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.wav"`, safeFilename(user)))
	c.Response().WriteHeader(http.StatusOK)
	return wav.Encode(c.Response(), snap.Samples(), recorder.SampleRate, 1)
}

// ─── Stats ───────────────────────────────────────────────────────────────────

type statsResponse struct {
	Top    []soundboard.UserCount `json:"top"`
	Window string                 `json:"window"`
	Recent []soundboard.UserCount `json:"recent"`
}

// handleStats reports all-time top users and play counts in a trailing
// window. ?window= takes a Go duration and is clamped; ?top= sets how many
// users the all-time list holds.
func (s *Server) handleStats(c echo.Context) error {
	guild := c.Param("guild")

	window := soundboard.MaxStatsWindow
	if v := c.QueryParam("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid window %q", v))
		}
		window = d
	}
	top := soundboard.DefaultTopUsers
	if v := c.QueryParam("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid top %q", v))
		}
		top = n
	}

	clamped, recent := s.cfg.Stats.Window(guild, window, s.cfg.Clock.Now())
	res := statsResponse{
		Top:    s.cfg.Stats.Top(guild, top),
		Window: clamped.String(),
		Recent: recent,
	}
	if res.Top == nil {
		res.Top = []soundboard.UserCount{}
	}
	if res.Recent == nil {
		res.Recent = []soundboard.UserCount{}
	}
	return c.JSON(http.StatusOK, res)
}

func safeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "sound"
	}
	return strings.NewReplacer(`"`, "_", `\`, "_", "/", "_").Replace(name)
}
