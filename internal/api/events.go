package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"

	"github.com/MrWong99/earshot/internal/soundboard"
)

const (
	// eventBuffer is how many play events may queue per subscriber before
	// new ones are dropped.
	eventBuffer = 32

	eventWriteTimeout = 5 * time.Second
)

// handleEvents upgrades to a websocket and streams the guild's plays as JSON
// [soundboard.Playback] objects until either side closes.
func (s *Server) handleEvents(c echo.Context) error {
	guild := c.Param("guild")
	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // Accept already wrote the error response.
	}
	defer conn.CloseNow()

	// Nothing is read from clients; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(c.Request().Context())

	events := make(chan soundboard.Playback, eventBuffer)
	unsubscribe := s.cfg.Dispatcher.Subscribe(func(_ context.Context, p soundboard.Playback) {
		if p.Session != guild {
			return
		}
		select {
		case events <- p:
		default:
			slog.Warn("api: event subscriber lagging, dropping play", "guild", guild, "sound_id", p.SoundID)
		}
	})
	defer unsubscribe()

	slog.Debug("api: event subscriber connected", "guild", guild)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("api: event subscriber gone", "guild", guild)
			return nil
		case p := <-events:
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, p)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("api: event write failed", "guild", guild, "err", err)
				}
				return nil
			}
		}
	}
}
