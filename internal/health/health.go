// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs
// every registered [Checker] and answers 503 when any of them fails. Both
// respond with a JSON object carrying a "status" of "ok" or "fail" and, for
// readiness, a "checks" map keyed by checker name.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name keys the result in the JSON response (e.g. "store", "ffmpeg").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a Handler that evaluates checkers in order on every /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 only when every checker passes.
func (h *Handler) Readyz(c echo.Context) error {
	ctx := c.Request().Context()
	checks := make(map[string]string, len(h.checkers))
	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK

	for _, chk := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := chk.Check(cctx)
		cancel()

		if err != nil {
			checks[chk.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			slog.Warn("health: readiness check failed", "check", chk.Name, "err", err)
			continue
		}
		checks[chk.Name] = "ok"
	}
	return c.JSON(status, res)
}

// Register adds GET /healthz and GET /readyz to e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
}
