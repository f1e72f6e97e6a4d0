package server

import (
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/pulsegate/internal/platform/correlation"
)

// correlationMiddleware tags each request context with a fresh correlation
// ID. The slog handler stamps it onto every log line written with that
// context, the websocket upgrade path included.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
