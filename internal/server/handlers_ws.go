package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // clients connect from arbitrary origins; auth happens in-protocol
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	if ok, reason := s.guard.Acquire(ip); !ok {
		metrics.GatewayConnectionRejections.WithLabelValues(string(reason)).Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{
			"error":  "connection limit exceeded",
			"reason": string(reason),
		})
	}
	defer s.guard.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "WebSocket upgrade failed", "remote_addr", ip, "error", err)
		return nil
	}

	id, err := s.manager.Accept(conn, ip, c.Request().UserAgent())
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limited")
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
		}
		_ = conn.Close()
		return nil
	}

	// Blocks until the connection dies; cleanup cascades inside.
	s.manager.ReadLoop(id)
	return nil
}
