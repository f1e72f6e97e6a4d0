package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pscheid92/pulsegate/internal/config"
	"github.com/pscheid92/pulsegate/internal/gateway"
	"github.com/pscheid92/pulsegate/internal/ratelimit"
)

// HealthCheck pings one optional backend for the readiness probe.
type HealthCheck func(ctx context.Context) error

// Server wires echo around the gateway.
type Server struct {
	echo      *echo.Echo
	config    *config.Config
	manager   *gateway.Manager
	guard     *ratelimit.AcceptGuard
	checks    map[string]HealthCheck
	clock     clockwork.Clock
	startTime time.Time
}

// NewServer creates the HTTP server. checks holds the readiness probes
// for configured backends, keyed by name; nil or empty means the process
// is ready as soon as it is up.
func NewServer(cfg *config.Config, manager *gateway.Manager, guard *ratelimit.AcceptGuard, checks map[string]HealthCheck, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(correlationMiddleware)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		manager:   manager,
		guard:     guard,
		checks:    checks,
		clock:     clock,
		startTime: clock.Now(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
