package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/pulsegate/internal/auth"
	"github.com/pscheid92/pulsegate/internal/config"
	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/gateway"
	"github.com/pscheid92/pulsegate/internal/history"
	"github.com/pscheid92/pulsegate/internal/platform/logging"
	"github.com/pscheid92/pulsegate/internal/platform/version"
	"github.com/pscheid92/pulsegate/internal/postgres"
	"github.com/pscheid92/pulsegate/internal/queue"
	"github.com/pscheid92/pulsegate/internal/ratelimit"
	"github.com/pscheid92/pulsegate/internal/redis"
	"github.com/pscheid92/pulsegate/internal/registry"
	"github.com/pscheid92/pulsegate/internal/server"
	"github.com/pscheid92/pulsegate/internal/session"
	"github.com/pscheid92/pulsegate/internal/stream"
)

const janitorInterval = time.Minute

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupDB(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return pool
}

func setupStreams(clock clockwork.Clock, recorder domain.HistoryRecorder, connectionStats func() any) *stream.Scheduler {
	scheduler := stream.NewScheduler(clock, recorder)
	for _, def := range stream.DefaultDefinitions(clock, connectionStats) {
		if err := scheduler.Register(def); err != nil {
			slog.Error("Failed to register stream", "stream", def.ID, "error", err)
			os.Exit(1)
		}
	}
	return scheduler
}

func runGracefulShutdown(srv *server.Server, manager *gateway.Manager, scheduler *stream.Scheduler, cleanup func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		manager.Shutdown(shutdownCtx)
		scheduler.Stop()
		cleanup()

		close(done)
	}()

	return done
}

func main() {
	// Best effort: absent .env files are fine outside development.
	_ = godotenv.Load()

	clock := clockwork.NewRealClock()
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	checks := make(map[string]server.HealthCheck)

	// Session and offline queue backends: Redis when configured, process
	// memory otherwise.
	var sessions domain.SessionStore
	var offline domain.OfflineQueue
	if cfg.RedisURL != "" {
		redisClient := setupRedis(context.Background(), cfg)
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

		sessions = redis.NewSessionStore(redisClient, cfg.SessionTTL, clock)
		offline = redis.NewOfflineQueue(redisClient, cfg.OfflineQueueCap, clock)
	} else {
		memSessions := session.NewStore(cfg.SessionTTL, clock)
		stopJanitor := memSessions.StartJanitor(janitorInterval)
		cleanups = append(cleanups, stopJanitor)

		sessions = memSessions
		offline = queue.NewMemory(cfg.OfflineQueueCap, clock)
	}

	// Channel history: PostgreSQL when configured, a memory ring otherwise.
	var recorder domain.HistoryRecorder
	if cfg.DatabaseURL != "" {
		pool := setupDB(context.Background(), cfg)
		cleanups = append(cleanups, pool.Close)
		checks["postgres"] = pool.Ping

		pgHistory := postgres.NewHistory(pool, clock)
		cleanups = append(cleanups, func() { _ = pgHistory.Close() })
		recorder = pgHistory
	} else {
		recorder = history.NewRing(cfg.HistoryLimit)
	}

	verifier := auth.NewBreakerVerifier(auth.NewJWTVerifier(cfg.JWTSecret, clock))
	authenticator := auth.New(sessions, verifier, cfg.APIKeys)

	windows := ratelimit.NewWindows(clock)
	guard := ratelimit.NewAcceptGuard(
		cfg.MaxConnections,
		cfg.MaxConnectionsPerIP,
		cfg.DialRate,
		cfg.DialBurst,
		cfg.DialsPerMinute,
		windows,
		clock,
	)

	var manager *gateway.Manager
	scheduler := setupStreams(clock, recorder, func() any { return manager.CurrentStats() })
	reg := registry.New(scheduler)

	manager = gateway.NewManager(reg, sessions, offline, recorder, authenticator, scheduler, windows, gateway.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Quotas:            gateway.DefaultQuotas(),
		HistoryLimit:      cfg.HistoryLimit,
		Features:          map[string]bool{"rooms": true, "streams": true, "history": true},
	}, clock)

	scheduler.SetBroadcaster(manager.Broadcaster())
	manager.Start()
	scheduler.Start()

	srv := server.NewServer(cfg, manager, guard, checks, clock)
	done := runGracefulShutdown(srv, manager, scheduler, cleanup)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
