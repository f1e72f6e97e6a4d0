// Package postgres provides the PostgreSQL-backed channel history
// recorder for deployments that persist recent messages across restarts.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS channel_history (
    id         BIGSERIAL PRIMARY KEY,
    channel    TEXT        NOT NULL,
    payload    JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS channel_history_channel_id_idx
    ON channel_history (channel, id DESC);
`

// Connect creates a pgx pool, verifies it with a ping, and ensures the
// history schema exists.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, historySchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure history schema: %w", err)
	}

	slog.Info("Database connected", "max_conns", poolCfg.MaxConns)
	return pool, nil
}
