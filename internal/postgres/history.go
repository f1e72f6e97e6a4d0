package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
)

const (
	flushInterval = time.Second
	flushBatchMax = 256
	flushTimeout  = 5 * time.Second
)

type pendingRow struct {
	channel   string
	payload   []byte
	createdAt time.Time
}

// History implements domain.HistoryRecorder on PostgreSQL. Appends are
// buffered in memory and flushed in batches by a background goroutine, so
// the broadcast hot path never waits on the database.
type History struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock

	mu      sync.Mutex
	pending []pendingRow

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHistory creates a recorder on the pool and starts its flusher.
func NewHistory(pool *pgxpool.Pool, clock clockwork.Clock) *History {
	h := &History{
		pool:  pool,
		clock: clock,
		done:  make(chan struct{}),
	}
	h.wg.Add(1)
	go h.flushLoop()
	return h
}

// Append buffers one message for the channel. The write reaches the
// database on the next flush.
func (h *History) Append(_ context.Context, channel string, msg domain.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	h.mu.Lock()
	h.pending = append(h.pending, pendingRow{
		channel:   channel,
		payload:   payload,
		createdAt: h.clock.Now(),
	})
	full := len(h.pending) >= flushBatchMax
	h.mu.Unlock()

	if full {
		h.flush()
	}
	return nil
}

// Recent returns up to limit of the channel's newest messages, oldest
// first.
func (h *History) Recent(ctx context.Context, channel string, limit int) ([]domain.ServerMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := h.pool.Query(ctx,
		`SELECT payload FROM channel_history WHERE channel = $1 ORDER BY id DESC LIMIT $2`,
		channel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var newestFirst []domain.ServerMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var msg domain.ServerMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			slog.Warn("Skipping corrupt history row", "channel", channel, "error", err)
			continue
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}

	out := make([]domain.ServerMessage, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out, nil
}

// Close stops the flusher and writes whatever is still buffered. The pool
// itself belongs to the caller.
func (h *History) Close() error {
	h.stopOnce.Do(func() { close(h.done) })
	h.wg.Wait()
	h.flush()
	return nil
}

func (h *History) flushLoop() {
	defer h.wg.Done()

	ticker := h.clock.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			h.flush()
		case <-h.done:
			return
		}
	}
}

// flush writes the buffered rows in one batch round trip.
func (h *History) flush() {
	h.mu.Lock()
	rows := h.pending
	h.pending = nil
	h.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(
			`INSERT INTO channel_history (channel, payload, created_at) VALUES ($1, $2, $3)`,
			row.channel, row.payload, row.createdAt)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	results := h.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range rows {
		if _, err := results.Exec(); err != nil {
			slog.Warn("History flush failed", "rows", len(rows), "error", err)
			metrics.HistoryAppendFailures.Inc()
			return
		}
	}
}
