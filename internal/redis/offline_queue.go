package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
)

// queueTTL bounds how long an abandoned queue survives. An identity that
// never authenticates again should not hold memory forever.
const queueTTL = 24 * time.Hour

// OfflineQueue implements domain.OfflineQueue on a Redis list per
// identity, trimmed from the left so the newest messages survive.
type OfflineQueue struct {
	rdb      *goredis.Client
	clock    clockwork.Clock
	capacity int
}

// NewOfflineQueue creates a queue store with the given per-identity
// capacity. A non-positive capacity is treated as 1.
func NewOfflineQueue(rdb *goredis.Client, capacity int, clock clockwork.Clock) *OfflineQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &OfflineQueue{rdb: rdb, clock: clock, capacity: capacity}
}

// Enqueue appends a message for the identity and trims the list back to
// capacity, evicting the oldest entries.
func (q *OfflineQueue) Enqueue(ctx context.Context, identity domain.Identity, msg domain.ServerMessage) (bool, error) {
	item := domain.QueuedMessage{Message: msg, QueuedAt: q.clock.Now()}
	data, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("failed to marshal queued message: %w", err)
	}

	key := queueKey(identity)
	length, err := q.rdb.RPush(ctx, key, data).Result()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue: %w", err)
	}
	metrics.OfflineQueueEnqueued.Inc()

	evicted := false
	if length > int64(q.capacity) {
		pipe := q.rdb.Pipeline()
		pipe.LTrim(ctx, key, length-int64(q.capacity), -1)
		pipe.Expire(ctx, key, queueTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("failed to trim queue: %w", err)
		}
		evicted = true
		metrics.OfflineQueueEvicted.Inc()
	} else if err := q.rdb.Expire(ctx, key, queueTTL).Err(); err != nil {
		return false, fmt.Errorf("failed to refresh queue TTL: %w", err)
	}

	return evicted, nil
}

// Drain returns all pending messages in enqueue order and clears the
// queue in one round trip.
func (q *OfflineQueue) Drain(ctx context.Context, identity domain.Identity) ([]domain.QueuedMessage, error) {
	key := queueKey(identity)

	pipe := q.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to drain queue: %w", err)
	}

	raw := rangeCmd.Val()
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]domain.QueuedMessage, 0, len(raw))
	for _, entry := range raw {
		var item domain.QueuedMessage
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			slog.Warn("Skipping corrupt offline queue entry", "identity", identity, "error", err)
			continue
		}
		out = append(out, item)
	}
	metrics.OfflineQueueDrained.Add(float64(len(out)))
	return out, nil
}

// Size returns the number of pending messages for the identity.
func (q *OfflineQueue) Size(ctx context.Context, identity domain.Identity) (int, error) {
	n, err := q.rdb.LLen(ctx, queueKey(identity)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

func queueKey(identity domain.Identity) string {
	return "offline:" + string(identity)
}
