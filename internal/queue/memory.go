// Package queue provides the in-memory offline queue. Messages addressed to
// an identity with no open connection are parked here and flushed, oldest
// first, when that identity authenticates again.
package queue

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
)

// Memory implements domain.OfflineQueue in process memory.
type Memory struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	capacity int
	queues   map[domain.Identity][]domain.QueuedMessage
}

// NewMemory creates a queue store with the given per-identity capacity.
// A non-positive capacity is treated as 1.
func NewMemory(capacity int, clock clockwork.Clock) *Memory {
	if capacity <= 0 {
		capacity = 1
	}
	return &Memory{
		clock:    clock,
		capacity: capacity,
		queues:   make(map[domain.Identity][]domain.QueuedMessage),
	}
}

// Enqueue appends a message for the identity. When the queue is at capacity
// the oldest entry is evicted so the newest messages survive.
func (m *Memory) Enqueue(_ context.Context, identity domain.Identity, msg domain.ServerMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[identity]
	evicted := false
	if len(q) >= m.capacity {
		copy(q, q[1:])
		q = q[:len(q)-1]
		evicted = true
		metrics.OfflineQueueEvicted.Inc()
	}

	q = append(q, domain.QueuedMessage{Message: msg, QueuedAt: m.clock.Now()})
	m.queues[identity] = q
	metrics.OfflineQueueEnqueued.Inc()

	return evicted, nil
}

// Drain returns all pending messages in enqueue order and clears the queue.
func (m *Memory) Drain(_ context.Context, identity domain.Identity) ([]domain.QueuedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[identity]
	if len(q) == 0 {
		return nil, nil
	}
	delete(m.queues, identity)
	metrics.OfflineQueueDrained.Add(float64(len(q)))

	return q, nil
}

// Size returns the number of pending messages for the identity.
func (m *Memory) Size(_ context.Context, identity domain.Identity) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[identity]), nil
}
