package domain

import (
	"context"
	"time"
)

// QueuedMessage is a message held for an identity with no open connection.
type QueuedMessage struct {
	Message  ServerMessage `json:"message"`
	QueuedAt time.Time     `json:"queued_at"`
}

// OfflineQueue holds a bounded per-identity FIFO of undelivered messages.
// When the queue for an identity is full the oldest entry is evicted to make
// room, so the queue always keeps the most recent messages.
type OfflineQueue interface {
	// Enqueue appends a message for the identity. evicted reports whether an
	// older entry was dropped to stay within the capacity bound.
	Enqueue(ctx context.Context, identity Identity, msg ServerMessage) (evicted bool, err error)

	// Drain returns all pending messages in enqueue order and clears the
	// identity's queue.
	Drain(ctx context.Context, identity Identity) ([]QueuedMessage, error)

	// Size returns the number of pending messages for the identity.
	Size(ctx context.Context, identity Identity) (int, error)
}
