// Package history provides the in-memory channel history recorder: a fixed
// capacity ring per channel holding the most recent broadcasts. History
// survives a channel's subscriber count dropping to zero, so late joiners
// can catch up after quiet periods.
package history

import (
	"context"
	"sync"

	"github.com/pscheid92/pulsegate/internal/domain"
)

// Ring implements domain.HistoryRecorder with one fixed-size ring buffer
// per channel. Old entries are overwritten once the ring is full.
type Ring struct {
	mu       sync.Mutex
	capacity int
	channels map[string]*ring
}

type ring struct {
	buf   []domain.ServerMessage
	start int
	count int
}

// NewRing creates a recorder keeping up to capacity messages per channel.
func NewRing(capacity int) *Ring {
	return &Ring{
		capacity: capacity,
		channels: make(map[string]*ring),
	}
}

// Append records a broadcast on the channel, overwriting the oldest entry
// when the ring is full.
func (r *Ring) Append(_ context.Context, channel string, msg domain.ServerMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rg, ok := r.channels[channel]
	if !ok {
		rg = &ring{buf: make([]domain.ServerMessage, r.capacity)}
		r.channels[channel] = rg
	}

	if rg.count < r.capacity {
		rg.buf[(rg.start+rg.count)%r.capacity] = msg
		rg.count++
		return nil
	}

	rg.buf[rg.start] = msg
	rg.start = (rg.start + 1) % r.capacity
	return nil
}

// Recent returns up to limit of the newest messages, oldest first.
func (r *Ring) Recent(_ context.Context, channel string, limit int) ([]domain.ServerMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rg, ok := r.channels[channel]
	if !ok || limit <= 0 {
		return nil, nil
	}

	n := rg.count
	if limit < n {
		n = limit
	}

	out := make([]domain.ServerMessage, 0, n)
	// Skip the oldest entries when the caller asked for fewer than stored.
	offset := rg.count - n
	for i := 0; i < n; i++ {
		out = append(out, rg.buf[(rg.start+offset+i)%r.capacity])
	}
	return out, nil
}

// Close is a no-op for the memory recorder.
func (r *Ring) Close() error {
	return nil
}
