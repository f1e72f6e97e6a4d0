package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
	"github.com/pscheid92/pulsegate/internal/registry"
)

// Broadcaster provides the fan-out primitives: to one connection, to all
// of an identity's connections, to a channel, and to a room. Fan-outs
// iterate a snapshot of the membership taken under the registry lock, so
// handler-triggered membership changes mid-broadcast cannot corrupt the
// iteration. Per-recipient failures are counted out, never fatal.
type Broadcaster struct {
	manager  *Manager
	registry *registry.Registry
	queue    domain.OfflineQueue
	logger   *slog.Logger
}

func newBroadcaster(m *Manager, reg *registry.Registry, queue domain.OfflineQueue) *Broadcaster {
	return &Broadcaster{
		manager:  m,
		registry: reg,
		queue:    queue,
		logger:   slog.Default().With("component", "broadcaster"),
	}
}

// SendTo delivers one message to one connection. Best effort: false for
// unknown or non-open connections and full writer buffers.
func (b *Broadcaster) SendTo(id domain.ConnectionID, msg domain.ServerMessage) bool {
	conn := b.manager.lookup(id)
	if conn == nil || !conn.isOpen() {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("Failed to marshal message", "type", msg.Type, "error", err)
		return false
	}

	if !conn.writer.enqueue(data) {
		metrics.BroadcastFailures.WithLabelValues("direct").Inc()
		return false
	}
	metrics.BroadcastDelivered.WithLabelValues("direct").Inc()
	return true
}

// SendToIdentity fans out to every open connection bound to the identity.
// With zero open connections the message is parked in the offline queue
// instead; queued reports which path was taken.
func (b *Broadcaster) SendToIdentity(identity domain.Identity, msg domain.ServerMessage) (delivered int, queued bool) {
	for _, id := range b.manager.connectionsFor(identity) {
		if b.SendTo(id, msg) {
			delivered++
		}
	}
	if delivered > 0 {
		return delivered, false
	}

	ctx, cancel := storeContext(context.Background())
	defer cancel()
	if _, err := b.queue.Enqueue(ctx, identity, msg); err != nil {
		b.logger.Warn("Offline enqueue failed", "identity", identity, "error", err)
		return 0, false
	}
	return 0, true
}

// BroadcastChannel delivers to every subscriber of the channel, skipping
// the excluded connections. Returns the delivered count.
func (b *Broadcaster) BroadcastChannel(channel string, msg domain.ServerMessage, exclude ...domain.ConnectionID) int {
	return b.fanOut("channel", b.registry.ChannelMembers(channel), msg, exclude)
}

// BroadcastRoom delivers to every member of the room, skipping the
// excluded connections.
func (b *Broadcaster) BroadcastRoom(room string, msg domain.ServerMessage, exclude ...domain.ConnectionID) int {
	return b.fanOut("room", b.registry.RoomMembers(room), msg, exclude)
}

func (b *Broadcaster) fanOut(scope string, members []domain.ConnectionID, msg domain.ServerMessage, exclude []domain.ConnectionID) int {
	if len(members) == 0 {
		return 0
	}

	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("Failed to marshal broadcast", "type", msg.Type, "error", err)
		return 0
	}

	skip := make(map[domain.ConnectionID]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	delivered := 0
	for _, id := range members {
		if _, excluded := skip[id]; excluded {
			continue
		}
		conn := b.manager.lookup(id)
		if conn == nil || !conn.isOpen() || !conn.writer.enqueue(data) {
			metrics.BroadcastFailures.WithLabelValues(scope).Inc()
			continue
		}
		delivered++
	}

	metrics.BroadcastDelivered.WithLabelValues(scope).Add(float64(delivered))
	return delivered
}
