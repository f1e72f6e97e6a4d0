// Package registry maintains the bidirectional index between connections
// and their channel subscriptions and room memberships. Channels and rooms
// exist exactly while they have members; both sides of the index are
// mutated inside a single critical section, and the stream gate fires in
// the same section so a stream's active flag can never disagree with its
// channel's population.
package registry

import (
	"sync"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
)

type memberSet map[domain.ConnectionID]struct{}

type connectionEntry struct {
	channels map[string]struct{}
	rooms    map[string]struct{}
}

// Registry implements the subscription index. A nil gate disables stream
// notifications.
type Registry struct {
	mu          sync.Mutex
	gate        domain.StreamGate
	channels    map[string]memberSet
	rooms       map[string]memberSet
	connections map[domain.ConnectionID]*connectionEntry
}

// New creates an empty registry. gate may be nil.
func New(gate domain.StreamGate) *Registry {
	return &Registry{
		gate:        gate,
		channels:    make(map[string]memberSet),
		rooms:       make(map[string]memberSet),
		connections: make(map[domain.ConnectionID]*connectionEntry),
	}
}

// Subscribe adds the connection to the channel after the access check.
// Subscribing twice is idempotent. The channel is created on first use; a
// 0->1 population crossing fires the stream gate.
func (r *Registry) Subscribe(id domain.ConnectionID, identity domain.Identity, role domain.Role, channel string) error {
	if err := CheckAccess(channel, identity, role); err != nil {
		metrics.RegistryAccessDenials.WithLabelValues(string(Classify(channel))).Inc()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entry(id)
	if _, already := entry.channels[channel]; already {
		return nil
	}

	members, exists := r.channels[channel]
	if !exists {
		members = make(memberSet)
		r.channels[channel] = members
		metrics.RegistryActiveChannels.Set(float64(len(r.channels)))
	}
	members[id] = struct{}{}
	entry.channels[channel] = struct{}{}

	if !exists && r.gate != nil {
		r.gate.ChannelActive(channel)
	}
	return nil
}

// Unsubscribe removes the connection from the channel. Unconditional and
// idempotent: unsubscribing from a channel never subscribed to succeeds
// silently. A 1->0 population crossing deletes the channel and fires the
// stream gate.
func (r *Registry) Unsubscribe(id domain.ConnectionID, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(id, channel)
}

func (r *Registry) unsubscribeLocked(id domain.ConnectionID, channel string) {
	entry, ok := r.connections[id]
	if !ok {
		return
	}
	if _, subscribed := entry.channels[channel]; !subscribed {
		return
	}

	delete(entry.channels, channel)
	r.maybeDropConnection(id, entry)

	members := r.channels[channel]
	delete(members, id)
	if len(members) == 0 {
		delete(r.channels, channel)
		metrics.RegistryActiveChannels.Set(float64(len(r.channels)))
		if r.gate != nil {
			r.gate.ChannelIdle(channel)
		}
	}
}

// JoinRoom adds the connection to the room, creating it on first use.
// Returns false when the connection was already a member, so callers can
// suppress duplicate presence events.
func (r *Registry) JoinRoom(id domain.ConnectionID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entry(id)
	if _, already := entry.rooms[room]; already {
		return false
	}

	members, exists := r.rooms[room]
	if !exists {
		members = make(memberSet)
		r.rooms[room] = members
		metrics.RegistryActiveRooms.Set(float64(len(r.rooms)))
	}
	members[id] = struct{}{}
	entry.rooms[room] = struct{}{}
	return true
}

// LeaveRoom removes the connection from the room. Unlike Unsubscribe this
// is not idempotent: leaving a room never joined returns
// domain.ErrNotInRoom.
func (r *Registry) LeaveRoom(id domain.ConnectionID, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connections[id]
	if !ok {
		return domain.ErrNotInRoom
	}
	if _, member := entry.rooms[room]; !member {
		return domain.ErrNotInRoom
	}

	r.leaveRoomLocked(id, entry, room)
	return nil
}

func (r *Registry) leaveRoomLocked(id domain.ConnectionID, entry *connectionEntry, room string) {
	delete(entry.rooms, room)
	r.maybeDropConnection(id, entry)

	members := r.rooms[room]
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
		metrics.RegistryActiveRooms.Set(float64(len(r.rooms)))
	}
}

// RemoveConnection clears every subscription and membership of the
// connection in one critical section and returns what was cleared. The
// returned room list lets the gateway emit leave-presence to the remaining
// members.
func (r *Registry) RemoveConnection(id domain.ConnectionID) (channels, rooms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connections[id]
	if !ok {
		return nil, nil
	}

	channels = make([]string, 0, len(entry.channels))
	for channel := range entry.channels {
		channels = append(channels, channel)
	}
	for _, channel := range channels {
		r.unsubscribeLocked(id, channel)
	}

	rooms = make([]string, 0, len(entry.rooms))
	for room := range entry.rooms {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leaveRoomLocked(id, entry, room)
	}

	delete(r.connections, id)
	return channels, rooms
}

// ChannelMembers returns a copy of the channel's member set. Broadcasts
// iterate this snapshot, never the live map.
func (r *Registry) ChannelMembers(channel string) []domain.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMembers(r.channels[channel])
}

// RoomMembers returns a copy of the room's member set.
func (r *Registry) RoomMembers(room string) []domain.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMembers(r.rooms[room])
}

// ConnectionChannels returns a copy of the channels the connection is
// subscribed to.
func (r *Registry) ConnectionChannels(id domain.ConnectionID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connections[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(entry.channels))
	for channel := range entry.channels {
		out = append(out, channel)
	}
	return out
}

// ConnectionRooms returns a copy of the rooms the connection has joined.
func (r *Registry) ConnectionRooms(id domain.ConnectionID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connections[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(entry.rooms))
	for room := range entry.rooms {
		out = append(out, room)
	}
	return out
}

// Counts returns the number of live channels, rooms, and channel
// subscriptions for the stats endpoint.
func (r *Registry) Counts() (channels, rooms, subscriptions int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, members := range r.channels {
		subscriptions += len(members)
	}
	return len(r.channels), len(r.rooms), subscriptions
}

// entry returns the connection's bookkeeping record, creating it lazily.
// Must be called with mu held.
func (r *Registry) entry(id domain.ConnectionID) *connectionEntry {
	entry, ok := r.connections[id]
	if !ok {
		entry = &connectionEntry{
			channels: make(map[string]struct{}),
			rooms:    make(map[string]struct{}),
		}
		r.connections[id] = entry
	}
	return entry
}

// maybeDropConnection forgets connections with no remaining memberships.
// Must be called with mu held.
func (r *Registry) maybeDropConnection(id domain.ConnectionID, entry *connectionEntry) {
	if len(entry.channels) == 0 && len(entry.rooms) == 0 {
		delete(r.connections, id)
	}
}

func copyMembers(members memberSet) []domain.ConnectionID {
	if len(members) == 0 {
		return nil
	}
	out := make([]domain.ConnectionID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}
