package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
	"github.com/pscheid92/pulsegate/internal/platform/correlation"
	"github.com/pscheid92/pulsegate/internal/ratelimit"
	"github.com/pscheid92/pulsegate/internal/registry"
)

const (
	quotaWindow     = time.Minute
	storeTimeout    = 2 * time.Second
	historyMaxLimit = 100
)

// Quotas configures the per-address accept limit and the per-type message
// limits, all counted over a rolling minute.
type Quotas struct {
	AcceptsPerMinute int
	PerType          map[domain.MessageType]int
	Default          int
}

// DefaultQuotas returns the stock limits.
func DefaultQuotas() Quotas {
	return Quotas{
		AcceptsPerMinute: 30,
		PerType: map[domain.MessageType]int{
			domain.TypeAuthenticate: 5,
			domain.TypeSubscribe:    20,
			domain.TypePing:         120,
		},
		Default: 60,
	}
}

func (q Quotas) forType(t domain.MessageType) int {
	if limit, ok := q.PerType[t]; ok {
		return limit
	}
	return q.Default
}

// ExtensionHook receives messages whose type has no handler. Returning
// false falls back to the UNKNOWN_MESSAGE_TYPE error reply.
type ExtensionHook func(conn *Connection, env domain.Envelope) bool

type handlerFunc func(ctx context.Context, conn *Connection, payload json.RawMessage)

// Options carries the manager's tunables.
type Options struct {
	HeartbeatInterval time.Duration
	Quotas            Quotas
	HistoryLimit      int
	Features          map[string]bool
}

// Manager owns every live connection. It accepts transports, dispatches
// inbound messages over an exhaustive handler table, runs the heartbeat,
// and cascades cleanup when a connection dies.
type Manager struct {
	clock    clockwork.Clock
	logger   *slog.Logger
	registry *registry.Registry
	sessions domain.SessionStore
	queue    domain.OfflineQueue
	history  domain.HistoryRecorder
	auth     domain.Authenticator
	catalog  domain.StreamCatalog
	windows  *ratelimit.Windows
	opts     Options

	broadcaster *Broadcaster
	handlers    map[domain.MessageType]handlerFunc
	extension   ExtensionHook

	mu         sync.RWMutex
	conns      map[domain.ConnectionID]*Connection
	byIdentity map[domain.Identity]map[domain.ConnectionID]struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  time.Time
}

// NewManager wires the manager and its broadcaster. Call Start to launch
// the heartbeat and Shutdown to tear everything down.
func NewManager(
	reg *registry.Registry,
	sessions domain.SessionStore,
	queue domain.OfflineQueue,
	history domain.HistoryRecorder,
	auth domain.Authenticator,
	catalog domain.StreamCatalog,
	windows *ratelimit.Windows,
	opts Options,
	clock clockwork.Clock,
) *Manager {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.Quotas.Default <= 0 {
		opts.Quotas = DefaultQuotas()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = historyMaxLimit
	}

	m := &Manager{
		clock:      clock,
		logger:     slog.Default().With("component", "gateway"),
		registry:   reg,
		sessions:   sessions,
		queue:      queue,
		history:    history,
		auth:       auth,
		catalog:    catalog,
		windows:    windows,
		opts:       opts,
		conns:      make(map[domain.ConnectionID]*Connection),
		byIdentity: make(map[domain.Identity]map[domain.ConnectionID]struct{}),
		done:       make(chan struct{}),
		started:    clock.Now(),
	}
	m.broadcaster = newBroadcaster(m, reg, queue)
	m.handlers = m.handlerTable()
	return m
}

// Broadcaster returns the fan-out primitives bound to this manager.
func (m *Manager) Broadcaster() *Broadcaster { return m.broadcaster }

// SetExtensionHook installs the handler for unknown message types. Must be
// called before Start.
func (m *Manager) SetExtensionHook(hook ExtensionHook) { m.extension = hook }

// Start launches the heartbeat ticker.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.heartbeatLoop()
	m.logger.Info("Gateway started", "heartbeat_interval", m.opts.HeartbeatInterval)
}

// Accept registers an upgraded socket. It enforces the per-address accept
// quota, sends the capability announcement, and transitions the connection
// to Open. The caller keeps reading the socket via ReadLoop.
func (m *Manager) Accept(sock *websocket.Conn, remoteAddr, userAgent string) (domain.ConnectionID, error) {
	if !m.windows.Allow("accept:"+remoteAddr, m.opts.Quotas.AcceptsPerMinute, quotaWindow) {
		metrics.GatewayConnectionRejections.WithLabelValues("accept_quota").Inc()
		return "", fmt.Errorf("accept from %s: %w", remoteAddr, domain.ErrRateLimited)
	}

	now := m.clock.Now()
	id := domain.ConnectionID(uuid.NewString())
	writer := newClientWriter(sock, m.clock)
	conn := newConnection(id, sock, writer, remoteAddr, userAgent, now)

	sock.SetPongHandler(func(string) error {
		conn.markAlive(m.clock.Now())
		return nil
	})

	m.mu.Lock()
	m.conns[id] = conn
	total := len(m.conns)
	m.mu.Unlock()

	metrics.GatewayConnectionsTotal.Inc()
	metrics.GatewayActiveConnections.Set(float64(total))

	m.sendDirect(conn, domain.NewReply(domain.TypeConnected, connectedPayload{
		ConnectionID: id,
		Channels:     m.advertisedChannels(),
		Streams:      m.catalog.Streams(),
		Features:     m.opts.Features,
	}, now))

	conn.setState(StateOpen)
	m.logger.Debug("Connection accepted", "connection_id", id, "remote_addr", remoteAddr)
	return id, nil
}

// ReadLoop pumps inbound frames into Dispatch until the transport fails,
// then runs the close cascade. Blocks for the connection's lifetime.
func (m *Manager) ReadLoop(id domain.ConnectionID) {
	conn := m.lookup(id)
	if conn == nil {
		return
	}

	for {
		_, raw, err := conn.sock.ReadMessage()
		if err != nil {
			break
		}
		m.Dispatch(id, raw)
	}

	m.Close(id, "transport closed")
}

// Dispatch parses one inbound envelope and runs its handler. Malformed
// frames and quota violations get typed error replies; neither closes the
// connection. Messages to non-Open connections are discarded.
func (m *Manager) Dispatch(id domain.ConnectionID, raw []byte) {
	conn := m.lookup(id)
	if conn == nil || !conn.isOpen() {
		return
	}

	ctx := correlation.WithConnection(context.Background(), string(id))
	now := m.clock.Now()
	conn.touch(now)

	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "message must be a JSON object with a type field")
		return
	}

	metrics.GatewayMessagesReceived.WithLabelValues(string(env.Type)).Inc()

	if !m.windows.Allow(rateKey(id, env.Type), m.opts.Quotas.forType(env.Type), quotaWindow) {
		metrics.GatewayRateLimitDrops.WithLabelValues(string(env.Type)).Inc()
		m.sendError(conn, domain.CodeRateLimitExceeded, fmt.Sprintf("rate limit exceeded for %q", env.Type))
		return
	}

	handler, ok := m.handlers[env.Type]
	if !ok {
		if m.extension != nil && m.extension(conn, env) {
			return
		}
		m.logger.WarnContext(ctx, "Unknown message type", "type", env.Type)
		m.sendError(conn, domain.CodeUnknownMessageType, fmt.Sprintf("unknown message type %q", env.Type))
		return
	}

	start := m.clock.Now()
	handler(ctx, conn, env.Payload)
	metrics.GatewayDispatchDuration.WithLabelValues(string(env.Type)).Observe(m.clock.Since(start).Seconds())
}

// Close runs the disconnect cascade exactly once: registry cleanup with
// stream deactivation, leave-presence to remaining room members, rate
// limit cleanup, identity index removal, writer teardown.
func (m *Manager) Close(id domain.ConnectionID, reason string) {
	conn := m.lookup(id)
	if conn == nil || !conn.beginClose() {
		return
	}

	_, rooms := m.registry.RemoveConnection(id)
	identity, _ := conn.Binding()
	for _, room := range rooms {
		m.broadcaster.BroadcastRoom(room, domain.NewReply(domain.TypeUserLeftRoom, presencePayload{
			Room:         room,
			ConnectionID: id,
			Identity:     identity,
		}, m.clock.Now()))
	}

	m.windows.Forget(string(id) + ":")

	m.mu.Lock()
	delete(m.conns, id)
	m.dropIdentityLocked(identity, id)
	total := len(m.conns)
	m.mu.Unlock()

	metrics.GatewayActiveConnections.Set(float64(total))

	conn.writer.stop()
	conn.setState(StateClosed)
	m.logger.Debug("Connection closed", "connection_id", id, "reason", reason)
}

// Shutdown notifies every open connection, closes them gracefully, and
// stops the heartbeat.
func (m *Manager) Shutdown(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.done) })

	notice := domain.NewReply(domain.TypeServerShutdown, map[string]string{"reason": "server shutting down"}, m.clock.Now())
	for _, conn := range m.snapshot() {
		if conn.isOpen() {
			m.sendDirect(conn, notice)
		}
	}

	for _, conn := range m.snapshot() {
		if !conn.beginClose() {
			continue
		}
		m.registry.RemoveConnection(conn.id)
		m.windows.Forget(string(conn.id) + ":")
		conn.writer.stopGraceful("server shutdown")
		conn.setState(StateClosed)
	}

	m.mu.Lock()
	m.conns = make(map[domain.ConnectionID]*Connection)
	m.byIdentity = make(map[domain.Identity]map[domain.ConnectionID]struct{})
	m.mu.Unlock()
	metrics.GatewayActiveConnections.Set(0)

	waitDone := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
	}
	m.logger.Info("Gateway stopped")
}

// Stats summarizes gateway state for get_stats and the stats endpoint.
type Stats struct {
	Connections   int     `json:"connections"`
	Authenticated int     `json:"authenticated"`
	Identities    int     `json:"identities"`
	Channels      int     `json:"channels"`
	Rooms         int     `json:"rooms"`
	Subscriptions int     `json:"subscriptions"`
	ActiveStreams int     `json:"active_streams"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type streamCounter interface{ ActiveCount() int }

// CurrentStats gathers the counters across the stores.
func (m *Manager) CurrentStats() Stats {
	m.mu.RLock()
	connections := len(m.conns)
	identities := len(m.byIdentity)
	authenticated := 0
	for _, conn := range m.conns {
		if identity, _ := conn.Binding(); identity != "" {
			authenticated++
		}
	}
	m.mu.RUnlock()

	channels, rooms, subscriptions := m.registry.Counts()

	active := 0
	if counter, ok := m.catalog.(streamCounter); ok {
		active = counter.ActiveCount()
	}

	return Stats{
		Connections:   connections,
		Authenticated: authenticated,
		Identities:    identities,
		Channels:      channels,
		Rooms:         rooms,
		Subscriptions: subscriptions,
		ActiveStreams: active,
		UptimeSeconds: m.clock.Since(m.started).Seconds(),
	}
}

// --- heartbeat ---

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.heartbeatTick()
		case <-m.done:
			return
		}
	}
}

// heartbeatTick terminates connections still awaiting a pong from the
// previous tick and pings the rest. This is the sole liveness mechanism.
func (m *Manager) heartbeatTick() {
	for _, conn := range m.snapshot() {
		if !conn.isOpen() {
			continue
		}
		if conn.beginPing() {
			metrics.GatewayHeartbeatTimeouts.Inc()
			m.logger.Info("Heartbeat timeout", "connection_id", conn.id)
			m.Close(conn.id, "heartbeat timeout")
			continue
		}
		conn.writer.ping()
	}
}

// --- identity index ---

// bindIdentity updates the identity index after authentication. Re-auth
// on the same connection moves the entry from the old identity.
func (m *Manager) bindIdentity(conn *Connection, identity domain.Identity, role domain.Role, sessionID string) {
	prev := conn.bind(identity, role, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev != "" && prev != identity {
		m.dropIdentityLocked(prev, conn.id)
	}
	set, ok := m.byIdentity[identity]
	if !ok {
		set = make(map[domain.ConnectionID]struct{})
		m.byIdentity[identity] = set
	}
	set[conn.id] = struct{}{}
}

// unbindIdentity clears the binding on logout.
func (m *Manager) unbindIdentity(conn *Connection) (domain.Identity, string) {
	identity, sessionID := conn.clearBinding()
	m.mu.Lock()
	m.dropIdentityLocked(identity, conn.id)
	m.mu.Unlock()
	return identity, sessionID
}

// dropIdentityLocked must be called with mu held.
func (m *Manager) dropIdentityLocked(identity domain.Identity, id domain.ConnectionID) {
	if identity == "" {
		return
	}
	set, ok := m.byIdentity[identity]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.byIdentity, identity)
	}
}

// connectionsFor returns a snapshot of the connection IDs bound to the
// identity.
func (m *Manager) connectionsFor(identity domain.Identity) []domain.ConnectionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byIdentity[identity]
	if len(set) == 0 {
		return nil
	}
	out := make([]domain.ConnectionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// --- helpers ---

func (m *Manager) lookup(id domain.ConnectionID) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[id]
}

func (m *Manager) snapshot() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		out = append(out, conn)
	}
	return out
}

// sendDirect marshals and enqueues a frame regardless of state; used for
// the connected announcement and the shutdown notice.
func (m *Manager) sendDirect(conn *Connection, msg domain.ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("Failed to marshal server message", "type", msg.Type, "error", err)
		return false
	}
	return conn.writer.enqueue(data)
}

func (m *Manager) sendReply(conn *Connection, t domain.MessageType, data any) {
	m.sendDirect(conn, domain.NewReply(t, data, m.clock.Now()))
}

func (m *Manager) sendError(conn *Connection, code domain.ErrorCode, message string) {
	m.sendDirect(conn, domain.NewErrorReply(code, message, m.clock.Now()))
}

// advertisedChannels lists the channels announced in the connected frame:
// the stream-backed channels from the catalog.
func (m *Manager) advertisedChannels() []string {
	infos := m.catalog.Streams()
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Channel)
	}
	return out
}

func rateKey(id domain.ConnectionID, t domain.MessageType) string {
	return string(id) + ":" + string(t)
}

func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}
