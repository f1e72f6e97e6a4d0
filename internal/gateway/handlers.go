package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
	"github.com/pscheid92/pulsegate/internal/registry"
)

// --- wire payloads ---

type connectedPayload struct {
	ConnectionID domain.ConnectionID `json:"connection_id"`
	Channels     []string            `json:"channels"`
	Streams      []domain.StreamInfo `json:"streams"`
	Features     map[string]bool     `json:"features"`
}

type authenticatedPayload struct {
	Identity  domain.Identity   `json:"identity"`
	Role      domain.Role       `json:"role"`
	SessionID string            `json:"session_id"`
	Method    domain.AuthMethod `json:"method"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type subscribePayload struct {
	Channel string `json:"channel"`
	History bool   `json:"history,omitempty"`
}

type subscribedPayload struct {
	Channel string                 `json:"channel"`
	Recent  []domain.ServerMessage `json:"recent,omitempty"`
}

type channelPayload struct {
	Channel string `json:"channel"`
}

type roomPayload struct {
	Room string `json:"room"`
}

type roomReplyPayload struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type presencePayload struct {
	Room         string              `json:"room"`
	ConnectionID domain.ConnectionID `json:"connection_id"`
	Identity     domain.Identity     `json:"identity,omitempty"`
}

type streamPayload struct {
	Stream string `json:"stream"`
}

type streamReplyPayload struct {
	Stream  string `json:"stream"`
	Channel string `json:"channel"`
}

type pingPayload struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

type pongPayload struct {
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	ServerTime time.Time       `json:"server_time"`
}

type historyRequestPayload struct {
	Channel string `json:"channel"`
	Limit   int    `json:"limit,omitempty"`
}

type historyPayload struct {
	Channel  string                 `json:"channel"`
	Messages []domain.ServerMessage `json:"messages"`
}

type queuedMessagePayload struct {
	Message  domain.ServerMessage `json:"message"`
	QueuedAt time.Time            `json:"queued_at"`
}

// handlerTable builds the closed dispatch table. Every client-to-server
// message type has exactly one entry; anything else goes through the
// extension hook.
func (m *Manager) handlerTable() map[domain.MessageType]handlerFunc {
	return map[domain.MessageType]handlerFunc{
		domain.TypeAuthenticate: m.handleAuthenticate,
		domain.TypeSubscribe:    m.handleSubscribe,
		domain.TypeUnsubscribe:  m.handleUnsubscribe,
		domain.TypeJoinRoom:     m.handleJoinRoom,
		domain.TypeLeaveRoom:    m.handleLeaveRoom,
		domain.TypeStartStream:  m.handleStartStream,
		domain.TypeStopStream:   m.handleStopStream,
		domain.TypePing:         m.handlePing,
		domain.TypeGetStats:     m.handleGetStats,
		domain.TypeGetHistory:   m.handleGetHistory,
		domain.TypeLogout:       m.handleLogout,
	}
}

func (m *Manager) handleAuthenticate(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var creds domain.Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "authenticate payload is not valid JSON")
		return
	}

	sctx, cancel := storeContext(ctx)
	defer cancel()

	result, err := m.auth.Authenticate(sctx, creds)
	if err != nil {
		code := authErrorCode(err)
		metrics.AuthFailures.WithLabelValues(string(code)).Inc()
		m.sendError(conn, code, err.Error())
		return
	}

	sess := result.Session
	m.bindIdentity(conn, sess.Identity, sess.Role, sess.ID)
	m.sendReply(conn, domain.TypeAuthenticated, authenticatedPayload{
		Identity:  sess.Identity,
		Role:      sess.Role,
		SessionID: sess.ID,
		Method:    result.Method,
		ExpiresAt: sess.ExpiresAt,
	})
	m.logger.InfoContext(ctx, "Connection authenticated", "identity", sess.Identity, "method", result.Method)

	m.flushOfflineQueue(ctx, conn, sess.Identity)
}

// flushOfflineQueue drains parked messages to the connection in enqueue
// order, wrapped so the client can tell them apart from live traffic.
func (m *Manager) flushOfflineQueue(ctx context.Context, conn *Connection, identity domain.Identity) {
	sctx, cancel := storeContext(ctx)
	defer cancel()

	pending, err := m.queue.Drain(sctx, identity)
	if err != nil {
		m.logger.WarnContext(ctx, "Offline queue drain failed", "identity", identity, "error", err)
		return
	}
	for _, item := range pending {
		m.sendReply(conn, domain.TypeQueuedMessage, queuedMessagePayload{
			Message:  item.Message,
			QueuedAt: item.QueuedAt,
		})
	}
	if len(pending) > 0 {
		m.logger.DebugContext(ctx, "Offline queue flushed", "identity", identity, "messages", len(pending))
	}
}

func (m *Manager) handleSubscribe(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var req subscribePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Channel == "" {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "subscribe requires a channel")
		return
	}

	identity, role := conn.Binding()
	if err := m.registry.Subscribe(conn.id, identity, role, req.Channel); err != nil {
		m.sendError(conn, domain.CodeChannelAccessDenied, "access to channel denied")
		return
	}

	reply := subscribedPayload{Channel: req.Channel}
	if req.History && m.history != nil {
		sctx, cancel := storeContext(ctx)
		recent, err := m.history.Recent(sctx, req.Channel, m.opts.HistoryLimit)
		cancel()
		if err != nil {
			m.logger.WarnContext(ctx, "History lookup failed", "channel", req.Channel, "error", err)
		} else {
			reply.Recent = recent
		}
	}
	m.sendReply(conn, domain.TypeSubscribed, reply)
}

func (m *Manager) handleUnsubscribe(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var req channelPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Channel == "" {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "unsubscribe requires a channel")
		return
	}

	// Unconditional and idempotent: never an error, even if never subscribed.
	m.registry.Unsubscribe(conn.id, req.Channel)
	m.sendReply(conn, domain.TypeUnsubscribed, channelPayload{Channel: req.Channel})
}

func (m *Manager) handleJoinRoom(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var req roomPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Room == "" {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "join_room requires a room")
		return
	}

	joined := m.registry.JoinRoom(conn.id, req.Room)
	members := m.registry.RoomMembers(req.Room)
	m.sendReply(conn, domain.TypeRoomJoined, roomReplyPayload{Room: req.Room, Members: len(members)})

	if joined {
		identity, _ := conn.Binding()
		m.broadcaster.BroadcastRoom(req.Room, domain.NewReply(domain.TypeUserJoinedRoom, presencePayload{
			Room:         req.Room,
			ConnectionID: conn.id,
			Identity:     identity,
		}, m.clock.Now()), conn.id)
	}
}

func (m *Manager) handleLeaveRoom(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var req roomPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Room == "" {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "leave_room requires a room")
		return
	}

	// Rooms model presence, so leaving one never joined is an error.
	// Channels deliberately do not behave this way.
	if err := m.registry.LeaveRoom(conn.id, req.Room); err != nil {
		m.sendError(conn, domain.CodeNotInRoom, "not a member of room")
		return
	}

	m.sendReply(conn, domain.TypeRoomLeft, roomPayload{Room: req.Room})

	identity, _ := conn.Binding()
	m.broadcaster.BroadcastRoom(req.Room, domain.NewReply(domain.TypeUserLeftRoom, presencePayload{
		Room:         req.Room,
		ConnectionID: conn.id,
		Identity:     identity,
	}, m.clock.Now()))
}

func (m *Manager) handleStartStream(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var req streamPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Stream == "" {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "start_stream requires a stream")
		return
	}

	info, ok := m.catalog.Lookup(req.Stream)
	if !ok {
		m.sendError(conn, domain.CodeStreamNotFound, "unknown stream")
		return
	}

	identity, role := conn.Binding()
	if err := m.registry.Subscribe(conn.id, identity, role, info.Channel); err != nil {
		m.sendError(conn, domain.CodeChannelAccessDenied, "access to stream channel denied")
		return
	}

	conn.markStreamStarted(info.ID, info.Channel)
	m.sendReply(conn, domain.TypeStreamStarted, streamReplyPayload{Stream: info.ID, Channel: info.Channel})
}

func (m *Manager) handleStopStream(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var req streamPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Stream == "" {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "stop_stream requires a stream")
		return
	}

	channel, started := conn.takeStartedStream(req.Stream)
	if !started {
		m.sendError(conn, domain.CodeStreamNotStarted, "stream was not started on this connection")
		return
	}

	m.registry.Unsubscribe(conn.id, channel)
	m.sendReply(conn, domain.TypeStreamStopped, streamReplyPayload{Stream: req.Stream, Channel: channel})
}

func (m *Manager) handlePing(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var req pingPayload
	// A bare ping without payload is fine; only echo what the client sent.
	_ = json.Unmarshal(payload, &req)

	m.sendReply(conn, domain.TypePong, pongPayload{
		Timestamp:  req.Timestamp,
		ServerTime: m.clock.Now().UTC(),
	})
}

func (m *Manager) handleGetStats(ctx context.Context, conn *Connection, _ json.RawMessage) {
	m.sendReply(conn, domain.TypeStats, m.CurrentStats())
}

func (m *Manager) handleGetHistory(ctx context.Context, conn *Connection, payload json.RawMessage) {
	var req historyRequestPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Channel == "" {
		m.sendError(conn, domain.CodeInvalidMessageFormat, "get_history requires a channel")
		return
	}

	identity, role := conn.Binding()
	if err := registry.CheckAccess(req.Channel, identity, role); err != nil {
		m.sendError(conn, domain.CodeChannelAccessDenied, "access to channel denied")
		return
	}

	if m.history == nil {
		m.sendError(conn, domain.CodeHistoryUnavailable, "history is not configured")
		return
	}

	limit := req.Limit
	if limit <= 0 || limit > m.opts.HistoryLimit {
		limit = m.opts.HistoryLimit
	}

	sctx, cancel := storeContext(ctx)
	defer cancel()
	messages, err := m.history.Recent(sctx, req.Channel, limit)
	if err != nil {
		m.logger.WarnContext(ctx, "History lookup failed", "channel", req.Channel, "error", err)
		m.sendError(conn, domain.CodeHistoryUnavailable, "history lookup failed")
		return
	}
	m.sendReply(conn, domain.TypeHistory, historyPayload{Channel: req.Channel, Messages: messages})
}

func (m *Manager) handleLogout(ctx context.Context, conn *Connection, _ json.RawMessage) {
	identity, sessionID := m.unbindIdentity(conn)
	if identity == "" {
		m.sendError(conn, domain.CodeNotAuthenticated, "connection is not authenticated")
		return
	}

	if sessionID != "" {
		sctx, cancel := storeContext(ctx)
		if err := m.sessions.Delete(sctx, sessionID); err != nil {
			m.logger.WarnContext(ctx, "Session delete failed", "session_id", sessionID, "error", err)
		}
		cancel()
	}

	m.sendReply(conn, domain.TypeLoggedOut, map[string]domain.Identity{"identity": identity})
	m.logger.InfoContext(ctx, "Connection logged out", "identity", identity)
}

// authErrorCode maps authentication sentinels onto wire codes.
func authErrorCode(err error) domain.ErrorCode {
	switch {
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrSessionNotFound):
		return domain.CodeInvalidToken
	case errors.Is(err, domain.ErrAccountDeactivated):
		return domain.CodeAccountDeactivated
	default:
		return domain.CodeAuthFailed
	}
}
