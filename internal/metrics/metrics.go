package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway Metrics
var (
	// GatewayActiveConnections tracks currently open WebSocket connections
	GatewayActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Number of currently open WebSocket connections",
		},
	)

	// GatewayConnectionsTotal tracks accepted connections
	GatewayConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total accepted WebSocket connections",
		},
	)

	// GatewayConnectionRejections tracks connections rejected at accept time by reason
	GatewayConnectionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_connection_rejections_total",
			Help: "Connections rejected before the upgrade by reason",
		},
		[]string{"reason"},
	)

	// GatewayMessagesReceived tracks inbound messages by type
	GatewayMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_received_total",
			Help: "Inbound messages by message type",
		},
		[]string{"type"},
	)

	// GatewayMessagesSent tracks outbound frames written to clients
	GatewayMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_messages_sent_total",
			Help: "Outbound frames written to clients",
		},
	)

	// GatewaySendDrops tracks frames dropped because a client's send buffer was full
	GatewaySendDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_send_drops_total",
			Help: "Frames dropped due to a full per-connection send buffer",
		},
	)

	// GatewayDispatchDuration tracks message dispatch latency in seconds
	GatewayDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_dispatch_duration_seconds",
			Help:    "Message dispatch duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"type"},
	)

	// GatewayRateLimitDrops tracks messages rejected by per-type rate limits
	GatewayRateLimitDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_drops_total",
			Help: "Messages rejected by per-type rate limits",
		},
		[]string{"type"},
	)

	// GatewayHeartbeatTimeouts tracks connections terminated by missed pongs
	GatewayHeartbeatTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_heartbeat_timeouts_total",
			Help: "Connections terminated after missing a heartbeat pong",
		},
	)

	// GatewayMessageSendDuration tracks socket write latency in seconds
	GatewayMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_message_send_duration_seconds",
			Help:    "WebSocket write duration in seconds",
			Buckets: []float64{.0001, .001, .01, .1, 1},
		},
	)
)

// Registry Metrics
var (
	// RegistryActiveChannels tracks channels with at least one subscriber
	RegistryActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_active_channels",
			Help: "Channels with at least one subscriber",
		},
	)

	// RegistryActiveRooms tracks rooms with at least one member
	RegistryActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_active_rooms",
			Help: "Rooms with at least one member",
		},
	)

	// RegistryAccessDenials tracks rejected channel subscriptions by tier
	RegistryAccessDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_access_denials_total",
			Help: "Channel subscriptions denied by access tier",
		},
		[]string{"tier"},
	)
)

// Stream Metrics
var (
	// StreamActive tracks streams currently generating updates
	StreamActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_active_streams",
			Help: "Live streams currently active (bound channel non-empty)",
		},
	)

	// StreamTicks tracks generator runs by stream
	StreamTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_ticks_total",
			Help: "Generator runs by stream ID",
		},
		[]string{"stream"},
	)

	// StreamGeneratorErrors tracks failed generator runs by stream
	StreamGeneratorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_generator_errors_total",
			Help: "Failed generator runs by stream ID",
		},
		[]string{"stream"},
	)
)

// Broadcast Metrics
var (
	// BroadcastDelivered tracks messages delivered through fan-out by scope
	BroadcastDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_delivered_total",
			Help: "Messages delivered through fan-out by scope (channel/room/direct)",
		},
		[]string{"scope"},
	)

	// BroadcastFailures tracks per-recipient delivery failures by scope
	BroadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_failures_total",
			Help: "Per-recipient delivery failures by scope",
		},
		[]string{"scope"},
	)
)

// Offline Queue Metrics
var (
	// OfflineQueueEnqueued tracks messages parked for offline identities
	OfflineQueueEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_queue_enqueued_total",
			Help: "Messages parked for identities with no open connection",
		},
	)

	// OfflineQueueEvicted tracks oldest-entry evictions from full queues
	OfflineQueueEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_queue_evicted_total",
			Help: "Oldest entries evicted from full per-identity queues",
		},
	)

	// OfflineQueueDrained tracks messages flushed on authentication
	OfflineQueueDrained = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_queue_drained_total",
			Help: "Queued messages flushed to a connection on authentication",
		},
	)
)

// Session Metrics
var (
	// SessionsCreated tracks sessions minted by successful authentications
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Sessions created by successful authentications",
		},
	)

	// SessionsExpired tracks sessions removed by TTL expiry
	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_expired_total",
			Help: "Sessions removed after their sliding TTL lapsed",
		},
	)

	// AuthFailures tracks failed authentication attempts by error code
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Failed authentication attempts by error code",
		},
		[]string{"code"},
	)
)

// History Metrics
var (
	// HistoryAppendFailures tracks failed history writes
	HistoryAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_append_failures_total",
			Help: "Failed channel history writes",
		},
	)
)
