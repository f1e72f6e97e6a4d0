package domain

import (
	"encoding/json"
	"time"
)

// MessageType discriminates the wire envelope. The client-to-server set is
// closed: the gateway dispatches over an exhaustive handler table and routes
// anything else to its extension hook.
type MessageType string

// Client-to-server message types.
const (
	TypeAuthenticate MessageType = "authenticate"
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeJoinRoom     MessageType = "join_room"
	TypeLeaveRoom    MessageType = "leave_room"
	TypeStartStream  MessageType = "start_stream"
	TypeStopStream   MessageType = "stop_stream"
	TypePing         MessageType = "ping"
	TypeGetStats     MessageType = "get_stats"
	TypeGetHistory   MessageType = "get_history"
	TypeLogout       MessageType = "logout"
)

// Server-to-client message types.
const (
	TypeConnected      MessageType = "connected"
	TypeAuthenticated  MessageType = "authenticated"
	TypeSubscribed     MessageType = "subscribed"
	TypeUnsubscribed   MessageType = "unsubscribed"
	TypeRoomJoined     MessageType = "room_joined"
	TypeRoomLeft       MessageType = "room_left"
	TypeUserJoinedRoom MessageType = "user_joined_room"
	TypeUserLeftRoom   MessageType = "user_left_room"
	TypeStreamStarted  MessageType = "stream_started"
	TypeStreamStopped  MessageType = "stream_stopped"
	TypePong           MessageType = "pong"
	TypeStats          MessageType = "stats"
	TypeHistory        MessageType = "history"
	TypeLoggedOut      MessageType = "logged_out"
	TypeLiveUpdate     MessageType = "live_update"
	TypeQueuedMessage  MessageType = "queued_message"
	TypeServerShutdown MessageType = "server_shutdown"
	TypeError          MessageType = "error"
)

// Envelope is the inbound wire frame. Payload stays raw until the matching
// handler decodes it.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorCode is the closed set of protocol error identifiers sent to clients.
type ErrorCode string

const (
	CodeInvalidMessageFormat ErrorCode = "INVALID_MESSAGE_FORMAT"
	CodeUnknownMessageType   ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	CodeRateLimitExceeded    ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInvalidToken         ErrorCode = "INVALID_TOKEN"
	CodeAuthFailed           ErrorCode = "AUTH_FAILED"
	CodeAccountDeactivated   ErrorCode = "ACCOUNT_DEACTIVATED"
	CodeNotAuthenticated     ErrorCode = "NOT_AUTHENTICATED"
	CodeChannelAccessDenied  ErrorCode = "CHANNEL_ACCESS_DENIED"
	CodeNotInRoom            ErrorCode = "NOT_IN_ROOM"
	CodeStreamNotFound       ErrorCode = "STREAM_NOT_FOUND"
	CodeStreamNotStarted     ErrorCode = "STREAM_NOT_STARTED"
	CodeHistoryUnavailable   ErrorCode = "HISTORY_UNAVAILABLE"
)

// ErrorPayload carries a protocol error inside a ServerMessage.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ServerMessage is the outbound wire frame. Exactly one of Data or Error is
// set; Timestamp is always stamped from the server clock.
type ServerMessage struct {
	Type      MessageType   `json:"type"`
	Data      any           `json:"data,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewReply builds a success frame.
func NewReply(t MessageType, data any, now time.Time) ServerMessage {
	return ServerMessage{Type: t, Data: data, Timestamp: now.UTC()}
}

// NewErrorReply builds an error frame.
func NewErrorReply(code ErrorCode, message string, now time.Time) ServerMessage {
	return ServerMessage{
		Type:      TypeError,
		Error:     &ErrorPayload{Code: code, Message: message},
		Timestamp: now.UTC(),
	}
}
