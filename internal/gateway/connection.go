package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pscheid92/pulsegate/internal/domain"
)

// State is the connection lifecycle position. Dispatch only runs in
// StateOpen; Closing and Closed connections discard everything.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is the manager's record of one live transport session. The
// socket and writer are owned here exclusively; everything else refers to
// the connection by its ID.
type Connection struct {
	id         domain.ConnectionID
	sock       *websocket.Conn
	writer     *clientWriter
	remoteAddr string
	userAgent  string

	mu             sync.Mutex
	state          State
	identity       domain.Identity
	role           domain.Role
	sessionID      string
	awaitingPong   bool
	connectedAt    time.Time
	lastActivity   time.Time
	messagesSeen   uint64
	startedStreams map[string]string // stream ID -> bound channel
}

func newConnection(id domain.ConnectionID, sock *websocket.Conn, writer *clientWriter, remoteAddr, userAgent string, now time.Time) *Connection {
	return &Connection{
		id:             id,
		sock:           sock,
		writer:         writer,
		remoteAddr:     remoteAddr,
		userAgent:      userAgent,
		state:          StateConnecting,
		role:           domain.RoleMember,
		connectedAt:    now,
		lastActivity:   now,
		startedStreams: make(map[string]string),
	}
}

// ID returns the process-unique connection identifier.
func (c *Connection) ID() domain.ConnectionID { return c.id }

// RemoteAddr returns the source address recorded at accept time.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// beginClose transitions Open -> Closing. Returns false when the
// connection is already Closing or Closed, so the cascade runs once.
func (c *Connection) beginClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosing || c.state == StateClosed {
		return false
	}
	c.state = StateClosing
	return true
}

// Binding returns the authenticated identity and role. Identity is empty
// until authentication succeeds.
func (c *Connection) Binding() (domain.Identity, domain.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity, c.role
}

// SessionID returns the session bound by the last authentication.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// bind overwrites the connection's identity binding. Re-authentication
// replaces the previous binding, it never accumulates. Returns the
// identity that was bound before, so the manager can fix its index.
func (c *Connection) bind(identity domain.Identity, role domain.Role, sessionID string) domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.identity
	c.identity = identity
	c.role = role
	c.sessionID = sessionID
	return prev
}

// clearBinding removes the identity binding and returns what was bound.
func (c *Connection) clearBinding() (domain.Identity, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	identity, session := c.identity, c.sessionID
	c.identity = ""
	c.role = domain.RoleMember
	c.sessionID = ""
	return identity, session
}

// touch records inbound activity.
func (c *Connection) touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = now
	c.messagesSeen++
}

// markAlive clears the awaiting-pong flag. Called from the transport pong
// handler.
func (c *Connection) markAlive(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitingPong = false
	c.lastActivity = now
}

// beginPing flips the connection to awaiting-pong and reports whether it
// was still awaiting one from the previous heartbeat tick. True means the
// connection missed a full interval and must be terminated.
func (c *Connection) beginPing() (timedOut bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.awaitingPong {
		return true
	}
	c.awaitingPong = true
	return false
}

// markStreamStarted records that this connection started the stream.
func (c *Connection) markStreamStarted(streamID, channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startedStreams[streamID] = channel
}

// takeStartedStream removes and returns the channel of a stream this
// connection started. ok is false when the stream was never started here.
func (c *Connection) takeStartedStream(streamID string) (channel string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel, ok = c.startedStreams[streamID]
	if ok {
		delete(c.startedStreams, streamID)
	}
	return channel, ok
}
