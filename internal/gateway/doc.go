// Package gateway owns the WebSocket connection lifecycle: accepting
// transports, dispatching the wire protocol, heartbeat liveness, and the
// fan-out primitives. Connections are referenced by ID everywhere outside
// this package so no other component holds a socket.
package gateway
