// Package server is the HTTP surface: the WebSocket upgrade route guarded
// by the accept-time limits, health probes, the stats endpoint, and
// Prometheus metrics.
package server
