// Package ratelimit provides the two traffic guards of the gateway: a
// fixed-window counter store for per-connection message quotas and dial
// quotas, and an accept-time guard combining concurrency caps with a
// token-bucket dial limiter.
package ratelimit
