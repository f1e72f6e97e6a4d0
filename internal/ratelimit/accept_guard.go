package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// GlobalLimiter holds the instance-wide concurrent connection budget. The
// slot count is a bare atomic; Acquire retries the CAS until it wins a slot
// or the budget is gone.
type GlobalLimiter struct {
	current atomic.Int64
	max     int64
}

// NewGlobalLimiter creates a limiter with max total slots.
func NewGlobalLimiter(max int64) *GlobalLimiter {
	return &GlobalLimiter{max: max}
}

// Acquire claims one slot, reporting false once the budget is exhausted.
func (l *GlobalLimiter) Acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release frees a slot claimed by Acquire.
func (l *GlobalLimiter) Release() {
	l.current.Add(-1)
}

// Current reports how many slots are held.
func (l *GlobalLimiter) Current() int64 {
	return l.current.Load()
}

// IPLimiter bounds how many concurrent connections a single remote address
// may hold, so one misbehaving source cannot drain the global budget.
type IPLimiter struct {
	mu     sync.RWMutex
	ips    map[string]int
	maxPer int
}

// NewIPLimiter creates a limiter granting each address maxPer slots.
func NewIPLimiter(maxPer int) *IPLimiter {
	return &IPLimiter{
		ips:    make(map[string]int),
		maxPer: maxPer,
	}
}

// Acquire claims a slot for the address.
func (l *IPLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

// Release frees one of the address's slots. The map entry is dropped at
// zero so idle addresses cost nothing.
func (l *IPLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count := l.ips[ip]; count > 0 {
		l.ips[ip] = count - 1
		if l.ips[ip] == 0 {
			delete(l.ips, ip)
		}
	}
}

// Count reports the slots held by the address.
func (l *IPLimiter) Count(ip string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ips[ip]
}

// DialRateLimiter smooths bursts of new connections per IP.
// Uses a token bucket via golang.org/x/time/rate.
type DialRateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*dialEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type dialEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const dialCleanupInterval = 5 * time.Minute

// NewDialRateLimiter creates a limiter with the given sustained
// connections-per-second rate and burst size.
func NewDialRateLimiter(perSecond float64, burst int, clock clockwork.Clock) *DialRateLimiter {
	return &DialRateLimiter{
		clock:     clock,
		limiters:  make(map[string]*dialEntry),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		cleanupAt: clock.Now().Add(dialCleanupInterval),
	}
}

// Allow reports whether a new connection from the IP fits the bucket.
func (l *DialRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(dialCleanupInterval)
	}

	entry, exists := l.limiters[ip]
	if !exists {
		entry = &dialEntry{
			limiter:  rate.NewLimiter(l.rate, l.burst),
			lastSeen: now,
		}
		l.limiters[ip] = entry
	}

	entry.lastSeen = now
	return entry.limiter.Allow()
}

// cleanup removes limiters idle for 10 minutes. Must be called with mu held.
func (l *DialRateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-2 * dialCleanupInterval)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// ActiveLimiters returns the number of tracked addresses.
func (l *DialRateLimiter) ActiveLimiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RejectReason describes why the guard refused a connection.
type RejectReason string

const (
	RejectReasonGlobal RejectReason = "global_limit"
	RejectReasonPerIP  RejectReason = "per_ip_limit"
	RejectReasonRate   RejectReason = "rate_limit"
	RejectReasonQuota  RejectReason = "dial_quota"
)

const dialQuotaWindow = time.Minute

// AcceptGuard gates the upgrade path. A connection must pass the per-IP
// dial quota, the token bucket, the global cap and the per-IP cap, in that
// order, before the transport is upgraded.
type AcceptGuard struct {
	global         *GlobalLimiter
	perIP          *IPLimiter
	rate           *DialRateLimiter
	windows        *Windows
	dialsPerMinute int
}

// NewAcceptGuard creates a combined accept-time guard. The windows store is
// shared with the gateway's message quotas.
func NewAcceptGuard(globalMax int64, perIPMax int, perSecond float64, burst, dialsPerMinute int, windows *Windows, clock clockwork.Clock) *AcceptGuard {
	return &AcceptGuard{
		global:         NewGlobalLimiter(globalMax),
		perIP:          NewIPLimiter(perIPMax),
		rate:           NewDialRateLimiter(perSecond, burst, clock),
		windows:        windows,
		dialsPerMinute: dialsPerMinute,
	}
}

// Acquire attempts to pass all four limits for the given IP.
// Returns true and an empty reason on success, false and the first
// violated limit otherwise.
func (g *AcceptGuard) Acquire(ip string) (bool, RejectReason) {
	if !g.windows.Allow("dial:"+ip, g.dialsPerMinute, dialQuotaWindow) {
		return false, RejectReasonQuota
	}
	if !g.rate.Allow(ip) {
		return false, RejectReasonRate
	}
	if !g.global.Acquire() {
		return false, RejectReasonGlobal
	}
	if !g.perIP.Acquire(ip) {
		g.global.Release()
		return false, RejectReasonPerIP
	}
	return true, ""
}

// Release returns the slots held for the given IP.
func (g *AcceptGuard) Release(ip string) {
	g.perIP.Release(ip)
	g.global.Release()
}

// Global returns the global limiter.
func (g *AcceptGuard) Global() *GlobalLimiter {
	return g.global
}

// PerIP returns the per-IP limiter.
func (g *AcceptGuard) PerIP() *IPLimiter {
	return g.perIP
}
