package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const sweepInterval = 5 * time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// Windows is a fixed-window counter store. Each key owns an independent
// window, so a burst on one key never consumes another key's quota. The
// check-and-increment is a single critical section.
type Windows struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	windows map[string]*window
	sweepAt time.Time
}

// NewWindows creates an empty store.
func NewWindows(clock clockwork.Clock) *Windows {
	return &Windows{
		clock:   clock,
		windows: make(map[string]*window),
		sweepAt: clock.Now().Add(sweepInterval),
	}
}

// Allow counts one event against the key's window and reports whether it
// fits within limit. A window that has lapsed restarts at count 1.
func (w *Windows) Allow(key string, limit int, period time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if now.After(w.sweepAt) {
		w.sweep(now)
		w.sweepAt = now.Add(sweepInterval)
	}

	win, ok := w.windows[key]
	if !ok || !now.Before(win.resetAt) {
		w.windows[key] = &window{count: 1, resetAt: now.Add(period)}
		return true
	}
	if win.count >= limit {
		return false
	}
	win.count++
	return true
}

// Forget drops every window whose key starts with prefix. The gateway calls
// this with the connection ID when a connection closes.
func (w *Windows) Forget(prefix string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key := range w.windows {
		if strings.HasPrefix(key, prefix) {
			delete(w.windows, key)
		}
	}
}

// ActiveWindows returns the number of live windows.
func (w *Windows) ActiveWindows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.windows)
}

// sweep removes lapsed windows. Must be called with mu held.
func (w *Windows) sweep(now time.Time) {
	for key, win := range w.windows {
		if !now.Before(win.resetAt) {
			delete(w.windows, key)
		}
	}
}
