package stream

import (
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDefinitions returns the built-in stream catalog. connectionStats
// supplies the gateway's counters and may be nil to omit that stream.
func DefaultDefinitions(clock clockwork.Clock, connectionStats func() any) []Definition {
	defs := []Definition{
		{
			ID:       "server_time",
			Channel:  "server_time",
			Interval: time.Second,
			Generate: func() (any, error) {
				now := clock.Now().UTC()
				return map[string]any{
					"unix_ms": now.UnixMilli(),
					"rfc3339": now.Format(time.RFC3339Nano),
				}, nil
			},
		},
		{
			ID:       "system_metrics",
			Channel:  "system_metrics",
			Interval: 2 * time.Second,
			Generate: systemMetrics,
		},
	}

	if connectionStats != nil {
		defs = append(defs, Definition{
			ID:       "connection_stats",
			Channel:  "connection_stats",
			Interval: 5 * time.Second,
			Generate: func() (any, error) { return connectionStats(), nil },
		})
	}

	return defs
}

func systemMetrics() (any, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_bytes": m.HeapAlloc,
		"gc_cycles":        m.NumGC,
	}, nil
}
