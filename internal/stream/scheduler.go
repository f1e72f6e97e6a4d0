// Package stream runs the live stream scheduler. Every registered
// definition owns a ticker goroutine for the life of the process; the
// registry's stream gate flips an atomic active flag instead of creating or
// destroying timers, so activation state can never race timer lifecycle.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
)

const historyAppendTimeout = 2 * time.Second

// Definition describes one live stream: a channel binding, a cadence, and a
// snapshot generator. Generators run on the scheduler goroutine of their
// stream and must not block.
type Definition struct {
	ID       string
	Channel  string
	Interval time.Duration
	Generate func() (any, error)
}

// UpdatePayload is the data section of a live_update frame.
type UpdatePayload struct {
	Stream string    `json:"stream"`
	Tick   time.Time `json:"tick"`
	Data   any       `json:"data"`
}

type streamState struct {
	def    Definition
	active atomic.Bool
}

// Scheduler implements domain.StreamCatalog and domain.StreamGate.
//
// Wiring order matters: Register all definitions, SetBroadcaster, then
// Start. The gate methods are safe from any goroutine once Start ran.
type Scheduler struct {
	clock       clockwork.Clock
	history     domain.HistoryRecorder
	broadcaster domain.ChannelBroadcaster
	streams     map[string]*streamState
	byChannel   map[string]*streamState
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	started     bool
}

// NewScheduler creates an empty scheduler. history may be nil to skip
// recording live updates.
func NewScheduler(clock clockwork.Clock, history domain.HistoryRecorder) *Scheduler {
	return &Scheduler{
		clock:     clock,
		history:   history,
		streams:   make(map[string]*streamState),
		byChannel: make(map[string]*streamState),
		done:      make(chan struct{}),
	}
}

// Register adds a definition. Streams bind 1:1 to channels, so both the ID
// and the channel must be unique. Must be called before Start.
func (s *Scheduler) Register(def Definition) error {
	if s.started {
		return fmt.Errorf("register %q: scheduler already started", def.ID)
	}
	if def.ID == "" || def.Channel == "" {
		return fmt.Errorf("register %q: ID and channel are required", def.ID)
	}
	if def.Interval <= 0 {
		return fmt.Errorf("register %q: interval must be positive, got %v", def.ID, def.Interval)
	}
	if def.Generate == nil {
		return fmt.Errorf("register %q: generator is required", def.ID)
	}
	if _, dup := s.streams[def.ID]; dup {
		return fmt.Errorf("register %q: duplicate stream ID", def.ID)
	}
	if other, dup := s.byChannel[def.Channel]; dup {
		return fmt.Errorf("register %q: channel %q already bound to stream %q", def.ID, def.Channel, other.def.ID)
	}

	st := &streamState{def: def}
	s.streams[def.ID] = st
	s.byChannel[def.Channel] = st
	return nil
}

// SetBroadcaster sets the fan-out dependency. Used to resolve the circular
// dependency with the gateway; call before Start.
func (s *Scheduler) SetBroadcaster(b domain.ChannelBroadcaster) {
	s.broadcaster = b
}

// Start launches one ticker goroutine per registered definition.
func (s *Scheduler) Start() {
	s.started = true
	for _, st := range s.streams {
		s.wg.Add(1)
		go s.runStream(st)
	}
	slog.Info("Stream scheduler started", "streams", len(s.streams))
}

// Stop terminates all stream goroutines and waits for them to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	slog.Info("Stream scheduler stopped")
}

func (s *Scheduler) runStream(st *streamState) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(st.def.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			// Ticks while inactive are a flag check and nothing else.
			if !st.active.Load() {
				continue
			}
			s.tick(st)
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) tick(st *streamState) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Stream generator panic recovered", "stream", st.def.ID, "panic", r)
			metrics.StreamGeneratorErrors.WithLabelValues(st.def.ID).Inc()
		}
	}()

	metrics.StreamTicks.WithLabelValues(st.def.ID).Inc()

	data, err := st.def.Generate()
	if err != nil {
		// Skip this tick; the stream stays registered and active.
		slog.Warn("Stream generator failed", "stream", st.def.ID, "error", err)
		metrics.StreamGeneratorErrors.WithLabelValues(st.def.ID).Inc()
		return
	}

	now := s.clock.Now()
	msg := domain.NewReply(domain.TypeLiveUpdate, UpdatePayload{
		Stream: st.def.ID,
		Tick:   now.UTC(),
		Data:   data,
	}, now)

	s.broadcaster.BroadcastChannel(st.def.Channel, msg)

	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyAppendTimeout)
		if err := s.history.Append(ctx, st.def.Channel, msg); err != nil {
			slog.Warn("Stream history append failed", "stream", st.def.ID, "error", err)
			metrics.HistoryAppendFailures.Inc()
		}
		cancel()
	}
}

// --- domain.StreamGate ---

// ChannelActive flips the stream bound to the channel to active. Channels
// without a stream are ignored. Called under the registry lock, so this
// only touches the atomic flag.
func (s *Scheduler) ChannelActive(channel string) {
	st, ok := s.byChannel[channel]
	if !ok {
		return
	}
	if st.active.CompareAndSwap(false, true) {
		metrics.StreamActive.Inc()
		slog.Debug("Stream activated", "stream", st.def.ID, "channel", channel)
	}
}

// ChannelIdle flips the stream bound to the channel to inactive.
func (s *Scheduler) ChannelIdle(channel string) {
	st, ok := s.byChannel[channel]
	if !ok {
		return
	}
	if st.active.CompareAndSwap(true, false) {
		metrics.StreamActive.Dec()
		slog.Debug("Stream deactivated", "stream", st.def.ID, "channel", channel)
	}
}

// --- domain.StreamCatalog ---

// Streams lists the catalog sorted by ID for a stable capability
// announcement.
func (s *Scheduler) Streams() []domain.StreamInfo {
	out := make([]domain.StreamInfo, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, domain.StreamInfo{
			ID:       st.def.ID,
			Channel:  st.def.Channel,
			Interval: st.def.Interval,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns the stream with the given ID.
func (s *Scheduler) Lookup(id string) (domain.StreamInfo, bool) {
	st, ok := s.streams[id]
	if !ok {
		return domain.StreamInfo{}, false
	}
	return domain.StreamInfo{ID: st.def.ID, Channel: st.def.Channel, Interval: st.def.Interval}, true
}

// Active reports whether the stream with the given ID is currently
// generating updates.
func (s *Scheduler) Active(id string) bool {
	st, ok := s.streams[id]
	return ok && st.active.Load()
}

// ActiveCount returns the number of active streams.
func (s *Scheduler) ActiveCount() int {
	n := 0
	for _, st := range s.streams {
		if st.active.Load() {
			n++
		}
	}
	return n
}
