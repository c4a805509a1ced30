package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/event"
)

// DefaultQueueSize is the per monitor queue capacity.
const DefaultQueueSize = 256

// DefaultDrainTimeout bounds how long Stop waits for the monitors.
const DefaultDrainTimeout = 5 * time.Second

var (
	// ErrRelayStopped is returned when adding monitors to a stopped relay.
	ErrRelayStopped = errors.New("relay stopped")
	// ErrMonitorAbandoned reports a monitor that did not drain or stop in time.
	ErrMonitorAbandoned = errors.New("monitor abandoned")
)

type sink struct {
	name    string
	monitor Monitor
	entries map[string]struct{}
	queue   chan func()
	dropped atomic.Uint64
	done    chan struct{}
}

func (s *sink) watches(path string) bool {
	if len(s.entries) == 0 {
		return true
	}
	_, ok := s.entries[path]
	return ok
}

// Relay dispatches events to monitors asynchronously.
type Relay struct {
	size         int
	drainTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	sinks   []*sink
	detach  func()
	stopped bool
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithQueueSize sets the per monitor queue capacity.
func WithQueueSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.size = n
		}
	}
}

// WithDrainTimeout sets how long Stop waits for the monitors before
// abandoning them.
func WithDrainTimeout(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// NewRelay returns an empty relay. The logger comes from ctx.
func NewRelay(ctx context.Context, opts ...RelayOption) *Relay {
	r := &Relay{
		size:         DefaultQueueSize,
		drainTimeout: DefaultDrainTimeout,
		logger:       ctxlog.FromContext(ctx),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add starts m and routes to it the events about entries. An empty entries
// list routes everything.
func (r *Relay) Add(ctx context.Context, name string, m Monitor, entries []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRelayStopped
	}
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("starting monitor %q: %w", name, err)
	}
	s := &sink{
		name:    name,
		monitor: m,
		entries: make(map[string]struct{}, len(entries)),
		queue:   make(chan func(), r.size),
		done:    make(chan struct{}),
	}
	for _, e := range entries {
		s.entries[e] = struct{}{}
	}
	r.sinks = append(r.sinks, s)
	go r.drain(s)
	return nil
}

func (r *Relay) drain(s *sink) {
	defer close(s.done)
	for fn := range s.queue {
		r.call(s, fn)
	}
}

func (r *Relay) call(s *sink, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Monitor panicked.", "monitor", s.name, "panic", p)
		}
	}()
	fn()
}

// dispatch must be called with r.mu held.
func (r *Relay) dispatch(s *sink, fn func()) {
	select {
	case s.queue <- fn:
	default:
		if s.dropped.Add(1) == 1 {
			r.logger.Warn("Monitor queue full, dropping events.", "monitor", s.name, "capacity", r.size)
		}
	}
}

func (r *Relay) each(fn func(s *sink)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	for _, s := range r.sinks {
		fn(s)
	}
}

// Attach seeds every monitor with the current values of its entries and
// forwards entry additions and removals of db. Updates reach monitors as
// news. Attaching again replaces the previous database.
func (r *Relay) Attach(db *database.Database) {
	unsubscribe := db.SubscribeAll(func(c database.Change) {
		if c.Kind == database.EntryUpdated {
			return
		}
		r.each(func(s *sink) {
			r.dispatch(s, func() { s.monitor.DatabaseModified(c) })
		})
	})
	snapshot := db.Snapshot()

	r.mu.Lock()
	previous := r.detach
	r.detach = unsubscribe
	r.mu.Unlock()
	if previous != nil {
		previous()
	}

	r.each(func(s *sink) {
		seed := make(map[string]any)
		for path, v := range snapshot {
			if s.watches(path) {
				seed[path] = v
			}
		}
		r.dispatch(s, func() { s.monitor.RefreshMonitoredEntries(seed) })
	})
}

// Detach stops forwarding database changes.
func (r *Relay) Detach() {
	r.mu.Lock()
	previous := r.detach
	r.detach = nil
	r.mu.Unlock()
	if previous != nil {
		previous()
	}
}

// News forwards n to the monitors watching its key.
func (r *Relay) News(n event.News) {
	r.each(func(s *sink) {
		if s.watches(n.Key) {
			r.dispatch(s, func() { s.monitor.ProcessNews(n) })
		}
	})
}

// Status forwards a status change to the monitors observing statuses.
func (r *Relay) Status(status event.Status, message string) {
	r.each(func(s *sink) {
		if obs, ok := s.monitor.(StatusObserver); ok {
			r.dispatch(s, func() { obs.ProcessStatus(status, message) })
		}
	})
}

// Clear asks every monitor to reset its state.
func (r *Relay) Clear() {
	r.each(func(s *sink) {
		r.dispatch(s, func() { s.monitor.ClearState() })
	})
}

// Dropped returns how many events were dropped for the named monitor.
func (r *Relay) Dropped(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n uint64
	for _, s := range r.sinks {
		if s.name == name {
			n += s.dropped.Load()
		}
	}
	return n
}

// Stop delivers the queued events, then stops every monitor. Draining and
// stopping run concurrently under one deadline; a monitor still busy when
// it expires is abandoned with its goroutine. Stop returns the joined errors of the
// monitors.
func (r *Relay) Stop() error {
	r.Detach()
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	sinks := r.sinks
	for _, s := range sinks {
		close(s.queue)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()
	errs := make([]error, len(sinks))
	var wg sync.WaitGroup
	for i, s := range sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.stopSink(ctx, s)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (r *Relay) stopSink(ctx context.Context, s *sink) error {
	select {
	case <-s.done:
	case <-ctx.Done():
		r.logger.Error("Monitor did not drain in time, abandoning it.", "monitor", s.name, "timeout", r.drainTimeout)
		return fmt.Errorf("monitor %q: %w", s.name, ErrMonitorAbandoned)
	}
	if n := s.dropped.Load(); n > 0 {
		r.logger.Warn("Monitor missed events.", "monitor", s.name, "dropped", n)
	}

	stopped := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				stopped <- fmt.Errorf("monitor panicked on stop: %v", p)
			}
		}()
		stopped <- s.monitor.Stop()
	}()
	select {
	case err := <-stopped:
		if err != nil {
			return fmt.Errorf("stopping monitor %q: %w", s.name, err)
		}
		return nil
	case <-ctx.Done():
		r.logger.Error("Monitor did not stop in time, abandoning it.", "monitor", s.name, "timeout", r.drainTimeout)
		return fmt.Errorf("monitor %q: %w", s.name, ErrMonitorAbandoned)
	}
}
