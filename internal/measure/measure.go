// Package measure ties a task tree to the tools observing and validating
// it, and tracks its status across runs.
package measure

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/measgrid/internal/check"
	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/event"
	"github.com/vk/measgrid/internal/header"
	"github.com/vk/measgrid/internal/monitor"
	"github.com/vk/measgrid/internal/task"
	"github.com/zclconf/go-cty/cty"
)

// ErrInvalidTransition is returned for status changes the measure
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// Monitor is a monitor attached to a measure.
type Monitor struct {
	Kind    string
	Monitor monitor.Monitor
	// Entries are the database paths the monitor follows. Empty means all.
	Entries []string
	// Attributes are kept to serialize the measure back.
	Attributes map[string]cty.Value
}

// Measure is a task tree with its tools and status.
type Measure struct {
	Name       string
	ID         uuid.UUID
	Root       *task.RootTask
	EngineName string
	Monitors   []Monitor
	Checks     map[string]check.Check
	Headers    []header.Named

	mu        sync.Mutex
	status    event.Status
	message   string
	report    map[string]string
	nextObs   uint64
	observers map[uint64]func(event.Status, string)
}

// New returns an editable measure with a fresh identifier.
func New(name string, root *task.RootTask) *Measure {
	return &Measure{
		Name:      name,
		ID:        uuid.New(),
		Root:      root,
		Checks:    make(map[string]check.Check),
		observers: make(map[uint64]func(event.Status, string)),
	}
}

// Status returns the current status and its message.
func (m *Measure) Status() (event.Status, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.message
}

// Report returns the findings of the last failed preparation.
func (m *Measure) Report() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.report)
}

// SetStatus moves the measure to status. Setting the current status again
// only updates the message.
func (m *Measure) SetStatus(status event.Status, message string) error {
	return m.transition(status, message, nil)
}

// Fail moves the measure to FAILED with the findings that caused it.
func (m *Measure) Fail(message string, report map[string]string) error {
	return m.transition(event.Failed, message, report)
}

// Reset makes a finished measure editable again.
func (m *Measure) Reset() error {
	status, _ := m.Status()
	if status == event.Editing {
		return nil
	}
	return m.SetStatus(event.Editing, "")
}

func (m *Measure) transition(status event.Status, message string, report map[string]string) error {
	m.mu.Lock()
	if m.status != status && !event.CanTransition(m.status, status) {
		from := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w: measure %q from %s to %s", ErrInvalidTransition, m.Name, from, status)
	}
	m.status = status
	m.message = message
	if status == event.Failed || status == event.Editing {
		m.report = maps.Clone(report)
	}
	fns := make([]func(event.Status, string), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(status, message)
	}
	return nil
}

// Subscribe registers fn for status changes. The returned function removes
// the subscription.
func (m *Measure) Subscribe(fn func(event.Status, string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observers == nil {
		m.observers = make(map[uint64]func(event.Status, string))
	}
	m.nextObs++
	id := m.nextObs
	m.observers[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.observers, id)
			m.mu.Unlock()
		})
	}
}

// MonitoredEntries returns the sorted union of the monitors' entries.
func (m *Measure) MonitoredEntries() []string {
	set := make(map[string]struct{})
	for _, mon := range m.Monitors {
		for _, e := range mon.Entries {
			set[e] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Header builds the text of the measure headers for a run started at start.
func (m *Measure) Header(ctx context.Context, start time.Time) string {
	return header.Build(ctx, m.Headers, header.Info{
		MeasureName: m.Name,
		MeasureID:   m.ID.String(),
		Start:       start,
		Root:        m.Root,
	})
}

// Config serializes the measure.
func (m *Measure) Config() (*config.Measure, error) {
	root, err := m.Root.Config()
	if err != nil {
		return nil, fmt.Errorf("measure %q: %w", m.Name, err)
	}
	cfg := &config.Measure{
		Name:   m.Name,
		Engine: m.EngineName,
		Root:   root,
		Checks: slices.Sorted(maps.Keys(m.Checks)),
	}
	for _, mon := range m.Monitors {
		cfg.Monitors = append(cfg.Monitors, &config.Tool{
			Kind:       mon.Kind,
			Entries:    slices.Clone(mon.Entries),
			Attributes: maps.Clone(mon.Attributes),
		})
	}
	for _, h := range m.Headers {
		cfg.Headers = append(cfg.Headers, h.ID)
	}
	return cfg, nil
}
