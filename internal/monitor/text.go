package monitor

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/event"
)

// TextKind is the kind of the text monitor.
const TextKind = "text"

// Text keeps the latest value of every monitored entry and writes a table
// of them when stopped. Status changes are written as they come.
type Text struct {
	out io.Writer

	mu      sync.Mutex
	values  map[string]any
	updates int
}

// NewText returns a text monitor writing to out.
func NewText(out io.Writer) *Text {
	return &Text{out: out, values: make(map[string]any)}
}

func (t *Text) Start(context.Context) error {
	return nil
}

func (t *Text) Stop() error {
	_, err := io.WriteString(t.out, t.Render())
	return err
}

func (t *Text) RefreshMonitoredEntries(entries map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = maps.Clone(entries)
	if t.values == nil {
		t.values = make(map[string]any)
	}
}

func (t *Text) DatabaseModified(c database.Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch c.Kind {
	case database.EntryRemoved:
		delete(t.values, c.Path)
	default:
		t.values[c.Path] = c.Value
	}
}

func (t *Text) ProcessNews(n event.News) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[n.Key] = n.Value
	t.updates++
}

func (t *Text) ProcessStatus(status event.Status, message string) {
	line := "status: " + status.String()
	if message != "" {
		line += " (" + message + ")"
	}
	_, _ = io.WriteString(t.out, line+"\n")
}

func (t *Text) ClearState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.values)
	t.updates = 0
}

// Value returns the latest value of path.
func (t *Text) Value(path string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[path]
	return v, ok
}

// Render formats the entries sorted by path, one per line.
func (t *Text) Render() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	width := 0
	for p := range t.values {
		width = max(width, len(p))
	}
	for _, p := range slices.Sorted(maps.Keys(t.values)) {
		fmt.Fprintf(&b, "%-*s = %v\n", width, p, t.values[p])
	}
	fmt.Fprintf(&b, "(%d updates)\n", t.updates)
	return b.String()
}
