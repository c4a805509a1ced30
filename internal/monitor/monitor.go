// Package monitor forwards database changes, engine news and status updates
// to observers.
//
// Each monitor gets its own goroutine and bounded queue inside a Relay, so a
// slow monitor delays only itself. When its queue is full, events are
// dropped and counted.
package monitor

import (
	"context"

	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/event"
	"github.com/zclconf/go-cty/cty"
)

// Monitor observes a running measure.
type Monitor interface {
	Start(ctx context.Context) error
	Stop() error
	// RefreshMonitoredEntries resets the monitor view to entries, keyed by
	// full database path.
	RefreshMonitoredEntries(entries map[string]any)
	DatabaseModified(change database.Change)
	ProcessNews(news event.News)
	ClearState()
}

// StatusObserver is implemented by monitors that want measure status
// changes.
type StatusObserver interface {
	ProcessStatus(status event.Status, message string)
}

// Factory creates a monitor from the attributes of its configuration block.
type Factory func(ctx context.Context, attrs map[string]cty.Value) (Monitor, error)
