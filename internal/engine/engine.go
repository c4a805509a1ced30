package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vk/measgrid/internal/event"
	"github.com/vk/measgrid/internal/task"
)

var (
	// ErrEngineRefusal is returned when a request does not fit the current
	// state. The state is left unchanged.
	ErrEngineRefusal = errors.New("request refused")
	// ErrEngineActive is returned when switching engines before exiting
	// the active one.
	ErrEngineActive = errors.New("engine still active")
)

func refuse(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEngineRefusal, fmt.Sprintf(format, args...))
}

// PreparationError is returned when checks reject a measure.
type PreparationError struct {
	Report map[string]string
}

func (e *PreparationError) Error() string {
	keys := slices.Sorted(maps.Keys(e.Report))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Report[k]
	}
	return "checks failed: " + strings.Join(parts, "; ")
}

// ConfigurationError is returned when the arguments of a run are malformed.
// The engine is not touched.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

// Listener receives what an engine publishes. Calls come from the engine's
// goroutines and must not block.
type Listener interface {
	OnNews(news event.News)
	OnStatus(status event.Status, message string)
	// OnDone is called exactly once per run.
	OnDone(result event.Result)
}

// Engine executes task trees.
type Engine interface {
	// PrepareToRun validates and stores what the next Run needs. build maps
	// collector ids to the build dependencies resolved for root.
	PrepareToRun(ctx context.Context, name string, root task.Task, monitored []string, build map[string]map[string]any) error
	// Run starts the prepared tree and returns without waiting for it.
	Run(ctx context.Context) error
	Pause() error
	Resume() error
	Stop() error
	// ForceStop ends the run within a bounded delay, whatever its state.
	ForceStop() error
	// Exit waits for the current run to stop and releases the engine.
	Exit(ctx context.Context) error
	ForceExit() error

	Active() bool
	Running() bool
	Ready() bool
	AllowStop() bool
	// Done returns the result of the last finished run.
	Done() (event.Result, bool)
	SetListener(l Listener)
}

// Factory creates an engine.
type Factory func(ctx context.Context) (Engine, error)

// validate checks the arguments of PrepareToRun.
func validate(name string, root task.Task, monitored []string, build map[string]map[string]any) (*task.RootTask, error) {
	r, ok := root.(*task.RootTask)
	if !ok || r == nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("expected a %s, got %T", task.KindRoot, root)}
	}
	if name == "" {
		return nil, &ConfigurationError{Reason: "empty measure name"}
	}
	db := r.Database()
	for _, path := range monitored {
		if _, err := db.GetValue(path); err != nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("monitored entry: %v", err)}
		}
	}
	kinds := build[task.TasksCollector]
	var missing []string
	for t := range task.Walk(r) {
		if _, ok := kinds[t.Kind()]; !ok && !slices.Contains(missing, t.Kind()) {
			missing = append(missing, t.Kind())
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("build dependencies lack task kinds %s", strings.Join(missing, ", "))}
	}
	return r, nil
}
