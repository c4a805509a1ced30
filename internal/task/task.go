package task

import (
	"context"
	"iter"

	"github.com/vk/measgrid/internal/config"
)

// TasksCollector is the build dependency collector resolving task kinds.
const TasksCollector = "tasks"

// Task is a node of a measure tree.
type Task interface {
	Name() string
	Kind() string
	// Depth is the distance to the root. The root has depth 0.
	Depth() int
	// Path is the database node holding the task's entries. It is empty
	// while the task is not attached to a RootTask.
	Path() string
	Parent() *ComplexTask
	Root() *RootTask
	// DatabaseEntries maps the entries the task declares to their defaults.
	DatabaseEntries() map[string]any
	// BuildDependencies and RuntimeDependencies map a collector id to the
	// identifiers the task needs from it.
	BuildDependencies() map[string][]string
	RuntimeDependencies() map[string][]string
	// Check validates the task before a run. Report keys identify the task
	// with ReportKey.
	Check(ctx context.Context, rt *Runtime) (bool, map[string]string)
	Perform(ctx context.Context, rt *Runtime) error
	// Config serializes the task and its subtree.
	Config() (*config.Task, error)

	base() *Base
}

// Factory creates a task of one kind from its configuration. Children of
// complex kinds are added afterwards by the Builder.
type Factory func(cfg *config.Task) (Task, error)

// Container is implemented by every task that owns children.
type Container interface {
	Task
	Complex() *ComplexTask
}

func asComplex(t Task) (*ComplexTask, bool) {
	if c, ok := t.(Container); ok {
		return c.Complex(), true
	}
	return nil, false
}

// ReportKey builds the key under which a check reports on t. A non-empty
// suffix distinguishes several findings for the same task.
func ReportKey(t Task, suffix string) string {
	key := t.Path() + "/" + t.Name()
	if t.Path() == "" {
		key = t.Name()
	}
	if suffix != "" {
		key += "-" + suffix
	}
	return key
}

// EntryPath returns the full database path of one of t's declared entries.
func EntryPath(t Task, entry string) string {
	return t.base().entryPath(entry)
}

// Walk yields t followed by all its descendants in pre-order.
func Walk(t Task) iter.Seq[Task] {
	return func(yield func(Task) bool) {
		if !yield(t) {
			return
		}
		if c, ok := asComplex(t); ok {
			c.gather(yield)
		}
	}
}
