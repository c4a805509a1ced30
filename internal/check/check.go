// Package check validates a measure before it is run.
package check

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/task"
)

// InternalID is the id of the check walking the task tree.
const InternalID = "internal"

// Check inspects a tree before a run. Report keys identify what failed and
// values explain why.
type Check interface {
	Check(ctx context.Context, root *task.RootTask) (bool, map[string]string)
}

// Func adapts a function into a Check.
type Func func(ctx context.Context, root *task.RootTask) (bool, map[string]string)

func (f Func) Check(ctx context.Context, root *task.RootTask) (bool, map[string]string) {
	return f(ctx, root)
}

// Internal runs every task's own Check against the measure database, with
// the runtime dependencies stored on the root, and verifies the default
// path.
type Internal struct{}

func (Internal) Check(ctx context.Context, root *task.RootTask) (bool, map[string]string) {
	rt := task.NewRuntime(root.Database(), root.RuntimeDependencyValues(), nil)
	passed, report := root.Check(ctx, rt)
	if report == nil {
		report = make(map[string]string)
	}
	if p := root.DefaultPath(); p != "" {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			report[task.EntryPath(root, task.EntryDefaultPath)] = fmt.Sprintf("default path is not usable: %v", err)
			passed = false
		case !info.IsDir():
			report[task.EntryPath(root, task.EntryDefaultPath)] = fmt.Sprintf("default path %s is not a directory", p)
			passed = false
		}
	}
	return passed, report
}

// RunAll runs checks in the order of their ids and merges the reports. A
// panicking check fails with the panic as its report.
func RunAll(ctx context.Context, checks map[string]Check, root *task.RootTask) (bool, map[string]string) {
	passed := true
	report := make(map[string]string)
	for _, id := range slices.Sorted(maps.Keys(checks)) {
		ok, r := runOne(ctx, id, checks[id], root)
		if !ok {
			passed = false
			ctxlog.FromContext(ctx).Warn("Check failed.", "check", id, "findings", len(r))
		}
		for k, v := range r {
			if _, dup := report[k]; dup {
				k = id + ":" + k
			}
			report[k] = v
		}
	}
	return passed, report
}

func runOne(ctx context.Context, id string, c Check, root *task.RootTask) (ok bool, report map[string]string) {
	defer func() {
		if p := recover(); p != nil {
			ok = false
			report = map[string]string{id: fmt.Sprintf("check panicked: %v", p)}
		}
	}()
	return c.Check(ctx, root)
}
