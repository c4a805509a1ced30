package registry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/dependency"
	"github.com/vk/measgrid/internal/task"
)

// ValidateRegistry checks that the registered code and the loaded profiles
// fit together: the task collector exists, an engine is available, and
// every profile names a registered driver that accepts its settings.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	if c, ok := r.Collectors[task.TasksCollector]; !ok {
		errs = append(errs, fmt.Sprintf("no '%s' collector registered, task trees cannot be built", task.TasksCollector))
	} else if !c.Kind().Includes(dependency.Build) {
		errs = append(errs, fmt.Sprintf("collector '%s' must provide build dependencies", task.TasksCollector))
	}
	if _, ok := r.TaskKinds[task.KindRoot]; !ok {
		errs = append(errs, fmt.Sprintf("task kind '%s' is not registered", task.KindRoot))
	}
	if len(r.Engines) == 0 {
		errs = append(errs, "no engine registered")
	}

	for _, name := range slices.Sorted(maps.Keys(r.Profiles)) {
		p := r.Profiles[name]
		factory, ok := r.Drivers[p.Driver]
		if !ok {
			errs = append(errs, fmt.Sprintf("profile '%s': driver '%s' is not registered", name, p.Driver))
			continue
		}
		// Creating a driver does not connect it; it validates the settings.
		drv, err := factory(p)
		if err != nil {
			errs = append(errs, fmt.Sprintf("profile '%s': %v", name, err))
			continue
		}
		if err := drv.Close(); err != nil {
			logger.Warn("Driver created for validation did not close.", "profile", name, "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	logger.Debug("Registry validated.", "task_kinds", len(r.TaskKinds), "collectors", len(r.Collectors),
		"engines", len(r.Engines), "profiles", len(r.Profiles))
	return nil
}
