package measure

import (
	"context"
	"fmt"

	"github.com/vk/measgrid/internal/check"
	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/dependency"
	"github.com/vk/measgrid/internal/header"
	"github.com/vk/measgrid/internal/monitor"
	"github.com/vk/measgrid/internal/task"
)

// Tools looks up the tools a measure configuration refers to.
type Tools interface {
	MonitorFactory(kind string) (monitor.Factory, bool)
	Check(id string) (check.Check, bool)
	Header(id string) (header.Header, bool)
}

// FromConfig rebuilds a measure. The task kinds of the tree are resolved
// through the `tasks` build collector before anything is built.
func FromConfig(ctx context.Context, cfg *config.Measure, resolver *dependency.Resolver, tools Tools) (*Measure, error) {
	if cfg.Root == nil {
		return nil, fmt.Errorf("measure %q has no task tree", cfg.Name)
	}
	deps, err := resolver.CollectBuildFromConfig(ctx, cfg.Root, task.TasksCollector)
	if err != nil {
		return nil, fmt.Errorf("measure %q: %w", cfg.Name, err)
	}
	builder, err := task.NewBuilderFromDependencies(deps.Build[task.TasksCollector])
	if err != nil {
		return nil, fmt.Errorf("measure %q: %w", cfg.Name, err)
	}
	root, err := builder.BuildRoot(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("measure %q: building task tree: %w", cfg.Name, err)
	}

	m := New(cfg.Name, root)
	m.EngineName = cfg.Engine

	if c, ok := tools.Check(check.InternalID); ok {
		m.Checks[check.InternalID] = c
	}
	for _, id := range cfg.Checks {
		c, ok := tools.Check(id)
		if !ok {
			return nil, fmt.Errorf("measure %q: unknown check %q", cfg.Name, id)
		}
		m.Checks[id] = c
	}

	for _, id := range cfg.Headers {
		h, ok := tools.Header(id)
		if !ok {
			return nil, fmt.Errorf("measure %q: unknown header %q", cfg.Name, id)
		}
		m.Headers = append(m.Headers, header.Named{ID: id, Header: h})
	}

	for _, tool := range cfg.Monitors {
		factory, ok := tools.MonitorFactory(tool.Kind)
		if !ok {
			return nil, fmt.Errorf("measure %q: unknown monitor %q", cfg.Name, tool.Kind)
		}
		mon, err := factory(ctx, tool.Attributes)
		if err != nil {
			return nil, fmt.Errorf("measure %q: monitor %q: %w", cfg.Name, tool.Kind, err)
		}
		m.Monitors = append(m.Monitors, Monitor{
			Kind:       tool.Kind,
			Monitor:    mon,
			Entries:    tool.Entries,
			Attributes: tool.Attributes,
		})
	}

	ctxlog.FromContext(ctx).Debug("Measure built.", "measure", m.Name, "id", m.ID.String(),
		"monitors", len(m.Monitors), "checks", len(m.Checks))
	return m, nil
}
