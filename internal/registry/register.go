package registry

import (
	"fmt"
	"log/slog"

	"github.com/vk/measgrid/internal/check"
	"github.com/vk/measgrid/internal/dependency"
	"github.com/vk/measgrid/internal/engine"
	"github.com/vk/measgrid/internal/header"
	"github.com/vk/measgrid/internal/instr"
	"github.com/vk/measgrid/internal/monitor"
	"github.com/vk/measgrid/internal/task"
)

func register[T any](m map[string]T, what, name string, v T) {
	if _, exists := m[name]; exists {
		panic(fmt.Sprintf("%s with name '%s' already registered", what, name))
	}
	slog.Debug("Registering "+what+".", "name", name)
	m[name] = v
}

// RegisterTask registers the factory of a task kind.
func (r *Registry) RegisterTask(kind string, f task.Factory) {
	register(r.TaskKinds, "task kind", kind, f)
}

// RegisterCollector registers a dependency collector under its id.
func (r *Registry) RegisterCollector(c dependency.Collector) {
	register(r.Collectors, "collector", c.ID(), c)
}

// RegisterEngine registers an engine factory.
func (r *Registry) RegisterEngine(name string, f engine.Factory) {
	register(r.Engines, "engine", name, f)
}

// RegisterMonitor registers a monitor factory.
func (r *Registry) RegisterMonitor(kind string, f monitor.Factory) {
	register(r.Monitors, "monitor", kind, f)
}

// RegisterCheck registers a check.
func (r *Registry) RegisterCheck(id string, c check.Check) {
	register(r.Checks, "check", id, c)
}

// RegisterHeader registers a header.
func (r *Registry) RegisterHeader(id string, h header.Header) {
	register(r.Headers, "header", id, h)
}

// RegisterDriver registers an instrument driver.
func (r *Registry) RegisterDriver(id string, f instr.Factory) {
	register(r.Drivers, "driver", id, f)
}
