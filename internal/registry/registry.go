package registry

import (
	"maps"
	"slices"

	"github.com/vk/measgrid/internal/check"
	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/dependency"
	"github.com/vk/measgrid/internal/engine"
	"github.com/vk/measgrid/internal/header"
	"github.com/vk/measgrid/internal/instr"
	"github.com/vk/measgrid/internal/monitor"
	"github.com/vk/measgrid/internal/task"
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds everything registered by the modules of one application
// instance, plus the instrument profiles loaded from configuration.
type Registry struct {
	TaskKinds  map[string]task.Factory
	Collectors map[string]dependency.Collector
	Engines    map[string]engine.Factory
	Monitors   map[string]monitor.Factory
	Checks     map[string]check.Check
	Headers    map[string]header.Header
	Drivers    map[string]instr.Factory
	Profiles   map[string]*config.Profile
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		TaskKinds:  make(map[string]task.Factory),
		Collectors: make(map[string]dependency.Collector),
		Engines:    make(map[string]engine.Factory),
		Monitors:   make(map[string]monitor.Factory),
		Checks:     make(map[string]check.Check),
		Headers:    make(map[string]header.Header),
		Drivers:    make(map[string]instr.Factory),
		Profiles:   make(map[string]*config.Profile),
	}
}

// PopulateProfiles copies the profiles of the config model into the
// registry. Later profiles replace earlier ones with the same name.
func (r *Registry) PopulateProfiles(model *config.Model) {
	maps.Copy(r.Profiles, model.Profiles)
}

// Collector implements dependency.Source.
func (r *Registry) Collector(id string) (dependency.Collector, bool) {
	c, ok := r.Collectors[id]
	return c, ok
}

// MonitorFactory, Check and Header implement measure.Tools.
func (r *Registry) MonitorFactory(kind string) (monitor.Factory, bool) {
	f, ok := r.Monitors[kind]
	return f, ok
}

func (r *Registry) Check(id string) (check.Check, bool) {
	c, ok := r.Checks[id]
	return c, ok
}

func (r *Registry) Header(id string) (header.Header, bool) {
	h, ok := r.Headers[id]
	return h, ok
}

// Engine returns the factory registered under name.
func (r *Registry) Engine(name string) (engine.Factory, bool) {
	f, ok := r.Engines[name]
	return f, ok
}

// EngineNames returns the registered engine names, sorted.
func (r *Registry) EngineNames() []string {
	return slices.Sorted(maps.Keys(r.Engines))
}

// TaskCollector returns the build collector resolving task kinds to their
// factories.
func (r *Registry) TaskCollector() dependency.Collector {
	return dependency.NewLookupCollector(task.TasksCollector, dependency.Build, func(kind string) (any, bool) {
		f, ok := r.TaskKinds[kind]
		return f, ok
	})
}

// DriverCollector returns the runtime collector resolving driver ids.
func (r *Registry) DriverCollector() dependency.Collector {
	return dependency.NewLookupCollector(instr.DriversCollector, dependency.Runtime, func(id string) (any, bool) {
		f, ok := r.Drivers[id]
		return f, ok
	})
}

// ProfileCollector returns the runtime collector resolving profile names.
func (r *Registry) ProfileCollector() dependency.Collector {
	return dependency.NewLookupCollector(instr.ProfilesCollector, dependency.Runtime, func(name string) (any, bool) {
		p, ok := r.Profiles[name]
		return p, ok
	})
}
