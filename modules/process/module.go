// Package process registers the engine running measures inside the current
// process.
package process

import (
	"time"

	"github.com/vk/measgrid/internal/engine"
	"github.com/vk/measgrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	ForceStopTimeout time.Duration
}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterEngine(engine.ProcessKind, engine.NewProcessFactory(
		engine.WithForceStopTimeout(m.ForceStopTimeout),
	))
}
