// Package instruments registers the instrument drivers, the source tasks
// driving them, and the runtime collectors for drivers and profiles.
package instruments

import (
	"github.com/vk/measgrid/internal/instr"
	"github.com/vk/measgrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterDriver(instr.SimulatedDriver, instr.SimulatedFactory)
	r.RegisterTask(instr.KindSetDCVoltage, instr.NewSetDCVoltageFactory)
	r.RegisterTask(instr.KindSetDCCurrent, instr.NewSetDCCurrentFactory)
	r.RegisterCollector(r.DriverCollector())
	r.RegisterCollector(r.ProfileCollector())
}
