// Package tasks registers the built-in task kinds and the collector that
// resolves them while a measure is built.
package tasks

import (
	"github.com/vk/measgrid/internal/registry"
	"github.com/vk/measgrid/internal/task"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the task kinds with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTask(task.KindRoot, task.NewRootFactory)
	r.RegisterTask(task.KindComplex, task.NewComplexFactory)
	r.RegisterTask(task.KindSimple, task.NewSimpleFactory)
	r.RegisterTask(task.KindLoop, task.NewLoopFactory)
	r.RegisterTask(task.KindSleep, task.NewSleepFactory)
	r.RegisterTask(task.KindFormula, task.NewFormulaFactory)
	r.RegisterTask(task.KindArrayExtrema, task.NewArrayExtremaFactory)
	r.RegisterTask(task.KindArrayFindValue, task.NewArrayFindValueFactory)
	r.RegisterTask(task.KindArrayFit, task.NewArrayFitFactory)
	r.RegisterCollector(r.TaskCollector())
}
