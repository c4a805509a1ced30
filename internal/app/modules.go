package app

import (
	"io"

	"github.com/vk/measgrid/internal/registry"
	"github.com/vk/measgrid/modules/instruments"
	"github.com/vk/measgrid/modules/process"
	"github.com/vk/measgrid/modules/socketio"
	"github.com/vk/measgrid/modules/tasks"
	"github.com/vk/measgrid/modules/textmonitor"
	"github.com/vk/measgrid/modules/tools"
)

// coreModules is the definitive list of all modules that are compiled into
// the measgrid binary.
func coreModules(cfg *Config, outW io.Writer) []registry.Module {
	return []registry.Module{
		&tasks.Module{},
		&instruments.Module{},
		&tools.Module{},
		&textmonitor.Module{Out: outW},
		&socketio.Module{},
		&process.Module{ForceStopTimeout: cfg.ForceStopTimeout},
	}
}
