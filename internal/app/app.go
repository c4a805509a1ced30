package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/dependency"
	"github.com/vk/measgrid/internal/engine"
	"github.com/vk/measgrid/internal/instr"
	"github.com/vk/measgrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	registry   *registry.Registry
	model      *config.Model
	writer     config.Writer
	resolver   *dependency.Resolver
	httpServer *http.Server

	mu         sync.Mutex
	controller *engine.Controller
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Configuration errors are fatal and panic.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader, writer config.Writer, modules ...registry.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfgModel, err := loader.Load(ctx, appConfig.MeasurePath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	if appConfig.ProfilesPath != "" {
		profiles, err := instr.LoadProfiles(appConfig.ProfilesPath)
		if err != nil {
			panic(fmt.Errorf("failed to load profiles: %w", err))
		}
		for name, p := range profiles {
			if prev, dup := cfgModel.Profiles[name]; dup {
				panic(fmt.Errorf("profile %q defined in both %s and %s", name, prev.Source, p.Source))
			}
			cfgModel.Profiles[name] = p
		}
	}
	logger.Debug("Configuration loaded.", "measures", len(cfgModel.Measures), "profiles", len(cfgModel.Profiles))

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(appConfig, outW)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	reg.PopulateProfiles(cfgModel)

	if err := reg.ValidateRegistry(ctx); err != nil {
		panic(err)
	}
	if _, ok := reg.Engine(appConfig.Engine); !ok {
		panic(fmt.Errorf("engine %q is not registered (available: %s)", appConfig.Engine, strings.Join(reg.EngineNames(), ", ")))
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:     outW,
		logger:   logger,
		config:   appConfig,
		registry: reg,
		model:    cfgModel,
		writer:   writer,
		resolver: dependency.NewResolver(reg),
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Model returns the loaded configuration.
func (a *App) Model() *config.Model {
	return a.model
}

// Controller returns the controller of the current session, if one runs.
func (a *App) Controller() *engine.Controller {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controller
}
