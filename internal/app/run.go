package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/engine"
	"github.com/vk/measgrid/internal/event"
	"github.com/vk/measgrid/internal/measure"
)

// Run builds the loaded measures and runs them in order. When ctx is
// cancelled the current measure is stopped, and force stopped if it does
// not finish within the force stop timeout.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	measures, err := a.buildMeasures(ctx)
	if err != nil {
		return err
	}
	for _, m := range measures {
		unwatch := a.resolver.Watch(m.Root)
		defer unwatch()
	}

	if a.config.Dump {
		return a.dump(measures)
	}
	if len(measures) == 0 {
		a.logger.Warn("No measure found, execution not required.")
		return nil
	}

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(ctx, a.config.HealthcheckPort)
		defer a.closeHealthcheckServer(ctx)
	}

	controller, err := a.newController(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.controller = controller
	a.mu.Unlock()

	if a.config.CheckOnly {
		return a.checkMeasures(ctx, controller, measures)
	}

	a.logger.Info("Starting measures.", "count", len(measures))
	queueErr := controller.ProcessQueue(ctx, measure.NewQueue(measures...))
	if queueErr != nil && ctx.Err() != nil {
		a.shutdown(controller)
	}
	if err := controller.Exit(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("Engine did not exit cleanly.", "error", err)
	}
	if queueErr != nil && ctx.Err() == nil {
		return queueErr
	}

	a.logger.Debug("App.Run method finished.")
	return summarize(measures)
}

func (a *App) buildMeasures(ctx context.Context) ([]*measure.Measure, error) {
	measures := make([]*measure.Measure, 0, len(a.model.Measures))
	for _, cfg := range a.model.Measures {
		m, err := measure.FromConfig(ctx, cfg, a.resolver, a.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to build measure: %w", err)
		}
		a.logger.Debug("Measure built.", "measure", m.Name, "id", m.ID)
		measures = append(measures, m)
	}
	return measures, nil
}

func (a *App) newController(ctx context.Context) (*engine.Controller, error) {
	factory, _ := a.registry.Engine(a.config.Engine)
	eng, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine %q: %w", a.config.Engine, err)
	}

	opts := []engine.ControllerOption{
		engine.WithHeaderOutput(a.outW),
		engine.WithEngineSelector(a.config.Engine, func(ctx context.Context, name string) (engine.Engine, error) {
			f, ok := a.registry.Engine(name)
			if !ok {
				return nil, fmt.Errorf("engine %q is not registered", name)
			}
			return f(ctx)
		}),
	}
	if a.config.MonitorQueue > 0 {
		opts = append(opts, engine.WithMonitorQueue(a.config.MonitorQueue))
	}
	if a.config.RequireRuntime {
		opts = append(opts, engine.WithRequiredRuntime())
	}
	return engine.NewController(ctx, eng, a.resolver, opts...), nil
}

// checkMeasures prepares every measure and prints its report without
// running anything.
func (a *App) checkMeasures(ctx context.Context, controller *engine.Controller, measures []*measure.Measure) error {
	var failed []string
	for _, m := range measures {
		err := controller.Prepare(ctx, m)
		if err == nil {
			fmt.Fprintf(a.outW, "%s: checks passed\n", m.Name)
		} else {
			failed = append(failed, m.Name)
			fmt.Fprintf(a.outW, "%s: %v\n", m.Name, err)
			report := m.Report()
			for _, key := range slices.Sorted(maps.Keys(report)) {
				fmt.Fprintf(a.outW, "  %s: %s\n", key, report[key])
			}
		}
		// Releases the engine prepared for m.
		if err := controller.ForceStop(); err != nil {
			a.logger.Warn("Engine not released.", "measure", m.Name, "error", err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d measure(s) failed their checks: %v", len(failed), failed)
	}
	return nil
}

func (a *App) dump(measures []*measure.Measure) error {
	if a.writer == nil {
		return errors.New("no configuration writer available")
	}
	cfgs := make([]*config.Measure, 0, len(measures))
	for _, m := range measures {
		cfg, err := m.Config()
		if err != nil {
			return fmt.Errorf("measure %q: %w", m.Name, err)
		}
		cfgs = append(cfgs, cfg)
	}
	return a.writer.WriteMeasures(a.outW, cfgs...)
}

// shutdown stops the current measure, then forces it when it overruns the
// force stop timeout.
func (a *App) shutdown(controller *engine.Controller) {
	a.logger.Info("Stop requested, interrupting the current measure.")
	if err := controller.Stop(); err != nil {
		a.logger.Debug("Graceful stop not applied.", "error", err)
	}

	timeout := a.config.ForceStopTimeout
	if timeout <= 0 {
		timeout = engine.DefaultForceStopTimeout
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := controller.Wait(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.logger.Warn("Measure did not stop in time, forcing.", "timeout", timeout)
		if err := controller.ForceStop(); err != nil {
			a.logger.Error("Force stop failed.", "error", err)
		}
	}
}

// summarize turns the final status of each measure into the run error.
func summarize(measures []*measure.Measure) error {
	var errs []error
	for _, m := range measures {
		status, message := m.Status()
		switch status {
		case event.Completed:
		case event.Failed, event.Interrupted:
			errs = append(errs, fmt.Errorf("measure %q %s: %s", m.Name, status, message))
		default:
			errs = append(errs, fmt.Errorf("measure %q not run (status %s)", m.Name, status))
		}
	}
	return errors.Join(errs...)
}
