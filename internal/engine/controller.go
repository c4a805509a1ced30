package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vk/measgrid/internal/check"
	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/dependency"
	"github.com/vk/measgrid/internal/event"
	"github.com/vk/measgrid/internal/measure"
	"github.com/vk/measgrid/internal/monitor"
	"github.com/vk/measgrid/internal/task"
)

// ErrNoMeasure is returned when waiting while no measure was started.
var ErrNoMeasure = errors.New("no measure started")

// Controller runs measures one at a time through an Engine.
type Controller struct {
	resolver       *dependency.Resolver
	requireRuntime bool
	queueSize      int
	drainTimeout   time.Duration
	headerOut      io.Writer
	newEngine      func(ctx context.Context, name string) (Engine, error)
	logger         *slog.Logger

	mu         sync.Mutex
	engine     Engine
	engineName string
	measure    *measure.Measure
	checks     map[string]check.Check
	relay      *monitor.Relay
	status     event.Status
	message    string
	done       chan event.Result
	result     event.Result
	finished   bool
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRequiredRuntime makes unresolved runtime dependencies fail the
// preparation instead of being only reported.
func WithRequiredRuntime() ControllerOption {
	return func(c *Controller) { c.requireRuntime = true }
}

// WithMonitorQueue sets the per monitor queue capacity.
func WithMonitorQueue(n int) ControllerOption {
	return func(c *Controller) { c.queueSize = n }
}

// WithMonitorDrainTimeout bounds how long the end of a run waits for the
// monitors to process their queued events.
func WithMonitorDrainTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.drainTimeout = d }
}

// WithHeaderOutput sets where the measure headers are written at each run.
func WithHeaderOutput(w io.Writer) ControllerOption {
	return func(c *Controller) { c.headerOut = w }
}

// WithEngineSelector lets ProcessQueue switch to the engine a measure asks
// for. current is the name of the engine given to NewController.
func WithEngineSelector(current string, newEngine func(ctx context.Context, name string) (Engine, error)) ControllerOption {
	return func(c *Controller) {
		c.engineName = current
		c.newEngine = newEngine
	}
}

// NewController returns a controller driving eng and resolving
// dependencies with resolver.
func NewController(ctx context.Context, eng Engine, resolver *dependency.Resolver, opts ...ControllerOption) *Controller {
	c := &Controller{
		resolver:  resolver,
		queueSize:    monitor.DefaultQueueSize,
		drainTimeout: monitor.DefaultDrainTimeout,
		logger:    ctxlog.FromContext(ctx),
		engine:    eng,
		status:    event.Editing,
	}
	for _, opt := range opts {
		opt(c)
	}
	eng.SetListener(c)
	return c
}

// Engine returns the engine in use.
func (c *Controller) Engine() Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine
}

// Status returns the status of the current measure.
func (c *Controller) Status() (event.Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.message
}

// Measure returns the measure being prepared or run, if any.
func (c *Controller) Measure() *measure.Measure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.measure
}

// setStatus records status and mirrors it to the measure and monitors.
func (c *Controller) setStatus(status event.Status, message string) {
	c.mu.Lock()
	c.status = status
	c.message = message
	m, relay := c.measure, c.relay
	c.mu.Unlock()
	c.mirrorStatus(m, relay, status, message)
}

// applyEngineStatus records a status reported by the engine. A status
// arriving after the run is done, or one the transition table forbids, is
// dropped.
func (c *Controller) applyEngineStatus(status event.Status, message string) {
	c.mu.Lock()
	from := c.status
	if c.finished || !event.CanTransition(from, status) {
		c.mu.Unlock()
		c.logger.Debug("Engine status ignored.", "from", from.String(), "to", status.String())
		return
	}
	c.status = status
	c.message = message
	m, relay := c.measure, c.relay
	c.mu.Unlock()
	c.mirrorStatus(m, relay, status, message)
}

func (c *Controller) mirrorStatus(m *measure.Measure, relay *monitor.Relay, status event.Status, message string) {
	if m != nil {
		if err := m.SetStatus(status, message); err != nil {
			c.logger.Warn("Measure status not updated.", "measure", m.Name, "error", err)
		}
	}
	if relay != nil {
		relay.Status(status, message)
	}
}

// Prepare collects the dependencies of m, runs its checks and hands it to
// the engine. On failure the measure is FAILED and the error says why.
func (c *Controller) Prepare(ctx context.Context, m *measure.Measure) error {
	c.mu.Lock()
	if c.status.IsActive() {
		c.mu.Unlock()
		return refuse("measure %q is still running", c.measureName())
	}
	c.measure = m
	c.checks = m.Checks
	c.finished = false
	c.mu.Unlock()

	logger := c.logger.With("measure", m.Name)
	if err := m.Reset(); err != nil {
		return err
	}
	c.setStatus(event.Preparing, "")

	fail := func(err error, report map[string]string) error {
		c.mu.Lock()
		c.status = event.Failed
		c.message = err.Error()
		c.mu.Unlock()
		c.resolver.Forget(m.Root)
		if ferr := m.Fail(err.Error(), report); ferr != nil {
			logger.Warn("Measure status not updated.", "error", ferr)
		}
		logger.Error("Measure preparation failed.", "error", err)
		return err
	}

	deps, err := c.resolver.Collect(ctx, m.Root, dependency.Both)
	if err != nil {
		return fail(err, flatten(deps.Errors))
	}
	if deps.HasErrors() {
		report := flatten(deps.Errors)
		if c.requireRuntime {
			return fail(&PreparationError{Report: report}, report)
		}
		logger.Warn("Some runtime dependencies are missing.", "report", report)
	}
	m.Root.SetRuntimeDependencies(deps.Runtime)
	if err := m.Root.SetMeasure(m.Name, m.ID.String()); err != nil {
		return fail(err, nil)
	}

	if err := c.PrepareToRun(ctx, m.Name, m.Root, m.MonitoredEntries(), deps.Build); err != nil {
		var prepErr *PreparationError
		if errors.As(err, &prepErr) {
			return fail(err, prepErr.Report)
		}
		return fail(err, nil)
	}
	c.setStatus(event.Ready, "")
	return nil
}

func flatten(errs map[string]map[string]string) map[string]string {
	out := make(map[string]string)
	for collector, byID := range errs {
		for id, reason := range byID {
			out[collector+"/"+id] = reason
		}
	}
	return out
}

// PrepareToRun validates the arguments, runs the checks of the current
// measure and prepares the engine. Malformed arguments are rejected with a
// *ConfigurationError before the engine or the checks are involved.
func (c *Controller) PrepareToRun(ctx context.Context, name string, root task.Task, monitored []string, build map[string]map[string]any) error {
	r, err := validate(name, root, monitored, build)
	if err != nil {
		return err
	}
	c.mu.Lock()
	checks := c.checks
	eng := c.engine
	c.mu.Unlock()

	if passed, report := check.RunAll(ctx, checks, r); !passed {
		return &PreparationError{Report: report}
	}
	return eng.PrepareToRun(ctx, name, r, monitored, build)
}

// Run starts the prepared measure: its monitors are started, its headers
// written and the engine launched.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	m, eng := c.measure, c.engine
	if m == nil || c.status != event.Ready || !eng.Ready() {
		c.mu.Unlock()
		return refuse("no measure ready to run")
	}
	c.done = make(chan event.Result, 1)
	c.finished = false
	c.mu.Unlock()

	relay := monitor.NewRelay(ctx, monitor.WithQueueSize(c.queueSize), monitor.WithDrainTimeout(c.drainTimeout))
	for i, mon := range m.Monitors {
		name := fmt.Sprintf("%s-%d", mon.Kind, i)
		if err := relay.Add(ctx, name, mon.Monitor, mon.Entries); err != nil {
			c.logger.Error("Monitor not started.", "measure", m.Name, "monitor", name, "error", err)
		}
	}
	relay.Attach(m.Root.Database())
	c.mu.Lock()
	c.relay = relay
	c.mu.Unlock()

	if c.headerOut != nil && len(m.Headers) > 0 {
		if _, err := io.WriteString(c.headerOut, m.Header(ctx, time.Now())+"\n"); err != nil {
			c.logger.Warn("Header not written.", "measure", m.Name, "error", err)
		}
	}

	if err := eng.Run(ctx); err != nil {
		c.mu.Lock()
		c.relay = nil
		c.mu.Unlock()
		if serr := relay.Stop(); serr != nil {
			c.logger.Warn("Monitors did not stop cleanly.", "error", serr)
		}
		return err
	}
	return nil
}

// Pause asks the engine to pause. It is refused unless the measure runs.
func (c *Controller) Pause() error {
	c.mu.Lock()
	status, eng := c.status, c.engine
	c.mu.Unlock()
	if status != event.Running {
		return refuse("cannot pause a measure in state %s", status)
	}
	return eng.Pause()
}

// Resume continues a paused measure.
func (c *Controller) Resume() error {
	c.mu.Lock()
	status, eng := c.status, c.engine
	c.mu.Unlock()
	if status != event.Paused && status != event.Pausing {
		return refuse("cannot resume a measure in state %s", status)
	}
	return eng.Resume()
}

// Stop asks the engine to interrupt the measure. Calling it again while
// stopping has no effect.
func (c *Controller) Stop() error {
	c.mu.Lock()
	status, eng := c.status, c.engine
	c.mu.Unlock()
	switch {
	case status == event.Stopping:
		return nil
	case !status.IsActive():
		return refuse("cannot stop a measure in state %s", status)
	case !eng.AllowStop():
		return refuse("engine does not allow stopping")
	}
	return eng.Stop()
}

// ForceStop ends the current run unconditionally.
func (c *Controller) ForceStop() error {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()
	return eng.ForceStop()
}

// Exit ends the processing session gracefully.
func (c *Controller) Exit(ctx context.Context) error {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()
	return eng.Exit(ctx)
}

// ForceExit ends the processing session unconditionally.
func (c *Controller) ForceExit() error {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()
	return eng.ForceExit()
}

// SwitchEngine replaces the engine. The current one must have exited.
func (c *Controller) SwitchEngine(eng Engine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine.Active() {
		return ErrEngineActive
	}
	c.engine.SetListener(nil)
	c.engine = eng
	eng.SetListener(c)
	return nil
}

// Wait blocks until the current run is done.
func (c *Controller) Wait(ctx context.Context) (event.Result, error) {
	c.mu.Lock()
	done, finished, result := c.done, c.finished, c.result
	c.mu.Unlock()
	if finished {
		return result, nil
	}
	if done == nil {
		return event.Result{}, ErrNoMeasure
	}
	select {
	case r := <-done:
		done <- r
		return r, nil
	case <-ctx.Done():
		return event.Result{}, ctx.Err()
	}
}

// ProcessQueue prepares and runs the queued measures one after the other
// until the queue is empty or ctx is cancelled. A measure that cannot be
// prepared is marked FAILED and skipped.
func (c *Controller) ProcessQueue(ctx context.Context, q *measure.Queue) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, ok := q.Dequeue()
		if !ok {
			return nil
		}
		if err := c.selectEngine(ctx, m.EngineName); err != nil {
			c.logger.Error("Engine not available.", "measure", m.Name, "engine", m.EngineName, "error", err)
			if ferr := m.Fail(err.Error(), nil); ferr != nil {
				c.logger.Warn("Measure status not updated.", "measure", m.Name, "error", ferr)
			}
			continue
		}
		if err := c.Prepare(ctx, m); err != nil {
			if status, _ := m.Status(); !status.IsTerminal() {
				if ferr := m.Fail(err.Error(), nil); ferr != nil {
					c.logger.Warn("Measure status not updated.", "measure", m.Name, "error", ferr)
				}
			}
			continue
		}
		if err := c.Run(ctx); err != nil {
			c.logger.Error("Measure did not start.", "measure", m.Name, "error", err)
			if ferr := m.Fail(err.Error(), nil); ferr != nil {
				c.logger.Warn("Measure status not updated.", "measure", m.Name, "error", ferr)
			}
			continue
		}
		if _, err := c.Wait(ctx); err != nil {
			return err
		}
	}
}

// selectEngine exits the current engine and switches to name when the
// measure asks for another engine.
func (c *Controller) selectEngine(ctx context.Context, name string) error {
	c.mu.Lock()
	current, newEngine := c.engineName, c.newEngine
	c.mu.Unlock()
	if name == "" || name == current || newEngine == nil {
		return nil
	}
	eng, err := newEngine(ctx, name)
	if err != nil {
		return err
	}
	if err := c.Exit(ctx); err != nil {
		return err
	}
	if err := c.SwitchEngine(eng); err != nil {
		return err
	}
	c.mu.Lock()
	c.engineName = name
	c.mu.Unlock()
	c.logger.Info("Engine switched.", "engine", name)
	return nil
}

func (c *Controller) measureName() string {
	if c.measure == nil {
		return ""
	}
	return c.measure.Name
}

func (c *Controller) OnNews(n event.News) {
	c.mu.Lock()
	relay := c.relay
	c.mu.Unlock()
	if relay != nil {
		relay.News(n)
	}
}

func (c *Controller) OnStatus(status event.Status, message string) {
	c.applyEngineStatus(status, message)
}

// OnDone records the result, then drains the monitors so that they see the
// final values before Wait returns. The drain is bounded by the relay.
func (c *Controller) OnDone(result event.Result) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		c.logger.Warn("Duplicate run result ignored.", "result", result.String())
		return
	}
	c.status = result.Status
	c.message = result.Message
	m, relay, done := c.measure, c.relay, c.done
	c.relay = nil
	c.result = result
	c.finished = true
	c.mu.Unlock()
	c.mirrorStatus(m, relay, result.Status, result.Message)
	if m != nil {
		c.resolver.Forget(m.Root)
	}

	if relay != nil {
		if err := relay.Stop(); err != nil {
			c.logger.Warn("Monitors did not stop cleanly.", "error", err)
		}
	}
	if done != nil {
		done <- result
	}
}
