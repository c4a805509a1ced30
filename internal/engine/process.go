package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/event"
	"github.com/vk/measgrid/internal/task"
)

// ProcessKind is the name the in-process engine is registered under.
const ProcessKind = "process"

// DefaultForceStopTimeout bounds how long ForceStop waits for a run to
// clean up.
const DefaultForceStopTimeout = 2 * time.Second

var (
	errStopped      = errors.New("measure stopped on request")
	errForceStopped = errors.New("measure force stopped")
)

// Completed runs report this message.
const successMessage = "Measure succeeded"

// ProcessEngine runs task trees in a goroutine of the current process.
type ProcessEngine struct {
	forceStopTimeout time.Duration
	allowStop        bool
	logger           *slog.Logger

	// notifyMu orders listener calls: a status published while a run is
	// live reaches the listener before the run's done.
	notifyMu sync.Mutex
	// pauseMu serializes Pause and Resume.
	pauseMu sync.Mutex

	mu        sync.Mutex
	listener  Listener
	active    bool
	ready     bool
	running   bool
	stopping  bool
	name      string
	root      *task.RootTask
	monitored []string
	control   *task.Control
	cancel    context.CancelCauseFunc
	finished  chan struct{}
	run       uint64
	reported  uint64
	done      event.Result
	hasDone   bool
}

// ProcessOption configures a ProcessEngine.
type ProcessOption func(*ProcessEngine)

// WithForceStopTimeout sets how long ForceStop waits for cleanup.
func WithForceStopTimeout(d time.Duration) ProcessOption {
	return func(e *ProcessEngine) {
		if d > 0 {
			e.forceStopTimeout = d
		}
	}
}

// WithAllowStop sets whether graceful stop requests are honoured.
func WithAllowStop(allow bool) ProcessOption {
	return func(e *ProcessEngine) { e.allowStop = allow }
}

// NewProcessEngine returns an inactive engine. Its logger comes from ctx.
func NewProcessEngine(ctx context.Context, opts ...ProcessOption) *ProcessEngine {
	e := &ProcessEngine{
		forceStopTimeout: DefaultForceStopTimeout,
		allowStop:        true,
		logger:           ctxlog.FromContext(ctx).With("engine", ProcessKind),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewProcessFactory returns a Factory creating ProcessEngines.
func NewProcessFactory(opts ...ProcessOption) Factory {
	return func(ctx context.Context) (Engine, error) {
		return NewProcessEngine(ctx, opts...), nil
	}
}

func (e *ProcessEngine) SetListener(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = l
}

func (e *ProcessEngine) PrepareToRun(ctx context.Context, name string, root task.Task, monitored []string, build map[string]map[string]any) error {
	r, err := validate(name, root, monitored, build)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return refuse("a measure is already running")
	}
	if !e.active {
		e.logger.Debug("Engine activated.")
		e.active = true
	}
	e.name = name
	e.root = r
	e.monitored = monitored
	e.ready = true
	e.logger.Info("Measure ready.", "measure", name, "monitored", len(monitored))
	return nil
}

func (e *ProcessEngine) Run(ctx context.Context) error {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return refuse("no measure prepared")
	}
	if e.running {
		e.mu.Unlock()
		return refuse("a measure is already running")
	}
	e.run++
	id := e.run
	runCtx, cancel := context.WithCancelCause(ctx)
	e.cancel = cancel
	e.running = true
	e.ready = false
	e.stopping = false
	e.hasDone = false
	e.finished = make(chan struct{})
	e.control = task.NewControl(func() { e.publishStatus(id, event.Paused, "") })
	root, name, monitored := e.root, e.name, e.monitored
	control, finished := e.control, e.finished
	e.mu.Unlock()

	db := root.Database()
	db.PrepareForRunning()
	var unsubscribe []func()
	for _, path := range monitored {
		unsubscribe = append(unsubscribe, db.Subscribe(path, func(c database.Change) {
			if c.Kind == database.EntryUpdated {
				e.publishNews(id, event.News{Key: c.Path, Value: c.Value})
			}
		}))
	}
	rt := task.NewRuntime(db, root.RuntimeDependencyValues(), control)

	logger := e.logger.With("measure", name)
	logger.Info("Measure started.")
	e.publishStatus(id, event.Running, "")

	go func() {
		err := runTree(runCtx, root, rt)
		if err != nil {
			logger.Debug("Task tree returned an error.", "error", err)
		}
		for _, u := range unsubscribe {
			u()
		}
		if cerr := rt.Cleanup(context.WithoutCancel(runCtx)); cerr != nil {
			logger.Error("Cleanup failed.", "error", cerr)
		}
		result := resultOf(runCtx, err)
		current := e.finish(id, db)
		close(finished)
		if !current {
			logger.Warn("Abandoned run finished.", "result", result.String())
			return
		}
		e.deliver(id, result)
	}()
	return nil
}

// runTree runs root and turns a panic of a task into an error.
func runTree(ctx context.Context, root *task.RootTask, rt *task.Runtime) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("measure panicked: %v", r)
		}
	}()
	return root.Run(ctx, rt)
}

func resultOf(ctx context.Context, err error) event.Result {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errStopped) || errors.Is(cause, errForceStopped):
		return event.Result{Status: event.Interrupted, Message: cause.Error()}
	case err == nil:
		return event.Result{Status: event.Completed, Message: successMessage}
	case cause != nil:
		return event.Result{Status: event.Interrupted, Message: cause.Error()}
	default:
		return event.Result{Status: event.Failed, Message: err.Error()}
	}
}

// finish marks run id as over. It returns false when ForceStop already
// abandoned the run.
func (e *ProcessEngine) finish(id uint64, db *database.Database) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id != e.run || !e.running {
		return false
	}
	db.FinishRunning()
	e.running = false
	e.stopping = false
	e.cancel(nil)
	return true
}

// deliver publishes result once per run.
func (e *ProcessEngine) deliver(id uint64, result event.Result) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.mu.Lock()
	if e.reported >= id {
		e.mu.Unlock()
		return
	}
	e.reported = id
	e.done = result
	e.hasDone = true
	l := e.listener
	e.mu.Unlock()

	e.logger.Info("Measure done.", "status", result.Status.String(), "message", result.Message)
	if l != nil {
		l.OnDone(result)
	}
}

func (e *ProcessEngine) publishStatus(id uint64, status event.Status, message string) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.mu.Lock()
	if id != e.run || !e.running {
		e.mu.Unlock()
		return
	}
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l.OnStatus(status, message)
	}
}

func (e *ProcessEngine) publishNews(id uint64, n event.News) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.mu.Lock()
	if id != e.run || !e.running {
		e.mu.Unlock()
		return
	}
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l.OnNews(n)
	}
}

// Pause publishes PAUSING, then arms the control so that the PAUSED
// reported by the next checkpoint always follows it.
func (e *ProcessEngine) Pause() error {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	e.mu.Lock()
	if !e.running || e.stopping {
		e.mu.Unlock()
		return refuse("no running measure to pause")
	}
	id, control := e.run, e.control
	e.mu.Unlock()
	if control.Paused() {
		return refuse("measure already paused")
	}
	e.publishStatus(id, event.Pausing, "")
	control.Pause()
	return nil
}

func (e *ProcessEngine) Resume() error {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	e.mu.Lock()
	if !e.running || e.stopping {
		e.mu.Unlock()
		return refuse("no running measure to resume")
	}
	id, control := e.run, e.control
	e.mu.Unlock()
	if !control.Resume() {
		return refuse("measure is not paused")
	}
	e.publishStatus(id, event.Running, "")
	return nil
}

func (e *ProcessEngine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return refuse("no running measure to stop")
	}
	if !e.allowStop {
		e.mu.Unlock()
		return refuse("engine does not allow stopping")
	}
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	e.cancel(errStopped)
	id := e.run
	e.mu.Unlock()
	e.logger.Info("Stop requested.")
	e.publishStatus(id, event.Stopping, errStopped.Error())
	return nil
}

func (e *ProcessEngine) ForceStop() error {
	e.mu.Lock()
	if !e.running {
		e.ready = false
		e.active = false
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	e.cancel(errForceStopped)
	id, finished, db := e.run, e.finished, e.root.Database()
	timeout := e.forceStopTimeout
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		e.logger.Error("Run did not stop in time, abandoning it.", "timeout", timeout)
	}

	e.mu.Lock()
	abandoned := e.running && e.run == id
	if abandoned {
		db.FinishRunning()
		e.running = false
		e.stopping = false
		e.run++
	}
	e.ready = false
	e.active = false
	e.mu.Unlock()
	if abandoned {
		e.deliver(id, event.Result{Status: event.Interrupted, Message: errForceStopped.Error()})
	}
	return nil
}

func (e *ProcessEngine) Exit(ctx context.Context) error {
	e.mu.Lock()
	running, finished := e.running, e.finished
	e.mu.Unlock()
	if running {
		if err := e.Stop(); err != nil {
			return err
		}
		select {
		case <-finished:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	e.active = false
	e.root = nil
	e.logger.Debug("Engine exited.")
	return nil
}

func (e *ProcessEngine) ForceExit() error {
	err := e.ForceStop()
	e.mu.Lock()
	e.root = nil
	e.mu.Unlock()
	return err
}

func (e *ProcessEngine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *ProcessEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *ProcessEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *ProcessEngine) AllowStop() bool {
	return e.allowStop
}

func (e *ProcessEngine) Done() (event.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done, e.hasDone
}
