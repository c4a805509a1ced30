package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/measgrid/internal/database"
)

// Runtime is handed to every task of a run.
type Runtime struct {
	DB *database.Database

	deps    map[string]map[string]any
	control *Control

	mu        sync.Mutex
	resources map[string]*resource
	cleanups  []func(context.Context) error
}

// resource is created at most once per key. Creation runs outside the
// runtime lock so that it may register cleanups.
type resource struct {
	once  sync.Once
	value any
	err   error
}

// NewRuntime builds the runtime of a run. A nil control never pauses.
func NewRuntime(db *database.Database, deps map[string]map[string]any, control *Control) *Runtime {
	if control == nil {
		control = NewControl(nil)
	}
	return &Runtime{
		DB:        db,
		deps:      deps,
		control:   control,
		resources: make(map[string]*resource),
	}
}

// Dependency returns the object a runtime collector resolved for id.
func (rt *Runtime) Dependency(collector, id string) (any, bool) {
	v, ok := rt.deps[collector][id]
	return v, ok
}

// Checkpoint blocks while the run is paused and fails once it is stopped.
func (rt *Runtime) Checkpoint(ctx context.Context) error {
	return rt.control.Checkpoint(ctx)
}

// Sleep waits for d unless the run is stopped first.
func (rt *Runtime) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Resource returns the object stored under key, creating it on first use.
// Tasks use it to share instrument connections within a run. Concurrent
// callers of one key wait for a single creation; a failed creation is
// forgotten so that a later call may retry.
func (rt *Runtime) Resource(key string, create func() (any, error)) (any, error) {
	rt.mu.Lock()
	res, ok := rt.resources[key]
	if !ok {
		res = &resource{}
		rt.resources[key] = res
	}
	rt.mu.Unlock()

	res.once.Do(func() { res.value, res.err = create() })
	if res.err != nil {
		rt.mu.Lock()
		if rt.resources[key] == res {
			delete(rt.resources, key)
		}
		rt.mu.Unlock()
		return nil, res.err
	}
	return res.value, nil
}

// OnCleanup registers fn to run when the run ends. Cleanups run in reverse
// order of registration.
func (rt *Runtime) OnCleanup(fn func(context.Context) error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cleanups = append(rt.cleanups, fn)
}

// Cleanup runs every registered cleanup, even after failures, and returns
// the joined errors. A panicking cleanup is reported as an error.
func (rt *Runtime) Cleanup(ctx context.Context) error {
	rt.mu.Lock()
	fns := rt.cleanups
	rt.cleanups = nil
	rt.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := runCleanup(ctx, fns[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runCleanup(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()
	return fn(ctx)
}
