package task

import (
	"context"
	"sync"
)

// Control is the pause switch of a run. Tasks call Checkpoint between
// steps; while paused, Checkpoint blocks until Resume or until the context
// is cancelled.
type Control struct {
	mu       sync.Mutex
	paused   bool
	resume   chan struct{}
	reported bool
	onPaused func()
}

// NewControl returns a running Control. onPaused, if not nil, is called
// once per pause by the first checkpoint that observes it.
func NewControl(onPaused func()) *Control {
	return &Control{onPaused: onPaused}
}

// Pause requests a pause. It returns false if the run is already paused.
func (c *Control) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return false
	}
	c.paused = true
	c.reported = false
	c.resume = make(chan struct{})
	return true
}

// Resume releases the tasks blocked in Checkpoint. It returns false if the
// run was not paused.
func (c *Control) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return false
	}
	c.paused = false
	close(c.resume)
	return true
}

// Paused reports whether a pause is requested.
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Checkpoint returns the context error if the run is stopped and blocks
// while the run is paused.
func (c *Control) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return nil
	}
	wait := c.resume
	report := !c.reported
	c.reported = true
	onPaused := c.onPaused
	c.mu.Unlock()

	if report && onPaused != nil {
		onPaused()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wait:
		return ctx.Err()
	}
}
