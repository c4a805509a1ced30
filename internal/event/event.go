// Package event defines the values that flow from an engine to the
// controller and the monitors: measure statuses, news and run results.
package event

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a measure.
type Status int

const (
	Editing Status = iota
	Preparing
	Ready
	Running
	Pausing
	Paused
	Stopping
	Interrupted
	Completed
	Failed
)

var statusNames = [...]string{
	Editing:     "EDITING",
	Preparing:   "PREPARING",
	Ready:       "READY",
	Running:     "RUNNING",
	Pausing:     "PAUSING",
	Paused:      "PAUSED",
	Stopping:    "STOPPING",
	Interrupted: "INTERRUPTED",
	Completed:   "COMPLETED",
	Failed:      "FAILED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(raw string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, raw) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", raw)
}

// IsTerminal reports whether no further transition is expected for the run.
func (s Status) IsTerminal() bool {
	return s == Interrupted || s == Completed || s == Failed
}

// IsActive reports whether a run is in progress.
func (s Status) IsActive() bool {
	switch s {
	case Running, Pausing, Paused, Stopping:
		return true
	}
	return false
}

// transitions lists the legal moves of a measure. Failing and being
// interrupted are allowed from every non-terminal state and are handled in
// CanTransition.
var transitions = map[Status][]Status{
	Editing:   {Preparing},
	Preparing: {Ready, Editing},
	Ready:     {Running, Preparing, Editing},
	Running:   {Pausing, Stopping, Completed},
	Pausing:   {Paused, Running, Stopping, Completed},
	Paused:    {Running, Stopping},
	Stopping:  {Completed},
	// A finished measure can be edited and queued again.
	Interrupted: {Editing},
	Completed:   {Editing},
	Failed:      {Editing},
}

// CanTransition reports whether a measure may move from one status to another.
func CanTransition(from, to Status) bool {
	if !from.IsTerminal() && (to == Failed || to == Interrupted) {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// News is a key/value update published while a measure runs. Key is the
// full database path of a monitored entry.
type News struct {
	Key   string
	Value any
}

// Result is the final outcome of a run.
type Result struct {
	Status  Status
	Message string
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %s", r.Status, r.Message)
}
