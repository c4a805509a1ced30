package task

import (
	"context"
	"fmt"
	"maps"
	"math"

	"github.com/vk/measgrid/internal/config"
)

// KindLoop is the kind of a task repeating its children over a range.
const KindLoop = "LoopTask"

type loopParams struct {
	Start float64 `cty:"start"`
	Stop  float64 `cty:"stop"`
	Step  float64 `cty:"step"`
}

// LoopTask performs its children once per point of [start, stop] and
// publishes the current point in its `index` (1-based) and `value` entries.
type LoopTask struct {
	ComplexTask
	params loopParams
}

// NewLoopTask returns a detached loop.
func NewLoopTask(name string, start, stop, step float64) *LoopTask {
	l := &LoopTask{params: loopParams{Start: start, Stop: stop, Step: step}}
	l.Init(KindLoop, name, map[string]any{"index": 0, "value": start}, &l.params)
	return l
}

// NewLoopFactory builds LoopTasks from their configuration.
func NewLoopFactory(cfg *config.Task) (Task, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	p := loopParams{Step: 1}
	if err := config.DecodeAttributes(cfg.Attributes, &p); err != nil {
		return nil, fmt.Errorf("%s %q: %w", KindLoop, cfg.Name, err)
	}
	return NewLoopTask(cfg.Name, p.Start, p.Stop, p.Step), nil
}

// Points returns the number of iterations.
func (l *LoopTask) Points() (int, error) {
	p := l.params
	if p.Step == 0 || math.IsNaN(p.Step) {
		return 0, fmt.Errorf("step must be non-zero")
	}
	n := math.Floor((p.Stop-p.Start)/p.Step + 1e-9)
	if n < 0 {
		return 0, fmt.Errorf("step %g never reaches %g from %g", p.Step, p.Stop, p.Start)
	}
	return int(n) + 1, nil
}

// Check validates the range and the children.
func (l *LoopTask) Check(ctx context.Context, rt *Runtime) (bool, map[string]string) {
	passed, report := l.ComplexTask.Check(ctx, rt)
	if _, err := l.Points(); err != nil {
		passed = false
		r := map[string]string{ReportKey(l, "range"): err.Error()}
		maps.Copy(r, report)
		report = r
	}
	return passed, report
}

// Perform iterates over the range.
func (l *LoopTask) Perform(ctx context.Context, rt *Runtime) error {
	n, err := l.Points()
	if err != nil {
		return err
	}
	for i := range n {
		if err := rt.Checkpoint(ctx); err != nil {
			return err
		}
		if err := l.Write(rt, "index", i+1); err != nil {
			return err
		}
		if err := l.Write(rt, "value", l.params.Start+float64(i)*l.params.Step); err != nil {
			return err
		}
		if err := l.PerformChildren(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}
