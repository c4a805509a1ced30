package instr

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/task"
)

// Task kinds driving DC sources.
const (
	KindSetDCVoltage = "SetDCVoltageTask"
	KindSetDCCurrent = "SetDCCurrentTask"
)

const defaultDelay = 0.01

// SourceParams are the attributes shared by the DC source tasks.
type SourceParams struct {
	Driver  string `cty:"driver"`
	Profile string `cty:"profile"`
	// TargetValue is a formula evaluated when the task runs.
	TargetValue string `cty:"target_value"`
	// BackStep is the largest change applied at once. Zero jumps straight
	// to the target.
	BackStep float64 `cty:"back_step"`
	// Delay is the pause between two steps, in seconds.
	Delay float64 `cty:"delay"`
}

type sourceFunc struct {
	kind     string
	entry    string
	function string
	suffix   string
	initial  float64
	get      func(ctx context.Context, d Driver) (float64, error)
	set      func(ctx context.Context, d Driver, v float64) error
}

var voltageFunc = sourceFunc{
	kind:     KindSetDCVoltage,
	entry:    "voltage",
	function: FunctionVoltage,
	suffix:   "volt",
	initial:  1.0,
	get: func(ctx context.Context, d Driver) (float64, error) {
		vs, ok := d.(VoltageSource)
		if !ok {
			return 0, fmt.Errorf("driver %T cannot output a voltage", d)
		}
		return vs.Voltage(ctx)
	},
	set: func(ctx context.Context, d Driver, v float64) error {
		vs, ok := d.(VoltageSource)
		if !ok {
			return fmt.Errorf("driver %T cannot output a voltage", d)
		}
		return vs.SetVoltage(ctx, v)
	},
}

var currentFunc = sourceFunc{
	kind:     KindSetDCCurrent,
	entry:    "current",
	function: FunctionCurrent,
	suffix:   "curr",
	initial:  0.01,
	get: func(ctx context.Context, d Driver) (float64, error) {
		cs, ok := d.(CurrentSource)
		if !ok {
			return 0, fmt.Errorf("driver %T cannot output a current", d)
		}
		return cs.Current(ctx)
	},
	set: func(ctx context.Context, d Driver, v float64) error {
		cs, ok := d.(CurrentSource)
		if !ok {
			return fmt.Errorf("driver %T cannot output a current", d)
		}
		return cs.SetCurrent(ctx, v)
	},
}

// SourceTask sets the output of a DC source, optionally ramping towards the
// target in steps of BackStep.
type SourceTask struct {
	task.SimpleTask
	params SourceParams
	fn     sourceFunc
}

// NewSetDCVoltageTask returns a detached task setting a voltage.
func NewSetDCVoltageTask(name string, p SourceParams) *SourceTask {
	return newSourceTask(voltageFunc, name, p)
}

// NewSetDCCurrentTask returns a detached task setting a current.
func NewSetDCCurrentTask(name string, p SourceParams) *SourceTask {
	return newSourceTask(currentFunc, name, p)
}

func newSourceTask(fn sourceFunc, name string, p SourceParams) *SourceTask {
	s := &SourceTask{params: p, fn: fn}
	s.Init(fn.kind, name, map[string]any{fn.entry: fn.initial}, &s.params)
	return s
}

// NewSetDCVoltageFactory builds SetDCVoltageTasks from their configuration.
func NewSetDCVoltageFactory(cfg *config.Task) (task.Task, error) {
	return sourceFactory(voltageFunc, cfg)
}

// NewSetDCCurrentFactory builds SetDCCurrentTasks from their configuration.
func NewSetDCCurrentFactory(cfg *config.Task) (task.Task, error) {
	return sourceFactory(currentFunc, cfg)
}

func sourceFactory(fn sourceFunc, cfg *config.Task) (task.Task, error) {
	if err := task.ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	p := SourceParams{Delay: defaultDelay}
	if err := config.DecodeAttributes(cfg.Attributes, &p); err != nil {
		return nil, fmt.Errorf("%s %q: %w", fn.kind, cfg.Name, err)
	}
	return newSourceTask(fn, cfg.Name, p), nil
}

// Params returns the task attributes.
func (s *SourceTask) Params() SourceParams { return s.params }

func (s *SourceTask) RuntimeDependencies() map[string][]string {
	deps := make(map[string][]string, 2)
	if s.params.Driver != "" {
		deps[DriversCollector] = []string{s.params.Driver}
	}
	if s.params.Profile != "" {
		deps[ProfilesCollector] = []string{s.params.Profile}
	}
	return deps
}

// Check validates the instrument selection and evaluates the target. The
// evaluated target is written to the task entry so later checks see it.
func (s *SourceTask) Check(_ context.Context, rt *task.Runtime) (bool, map[string]string) {
	report := make(map[string]string)
	if s.params.Driver == "" {
		report[task.ReportKey(s, "driver")] = "no driver selected"
	} else if _, ok := rt.Dependency(DriversCollector, s.params.Driver); !ok {
		report[task.ReportKey(s, "driver")] = fmt.Sprintf("driver %q is not available", s.params.Driver)
	}
	if s.params.Profile == "" {
		report[task.ReportKey(s, "profile")] = "no instrument profile selected"
	} else if _, ok := rt.Dependency(ProfilesCollector, s.params.Profile); !ok {
		report[task.ReportKey(s, "profile")] = fmt.Sprintf("profile %q is not available", s.params.Profile)
	}
	if s.params.BackStep < 0 {
		report[task.ReportKey(s, "back_step")] = fmt.Sprintf("negative back step %g", s.params.BackStep)
	}
	if s.params.Delay < 0 {
		report[task.ReportKey(s, "delay")] = fmt.Sprintf("negative delay %g", s.params.Delay)
	}
	if s.params.TargetValue == "" {
		report[task.ReportKey(s, s.fn.suffix)] = "no target value"
	} else {
		v, err := task.EvalNumber(rt, s, s.params.TargetValue)
		if err != nil {
			report[task.ReportKey(s, s.fn.suffix)] = fmt.Sprintf("failed to eval the target value formula %s: %v", s.params.TargetValue, err)
		} else if err := s.Write(rt, s.fn.entry, v); err != nil {
			report[task.ReportKey(s, s.fn.suffix)] = err.Error()
		}
	}
	return len(report) == 0, report
}

func (s *SourceTask) Perform(ctx context.Context, rt *task.Runtime) error {
	target, err := task.EvalNumber(rt, s, s.params.TargetValue)
	if err != nil {
		return err
	}
	drv, err := Acquire(ctx, rt, s.params.Driver, s.params.Profile)
	if err != nil {
		return err
	}
	src, ok := drv.(Source)
	if !ok {
		return fmt.Errorf("driver %q is not a DC source", s.params.Driver)
	}
	if f := src.Function(); f != s.fn.function {
		return fmt.Errorf("instrument %q is configured to output %s, not %s", s.params.Profile, f, s.fn.function)
	}
	return s.smoothSet(ctx, rt, drv, target)
}

// smoothSet moves the output to target. With a back step the output walks
// in steps no larger than it, waiting Delay between steps. A stop request
// leaves the output at the last step reached.
func (s *SourceTask) smoothSet(ctx context.Context, rt *task.Runtime, drv Driver, target float64) error {
	last, err := s.fn.get(ctx, drv)
	if err != nil {
		return err
	}
	if math.Abs(last-target) < 1e-12 {
		return s.Write(rt, s.fn.entry, target)
	}
	if s.params.BackStep > 0 {
		step := s.params.BackStep
		if target < last {
			step = -step
		}
		delay := time.Duration(s.params.Delay * float64(time.Second))
		for math.Abs(target-last) > math.Abs(step) {
			last = roundNano(last + step)
			if err := s.fn.set(ctx, drv, last); err != nil {
				return err
			}
			if err := s.Write(rt, s.fn.entry, last); err != nil {
				return err
			}
			if math.Abs(target-last) <= math.Abs(step) {
				break
			}
			if err := rt.Sleep(ctx, delay); err != nil {
				return err
			}
			if err := rt.Checkpoint(ctx); err != nil {
				return err
			}
		}
	}
	if err := s.fn.set(ctx, drv, target); err != nil {
		return err
	}
	return s.Write(rt, s.fn.entry, target)
}

func roundNano(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
