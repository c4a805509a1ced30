package task

import (
	"context"
	"fmt"

	"github.com/vk/measgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// KindSimple is the kind of a leaf task with no parameters.
const KindSimple = "SimpleTask"

// SimpleTask is a leaf task. Kinds with their own behaviour embed it and
// override Perform; used on its own it runs an optional Action.
type SimpleTask struct {
	Base
	Action func(ctx context.Context, rt *Runtime, t *SimpleTask) error
}

// NewSimpleTask returns a detached leaf declaring entries.
func NewSimpleTask(name string, entries map[string]any) *SimpleTask {
	s := &SimpleTask{}
	s.Init(KindSimple, name, entries, nil)
	return s
}

// NewSimpleFactory builds SimpleTasks from their configuration. Every
// attribute becomes a declared entry with the attribute as default value.
func NewSimpleFactory(cfg *config.Task) (Task, error) {
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	entries := make(map[string]any, len(cfg.Attributes))
	for name, val := range cfg.Attributes {
		v, err := config.GoValue(val)
		if err != nil {
			return nil, fmt.Errorf("%s %q: entry %q: %w", KindSimple, cfg.Name, name, err)
		}
		entries[name] = v
	}
	return NewSimpleTask(cfg.Name, entries), nil
}

// Perform runs Action, if any.
func (s *SimpleTask) Perform(ctx context.Context, rt *Runtime) error {
	if s.Action == nil {
		return nil
	}
	return s.Action(ctx, rt, s)
}

// Config encodes the declared entries as attributes.
func (s *SimpleTask) Config() (*config.Task, error) {
	cfg, err := s.Base.Config()
	if err != nil {
		return nil, err
	}
	if s.params != nil || len(s.entries) == 0 {
		return cfg, nil
	}
	cfg.Attributes = make(map[string]cty.Value, len(s.entries))
	for name, v := range s.entries {
		cv, err := config.CtyValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s %q: entry %q: %w", KindSimple, s.name, name, err)
		}
		cfg.Attributes[name] = cv
	}
	return cfg, nil
}
