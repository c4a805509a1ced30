package task

import (
	"fmt"

	"github.com/vk/measgrid/internal/config"
)

// Builder reconstructs task trees from their configuration.
type Builder struct {
	factories map[string]Factory
}

// NewBuilder returns a builder resolving kinds through factories, typically
// the objects resolved by the `tasks` build collector.
func NewBuilder(factories map[string]Factory) *Builder {
	return &Builder{factories: factories}
}

// NewBuilderFromDependencies adapts the result of a build dependency
// collection into a Builder.
func NewBuilderFromDependencies(deps map[string]any) (*Builder, error) {
	factories := make(map[string]Factory, len(deps))
	for kind, v := range deps {
		switch f := v.(type) {
		case Factory:
			factories[kind] = f
		case func(*config.Task) (Task, error):
			factories[kind] = f
		default:
			return nil, fmt.Errorf("dependency %q is a %T, not a task factory", kind, v)
		}
	}
	return NewBuilder(factories), nil
}

// BuildRoot builds a complete tree. cfg must describe a RootTask.
func (b *Builder) BuildRoot(cfg *config.Task) (*RootTask, error) {
	if cfg == nil || cfg.Kind != KindRoot {
		return nil, fmt.Errorf("configuration does not describe a %s", KindRoot)
	}
	t, err := b.Build(cfg)
	if err != nil {
		return nil, err
	}
	root, ok := t.(*RootTask)
	if !ok {
		return nil, fmt.Errorf("factory for %s returned %T", KindRoot, t)
	}
	return root, nil
}

// Build builds the task described by cfg with its subtree. The returned
// task is detached unless it is a RootTask.
func (b *Builder) Build(cfg *config.Task) (Task, error) {
	factory, ok := b.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
	t, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Children) == 0 && len(cfg.AccessExceptions) == 0 {
		return t, nil
	}
	c, ok := asComplex(t)
	if !ok {
		return nil, fmt.Errorf("%s %q cannot have children or access exceptions", cfg.Kind, cfg.Name)
	}
	for _, childCfg := range cfg.Children {
		child, err := b.Build(childCfg)
		if err != nil {
			return nil, err
		}
		if err := c.AppendChild(child); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.AccessExceptions {
		if err := c.AddAccessException(name); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultFactories returns the factories of the kinds implemented in this package.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		KindRoot:           NewRootFactory,
		KindComplex:        NewComplexFactory,
		KindSimple:         NewSimpleFactory,
		KindLoop:           NewLoopFactory,
		KindSleep:          NewSleepFactory,
		KindFormula:        NewFormulaFactory,
		KindArrayExtrema:   NewArrayExtremaFactory,
		KindArrayFindValue: NewArrayFindValueFactory,
		KindArrayFit:       NewArrayFitFactory,
	}
}
