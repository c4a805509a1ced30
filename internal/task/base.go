package task

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/dbpath"
)

// Base carries the state shared by every task kind. Kinds embed it (directly
// or through SimpleTask/ComplexTask) and call Init from their constructor.
type Base struct {
	name    string
	kind    string
	depth   int
	path    string
	parent  *ComplexTask
	root    *RootTask
	entries map[string]any
	// params points to the kind's parameter struct, encoded by Config.
	params any
	// unprefixed entries are stored under their bare name (root only).
	unprefixed bool
}

// Init sets the identity of the task. It panics on an invalid name, which
// is a programming error in the kind's constructor; use ValidateName on
// user input first.
func (b *Base) Init(kind, name string, entries map[string]any, params any) {
	if err := ValidateName(name); err != nil {
		panic(err)
	}
	b.kind = kind
	b.name = name
	b.entries = maps.Clone(entries)
	if b.entries == nil {
		b.entries = make(map[string]any)
	}
	b.params = params
}

// ValidateName reports whether name can be used for a task.
func ValidateName(name string) error {
	if err := dbpath.ValidateSegment(name); err != nil {
		return fmt.Errorf("invalid task name: %w", err)
	}
	return nil
}

func (b *Base) base() *Base { return b }

func (b *Base) Name() string         { return b.name }
func (b *Base) Kind() string         { return b.kind }
func (b *Base) Depth() int           { return b.depth }
func (b *Base) Path() string         { return b.path }
func (b *Base) Parent() *ComplexTask { return b.parent }
func (b *Base) Root() *RootTask      { return b.root }

// DatabaseEntries returns a copy of the declared entries.
func (b *Base) DatabaseEntries() map[string]any {
	return maps.Clone(b.entries)
}

// BuildDependencies declares the task's own kind.
func (b *Base) BuildDependencies() map[string][]string {
	return map[string][]string{TasksCollector: {b.kind}}
}

// RuntimeDependencies declares nothing by default.
func (b *Base) RuntimeDependencies() map[string][]string {
	return nil
}

// Check accepts the task by default.
func (b *Base) Check(context.Context, *Runtime) (bool, map[string]string) {
	return true, nil
}

// Config encodes the kind, the name and the parameters of the task.
func (b *Base) Config() (*config.Task, error) {
	cfg := &config.Task{Kind: b.kind, Name: b.name}
	if b.params != nil {
		attrs, err := config.EncodeAttributes(b.params)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %q: %w", b.kind, b.name, err)
		}
		cfg.Attributes = attrs
	}
	return cfg, nil
}

func (b *Base) entryName(entry string) string {
	if b.unprefixed {
		return entry
	}
	return b.name + "_" + entry
}

func (b *Base) entryPath(entry string) string {
	return dbpath.JoinRaw(b.path, b.entryName(entry))
}

// sortedEntries returns the declared entries in a stable order.
func (b *Base) sortedEntries() []string {
	return slices.Sorted(maps.Keys(b.entries))
}

// Write stores value in one of the task's declared entries.
func (b *Base) Write(rt *Runtime, entry string, value any) error {
	return rt.DB.SetValue(b.entryPath(entry), value)
}

// Read looks name up from the task's node, walking towards the root.
func (b *Base) Read(rt *Runtime, name string) (any, error) {
	return rt.DB.Lookup(b.path, name)
}

// SetDatabaseEntries replaces the declared entries. When the task is part of
// a tree the database is updated in one batch, which also retracts the
// ancestor access exceptions of the dropped entries; on failure nothing
// changes.
func (b *Base) SetDatabaseEntries(entries map[string]any) error {
	var dropped []exposure
	if b.root != nil {
		batch := database.NewBatch()
		var removed []string
		for _, e := range b.sortedEntries() {
			batch.Delete(b.entryPath(e))
			if _, kept := entries[e]; !kept {
				removed = append(removed, b.entryName(e))
			}
		}
		if !b.unprefixed {
			dropped = cascadeExposures(batch, b.parent, removed)
		}
		for _, e := range slices.Sorted(maps.Keys(entries)) {
			batch.Register(b.entryPath(e), entries[e])
		}
		if err := b.root.db.Commit(batch); err != nil {
			return fmt.Errorf("updating entries of %q: %w", b.name, err)
		}
	}
	applyDropped(dropped)
	b.entries = maps.Clone(entries)
	if b.root != nil {
		b.root.emit(StructureChange{Kind: EntriesChanged, Node: b.path, Task: b.name})
	}
	return nil
}
