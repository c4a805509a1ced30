package database

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vk/measgrid/internal/dbpath"
)

// DefaultExcludedEntries are root entries kept out of listings.
var DefaultExcludedEntries = []string{"threads", "instrs"}

// Database is a hierarchical, path-addressed store. It is safe for concurrent use.
type Database struct {
	mu       sync.RWMutex
	st       *state
	running  bool
	excluded map[string]struct{}

	subMu   sync.Mutex
	nextSub uint64
	subs    map[string]map[uint64]Observer
}

// Option configures a Database.
type Option func(*Database)

// WithExcludedEntries replaces the set of root entries hidden from listings.
func WithExcludedEntries(names ...string) Option {
	return func(d *Database) {
		d.excluded = make(map[string]struct{}, len(names))
		for _, n := range names {
			d.excluded[n] = struct{}{}
		}
	}
}

// New creates a database holding only the root node.
func New(opts ...Option) *Database {
	d := &Database{
		st:   newState(),
		subs: make(map[string]map[uint64]Observer),
	}
	WithExcludedEntries(DefaultExcludedEntries...)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Commit applies every operation of b or none of them.
func (d *Database) Commit(b *Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrRunning
	}
	next := d.st.clone()
	var changes []Change
	for _, op := range b.ops {
		if err := op(next, &changes); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	d.st = next
	d.mu.Unlock()

	d.notify(changes)
	return nil
}

// CreateNode adds a node below an existing parent.
func (d *Database) CreateNode(node string) error {
	return d.Commit(NewBatch().CreateNode(node))
}

// DeleteNode removes a node with all nodes, entries and access exceptions beneath it.
func (d *Database) DeleteNode(node string) error {
	return d.Commit(NewBatch().DeleteNode(node))
}

// HasNode reports whether node exists.
func (d *Database) HasNode(node string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.st.hasNode(node)
}

// Register adds an entry with its initial value.
func (d *Database) Register(path string, value any) error {
	return d.Commit(NewBatch().Register(path, value))
}

// Delete removes an entry.
func (d *Database) Delete(path string) error {
	return d.Commit(NewBatch().Delete(path))
}

// AddAccessException exposes name, visible in the child node, at node.
func (d *Database) AddAccessException(node, child, name string) error {
	return d.Commit(NewBatch().AddAccessException(node, child, name))
}

// RemoveAccessException reverses AddAccessException.
func (d *Database) RemoveAccessException(node, name string) error {
	return d.Commit(NewBatch().RemoveAccessException(node, name))
}

// SetValue overwrites an existing entry and notifies its observers.
func (d *Database) SetValue(path string, value any) error {
	d.mu.Lock()
	if _, ok := d.st.entries[path]; !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEntry, path)
	}
	d.st.entries[path] = value
	d.mu.Unlock()

	d.notify([]Change{{Kind: EntryUpdated, Path: path, Value: value}})
	return nil
}

// GetValue returns the value stored at the full path.
func (d *Database) GetValue(path string) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.st.entries[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntry, path)
	}
	return v, nil
}

// Resolve returns the full path name refers to when looked up from node.
func (d *Database) Resolve(node, name string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.st.hasNode(node) {
		return "", fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	full, ok := d.st.resolve(node, name)
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrUnknownEntry, name, node)
	}
	return full, nil
}

// Lookup returns the value name refers to when looked up from node.
func (d *Database) Lookup(node, name string) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	full, ok := d.st.resolve(node, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s from %s", ErrUnknownEntry, name, node)
	}
	return d.st.entries[full], nil
}

// ListAccessible returns the sorted names visible from node.
func (d *Database) ListAccessible(node string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]struct{})
	for cur := node; cur != ""; cur = parentOf(cur) {
		for _, name := range d.st.namesAt(cur) {
			if cur == dbpath.RootName && d.isExcluded(name) {
				continue
			}
			seen[name] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// AccessibleValues returns the values of every name visible from node.
func (d *Database) AccessibleValues(node string) map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	values := make(map[string]any)
	for cur := node; cur != ""; cur = parentOf(cur) {
		for _, name := range d.st.namesAt(cur) {
			if _, ok := values[name]; ok {
				continue
			}
			if cur == dbpath.RootName && d.isExcluded(name) {
				continue
			}
			if full, ok := d.st.resolveAt(cur, name); ok {
				values[name] = d.st.entries[full]
			}
		}
	}
	return values
}

// ListAll returns the sorted full paths of all entries.
func (d *Database) ListAll() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	paths := make([]string, 0, len(d.st.entries))
	for full := range d.st.entries {
		node, name := parentOf(full), full[len(parentOf(full))+1:]
		if node == dbpath.RootName && d.isExcluded(name) {
			continue
		}
		paths = append(paths, full)
	}
	slices.Sort(paths)
	return paths
}

// Snapshot returns a copy of all entries keyed by full path.
func (d *Database) Snapshot() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.st.entries)
}

// AccessExceptions returns the names exposed at node, mapped to the child they come from.
func (d *Database) AccessExceptions(node string) map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.st.access[node])
}

func (d *Database) isExcluded(name string) bool {
	_, ok := d.excluded[name]
	return ok
}

// PrepareForRunning freezes the structure of the database. Values can
// still be updated.
func (d *Database) PrepareForRunning() {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
}

// FinishRunning reverses PrepareForRunning.
func (d *Database) FinishRunning() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Running reports whether the structure is frozen.
func (d *Database) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}
