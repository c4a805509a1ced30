package task

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/dbpath"
)

// KindRoot is the kind of the unique root of a measure tree.
const KindRoot = "RootTask"

// Entries declared by the root.
const (
	EntryMeasName    = "meas_name"
	EntryMeasID      = "meas_id"
	EntryDefaultPath = "default_path"
)

// StructureChangeKind identifies a structural edit.
type StructureChangeKind int

const (
	ChildAdded StructureChangeKind = iota + 1
	ChildRemoved
	ChildMoved
	AccessExceptionAdded
	AccessExceptionRemoved
	EntriesChanged
)

func (k StructureChangeKind) String() string {
	switch k {
	case ChildAdded:
		return "child_added"
	case ChildRemoved:
		return "child_removed"
	case ChildMoved:
		return "child_moved"
	case AccessExceptionAdded:
		return "access_exception_added"
	case AccessExceptionRemoved:
		return "access_exception_removed"
	case EntriesChanged:
		return "entries_changed"
	default:
		return "unknown"
	}
}

// StructureChange describes an edit of the tree. Node is the database node
// where the change happened; From is the previous node of a moved task.
type StructureChange struct {
	Kind     StructureChangeKind
	Node     string
	Task     string
	Index    int
	Entry    string
	From     string
	Revision uint64
}

type rootParams struct {
	DefaultPath string `cty:"default_path"`
}

// RootTask is the top of a measure tree. It owns the database shared by
// all tasks of the measure.
type RootTask struct {
	ComplexTask
	params rootParams
	db     *database.Database

	revision atomic.Uint64

	mu        sync.Mutex
	nextObs   uint64
	observers map[uint64]func(StructureChange)
	runtime   map[string]map[string]any
}

// NewRootTask creates a root with a fresh database holding the root entries.
func NewRootTask(opts ...database.Option) *RootTask {
	r := &RootTask{
		db:        database.New(opts...),
		observers: make(map[uint64]func(StructureChange)),
	}
	r.Init(KindRoot, dbpath.RootName, map[string]any{
		EntryMeasName:    "",
		EntryMeasID:      "",
		EntryDefaultPath: "",
	}, &r.params)
	r.unprefixed = true
	r.path = dbpath.RootName
	r.root = r

	batch := database.NewBatch()
	for _, e := range r.sortedEntries() {
		batch.Register(r.entryPath(e), r.entries[e])
	}
	if err := r.db.Commit(batch); err != nil {
		panic(fmt.Errorf("initializing root entries: %w", err))
	}
	return r
}

// NewRootFactory builds a RootTask from its configuration. Children are
// added by the Builder.
func NewRootFactory(cfg *config.Task) (Task, error) {
	r := NewRootTask()
	if err := config.DecodeAttributes(cfg.Attributes, &r.params); err != nil {
		return nil, fmt.Errorf("%s: %w", KindRoot, err)
	}
	if err := r.db.SetValue(r.entryPath(EntryDefaultPath), r.params.DefaultPath); err != nil {
		return nil, err
	}
	return r, nil
}

// Database returns the database owned by the root.
func (r *RootTask) Database() *database.Database {
	return r.db
}

// DefaultPath is the directory results are saved to.
func (r *RootTask) DefaultPath() string {
	return r.params.DefaultPath
}

// Revision increases with every structural change.
func (r *RootTask) Revision() uint64 {
	return r.revision.Load()
}

// Subscribe registers fn for structural changes. The returned function
// removes the subscription.
func (r *RootTask) Subscribe(fn func(StructureChange)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextObs++
	id := r.nextObs
	r.observers[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			r.mu.Unlock()
		})
	}
}

func (r *RootTask) emit(change StructureChange) {
	change.Revision = r.revision.Add(1)
	r.mu.Lock()
	fns := make([]func(StructureChange), 0, len(r.observers))
	for _, fn := range r.observers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

// SetRuntimeDependencies stores the dependencies resolved for the next run.
func (r *RootTask) SetRuntimeDependencies(deps map[string]map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtime = maps.Clone(deps)
}

// RuntimeDependencyValues returns the dependencies set by
// SetRuntimeDependencies, keyed by collector id.
func (r *RootTask) RuntimeDependencyValues() map[string]map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.runtime)
}

// SetMeasure records the name and identifier of the measure in the root entries.
func (r *RootTask) SetMeasure(name, id string) error {
	if err := r.db.SetValue(r.entryPath(EntryMeasName), name); err != nil {
		return err
	}
	return r.db.SetValue(r.entryPath(EntryMeasID), id)
}

// Run performs the whole tree.
func (r *RootTask) Run(ctx context.Context, rt *Runtime) error {
	return r.PerformChildren(ctx, rt)
}
