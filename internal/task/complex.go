package task

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/database"
	"github.com/vk/measgrid/internal/dbpath"
)

// KindComplex is the kind of a plain sequence of tasks.
const KindComplex = "ComplexTask"

// ComplexTask runs its children in order. It can expose entries of its
// children to its own parent through access exceptions.
type ComplexTask struct {
	Base
	children  []Task
	accessExs []string
}

// NewComplexTask returns a detached, empty ComplexTask.
func NewComplexTask(name string) *ComplexTask {
	c := &ComplexTask{}
	c.Init(KindComplex, name, nil, nil)
	return c
}

// NewComplexFactory builds plain ComplexTasks from their configuration.
func NewComplexFactory(cfg *config.Task) (Task, error) {
	if len(cfg.Attributes) > 0 {
		return nil, fmt.Errorf("%s takes no attributes", KindComplex)
	}
	if err := ValidateName(cfg.Name); err != nil {
		return nil, err
	}
	return NewComplexTask(cfg.Name), nil
}

// Complex implements Container.
func (c *ComplexTask) Complex() *ComplexTask { return c }

// Children returns a copy of the ordered children.
func (c *ComplexTask) Children() []Task {
	return slices.Clone(c.children)
}

// Child returns the child named name.
func (c *ComplexTask) Child(name string) (Task, bool) {
	for _, ch := range c.children {
		if ch.Name() == name {
			return ch, true
		}
	}
	return nil, false
}

// AccessExceptions returns the names exposed to the parent.
func (c *ComplexTask) AccessExceptions() []string {
	return slices.Clone(c.accessExs)
}

// ChildrenPath is the database node holding the entries of the children.
func (c *ComplexTask) ChildrenPath() string {
	if c.unprefixed {
		return c.path
	}
	if c.path == "" {
		return ""
	}
	return dbpath.JoinRaw(c.path, c.name)
}

// GatherChildren yields every descendant in pre-order. The sequence reads
// the tree while it is iterated, so each iteration reflects its current shape.
func (c *ComplexTask) GatherChildren() iter.Seq[Task] {
	return func(yield func(Task) bool) {
		c.gather(yield)
	}
}

func (c *ComplexTask) gather(yield func(Task) bool) bool {
	for _, ch := range c.children {
		if !yield(ch) {
			return false
		}
		if cc, ok := asComplex(ch); ok && !cc.gather(yield) {
			return false
		}
	}
	return true
}

// Check aggregates the checks of the children.
func (c *ComplexTask) Check(ctx context.Context, rt *Runtime) (bool, map[string]string) {
	passed := true
	report := make(map[string]string)
	for _, ch := range c.children {
		ok, r := ch.Check(ctx, rt)
		passed = passed && ok
		maps.Copy(report, r)
	}
	return passed, report
}

// Perform runs the children in order.
func (c *ComplexTask) Perform(ctx context.Context, rt *Runtime) error {
	return c.PerformChildren(ctx, rt)
}

// PerformChildren runs every child, honouring pause and stop requests
// before each of them.
func (c *ComplexTask) PerformChildren(ctx context.Context, rt *Runtime) error {
	for _, ch := range c.children {
		if err := rt.Checkpoint(ctx); err != nil {
			return err
		}
		if err := ch.Perform(ctx, rt); err != nil {
			var execErr *ExecutionError
			if errors.As(err, &execErr) || errors.Is(err, context.Canceled) {
				return err
			}
			return &ExecutionError{Task: ReportKey(ch, ""), Err: err}
		}
	}
	return nil
}

// Config encodes the task with its access exceptions and children.
func (c *ComplexTask) Config() (*config.Task, error) {
	cfg, err := c.Base.Config()
	if err != nil {
		return nil, err
	}
	cfg.AccessExceptions = c.AccessExceptions()
	for _, ch := range c.children {
		chCfg, err := ch.Config()
		if err != nil {
			return nil, err
		}
		cfg.Children = append(cfg.Children, chCfg)
	}
	return cfg, nil
}

// AddChild inserts child at index. The child must be detached.
func (c *ComplexTask) AddChild(index int, child Task) error {
	if child == nil {
		return fmt.Errorf("%w: nil task", ErrNotChild)
	}
	cb := child.base()
	if cb.parent != nil || cb.root != nil {
		return fmt.Errorf("%w: %q", ErrAttached, child.Name())
	}
	if index < 0 || index > len(c.children) {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidIndex, index, len(c.children))
	}
	if err := c.checkInsertable(child); err != nil {
		return err
	}

	if c.root != nil {
		batch := database.NewBatch()
		registerSubtree(batch, child, c.ChildrenPath())
		if err := c.root.db.Commit(batch); err != nil {
			return fmt.Errorf("adding %q to %q: %w", child.Name(), c.name, err)
		}
	}

	c.children = slices.Insert(c.children, index, child)
	attach(child, c)
	if c.root != nil {
		c.root.emit(StructureChange{Kind: ChildAdded, Node: c.ChildrenPath(), Task: child.Name(), Index: index})
	}
	return nil
}

// AppendChild adds child after the existing children.
func (c *ComplexTask) AppendChild(child Task) error {
	return c.AddChild(len(c.children), child)
}

// RemoveChild detaches child and retracts its entries. Access exceptions
// of ancestors that exposed one of those entries are removed as well.
func (c *ComplexTask) RemoveChild(child Task) error {
	index := c.indexOf(child)
	if index < 0 {
		return fmt.Errorf("%w: %q of %q", ErrNotChild, nameOf(child), c.name)
	}
	return c.RemoveChildAt(index)
}

// RemoveChildAt detaches the child at index.
func (c *ComplexTask) RemoveChildAt(index int) error {
	if index < 0 || index >= len(c.children) {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	child := c.children[index]

	var dropped []exposure
	if c.root != nil {
		batch := database.NewBatch()
		unregisterSubtree(batch, child, c.ChildrenPath())
		dropped = cascadeExposures(batch, c, contributedNames(child))
		if err := c.root.db.Commit(batch); err != nil {
			return fmt.Errorf("removing %q from %q: %w", child.Name(), c.name, err)
		}
	}

	applyDropped(dropped)
	c.children = slices.Delete(c.children, index, index+1)
	detach(child)
	if c.root != nil {
		c.root.emit(StructureChange{Kind: ChildRemoved, Node: c.ChildrenPath(), Task: child.Name(), Index: index})
	}
	return nil
}

// MoveChild changes the position of a child among its siblings.
func (c *ComplexTask) MoveChild(from, to int) error {
	if from < 0 || from >= len(c.children) || to < 0 || to >= len(c.children) {
		return fmt.Errorf("%w: move %d to %d", ErrInvalidIndex, from, to)
	}
	if from == to {
		return nil
	}
	child := c.children[from]
	c.children = slices.Delete(c.children, from, from+1)
	c.children = slices.Insert(c.children, to, child)
	if c.root != nil {
		c.root.emit(StructureChange{Kind: ChildMoved, Node: c.ChildrenPath(), Task: child.Name(), Index: to, From: c.ChildrenPath()})
	}
	return nil
}

// Reparent moves child under a new parent at index in a single transaction.
func Reparent(child Task, to *ComplexTask, index int) error {
	from := child.Parent()
	if from == nil {
		return fmt.Errorf("%w: %q has no parent", ErrNotChild, child.Name())
	}
	if from == to {
		return from.MoveChild(from.indexOf(child), index)
	}
	if index < 0 || index > len(to.children) {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidIndex, index, len(to.children))
	}
	if from.root != to.root {
		return fmt.Errorf("cannot move %q between different trees", child.Name())
	}
	if err := to.checkInsertable(child); err != nil {
		return err
	}

	var dropped []exposure
	if from.root != nil {
		batch := database.NewBatch()
		unregisterSubtree(batch, child, from.ChildrenPath())
		dropped = cascadeExposures(batch, from, contributedNames(child))
		registerSubtree(batch, child, to.ChildrenPath())
		if err := from.root.db.Commit(batch); err != nil {
			return fmt.Errorf("moving %q to %q: %w", child.Name(), to.name, err)
		}
	}

	applyDropped(dropped)
	oldNode := from.ChildrenPath()
	from.children = slices.Delete(from.children, from.indexOf(child), from.indexOf(child)+1)
	to.children = slices.Insert(to.children, index, child)
	attach(child, to)
	if to.root != nil {
		to.root.emit(StructureChange{Kind: ChildMoved, Node: to.ChildrenPath(), Task: child.Name(), Index: index, From: oldNode})
	}
	return nil
}

// AddAccessException exposes name, visible in the children's node, to the
// parent of c.
func (c *ComplexTask) AddAccessException(name string) error {
	if c.unprefixed {
		return ErrRootAccessException
	}
	if slices.Contains(c.accessExs, name) {
		return fmt.Errorf("%w: %q already exposed by %q", database.ErrDuplicateEntry, name, c.name)
	}
	if c.root != nil {
		if err := c.root.db.AddAccessException(c.path, c.name, name); err != nil {
			return fmt.Errorf("exposing %q from %q: %w", name, c.name, err)
		}
	}
	c.accessExs = append(c.accessExs, name)
	if c.root != nil {
		c.root.emit(StructureChange{Kind: AccessExceptionAdded, Node: c.path, Task: c.name, Entry: name})
	}
	return nil
}

// RemoveAccessException stops exposing name. Ancestors that re-exposed
// the same name stop exposing it too.
func (c *ComplexTask) RemoveAccessException(name string) error {
	idx := slices.Index(c.accessExs, name)
	if idx < 0 {
		return fmt.Errorf("%w: %q is not exposed by %q", database.ErrUnknownEntry, name, c.name)
	}
	var dropped []exposure
	if c.root != nil {
		batch := database.NewBatch().RemoveAccessException(c.path, name)
		dropped = cascadeExposures(batch, c.parent, []string{name})
		if err := c.root.db.Commit(batch); err != nil {
			return fmt.Errorf("removing exposure of %q from %q: %w", name, c.name, err)
		}
	}
	c.accessExs = slices.Delete(c.accessExs, idx, idx+1)
	applyDropped(dropped)
	if c.root != nil {
		c.root.emit(StructureChange{Kind: AccessExceptionRemoved, Node: c.path, Task: c.name, Entry: name})
	}
	return nil
}

func (c *ComplexTask) indexOf(child Task) int {
	return slices.IndexFunc(c.children, func(t Task) bool { return t == child })
}

// checkInsertable verifies name uniqueness and the absence of cycles.
func (c *ComplexTask) checkInsertable(child Task) error {
	if _, exists := c.Child(child.Name()); exists {
		return fmt.Errorf("%w: %q already has a child named %q", ErrNameCollision, c.name, child.Name())
	}
	if cc, ok := asComplex(child); ok {
		for anc := c; anc != nil; anc = anc.parent {
			if anc == cc {
				return fmt.Errorf("%w: %q", ErrCycle, child.Name())
			}
		}
	}
	return nil
}

func nameOf(t Task) string {
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}

// attach positions child below parent and updates the whole subtree.
func attach(child Task, parent *ComplexTask) {
	b := child.base()
	b.parent = parent
	b.root = parent.root
	b.depth = parent.depth + 1
	b.path = parent.ChildrenPath()
	if cc, ok := asComplex(child); ok {
		for _, gc := range cc.children {
			attach(gc, cc)
		}
	}
}

// detach turns child into the root of a standalone subtree.
func detach(child Task) {
	b := child.base()
	b.parent = nil
	b.root = nil
	b.depth = 0
	b.path = ""
	if cc, ok := asComplex(child); ok {
		for _, gc := range cc.children {
			attach(gc, cc)
		}
	}
}

// registerSubtree queues the entries, nodes and access exceptions of t as
// if it were placed in node. Exceptions are added after the children so
// that nested exposures resolve.
func registerSubtree(batch *database.Batch, t Task, node string) {
	b := t.base()
	for _, e := range b.sortedEntries() {
		batch.Register(dbpath.JoinRaw(node, b.entryName(e)), b.entries[e])
	}
	cc, ok := asComplex(t)
	if !ok {
		return
	}
	childNode := dbpath.JoinRaw(node, t.Name())
	batch.CreateNode(childNode)
	for _, ch := range cc.children {
		registerSubtree(batch, ch, childNode)
	}
	for _, name := range cc.accessExs {
		batch.AddAccessException(node, t.Name(), name)
	}
}

// unregisterSubtree queues the removal of everything registerSubtree added.
func unregisterSubtree(batch *database.Batch, t Task, node string) {
	b := t.base()
	for _, e := range b.sortedEntries() {
		batch.Delete(dbpath.JoinRaw(node, b.entryName(e)))
	}
	cc, ok := asComplex(t)
	if !ok {
		return
	}
	for _, name := range cc.accessExs {
		batch.RemoveAccessException(node, name)
	}
	batch.DeleteNode(dbpath.JoinRaw(node, t.Name()))
}

// contributedNames lists the names t makes visible in its parent's children node.
func contributedNames(t Task) []string {
	b := t.base()
	names := make([]string, 0, len(b.entries))
	for _, e := range b.sortedEntries() {
		names = append(names, b.entryName(e))
	}
	if cc, ok := asComplex(t); ok {
		names = append(names, cc.accessExs...)
	}
	return names
}

type exposure struct {
	task *ComplexTask
	name string
}

// cascadeExposures queues the removal of the access exceptions that exposed
// one of names, starting at c (whose children node lost them) and going up.
func cascadeExposures(batch *database.Batch, c *ComplexTask, names []string) []exposure {
	var dropped []exposure
	for cur := c; cur != nil && !cur.unprefixed && len(names) > 0; cur = cur.parent {
		var next []string
		for _, n := range names {
			if slices.Contains(cur.accessExs, n) {
				batch.RemoveAccessException(cur.path, n)
				dropped = append(dropped, exposure{task: cur, name: n})
				next = append(next, n)
			}
		}
		names = next
	}
	return dropped
}

func applyDropped(dropped []exposure) {
	for _, d := range dropped {
		if i := slices.Index(d.task.accessExs, d.name); i >= 0 {
			d.task.accessExs = slices.Delete(d.task.accessExs, i, i+1)
		}
		if d.task.root != nil {
			d.task.root.emit(StructureChange{Kind: AccessExceptionRemoved, Node: d.task.path, Task: d.task.name, Entry: d.name})
		}
	}
}
