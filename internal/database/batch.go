package database

// Batch groups structural operations that are committed atomically.
// Operations are applied in the order they were added.
type Batch struct {
	ops []func(*state, *[]Change) error
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// CreateNode queues the creation of a node. Its parent must exist when the
// operation is applied.
func (b *Batch) CreateNode(node string) *Batch {
	b.ops = append(b.ops, func(s *state, c *[]Change) error { return s.createNode(node, c) })
	return b
}

// DeleteNode queues the removal of a node and everything beneath it.
func (b *Batch) DeleteNode(node string) *Batch {
	b.ops = append(b.ops, func(s *state, c *[]Change) error { return s.deleteNode(node, c) })
	return b
}

// Register queues the registration of an entry.
func (b *Batch) Register(path string, value any) *Batch {
	b.ops = append(b.ops, func(s *state, c *[]Change) error { return s.register(path, value, c) })
	return b
}

// Delete queues the removal of an entry.
func (b *Batch) Delete(path string) *Batch {
	b.ops = append(b.ops, func(s *state, c *[]Change) error { return s.remove(path, c) })
	return b
}

// AddAccessException queues the exposure of name, visible in node/child, at node.
func (b *Batch) AddAccessException(node, child, name string) *Batch {
	b.ops = append(b.ops, func(s *state, _ *[]Change) error { return s.addAccess(node, child, name) })
	return b
}

// RemoveAccessException queues the removal of an exposed name from node.
func (b *Batch) RemoveAccessException(node, name string) *Batch {
	b.ops = append(b.ops, func(s *state, _ *[]Change) error { return s.removeAccess(node, name) })
	return b
}
