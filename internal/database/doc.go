// Package database implements the hierarchical key/value store shared by the
// tasks of one measure.
//
// # Layout
//
// The database is a tree of nodes rooted at `root`. Entries live in nodes and
// are addressed by their full path (`root/sweep/bias_voltage`). A task reads
// entries by name from its own node: the lookup walks towards the root and
// the first node that can see the name wins.
//
// # Access exceptions
//
// A node can re-expose an entry that lives in one of its child nodes. The
// exposed name becomes visible at the parent node (and therefore to everything
// that walks up through it) without copying the value.
//
// # Transactions and notifications
//
// Structural changes are grouped into a Batch which is validated against a
// copy of the current state and swapped in atomically. Observers registered
// with Subscribe or SubscribeAll are notified synchronously once the internal
// lock has been released, so an observer may write back into the database.
package database
