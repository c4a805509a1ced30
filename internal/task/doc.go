// Package task implements the measure tree: a RootTask owning the database,
// ComplexTasks owning ordered children, and leaf tasks doing the actual work.
//
// # Entries
//
// Every task declares database entries with default values. A task named
// `bias` declaring `voltage` owns the entry `<node>/bias_voltage`, where
// node is the database node of its parent. The root declares unprefixed
// entries in the `root` node.
//
// # Structural edits
//
// AddChild, RemoveChild, MoveChild, Reparent and the access exception
// operations compute every database change they imply, commit them as one
// batch, and only then touch the tree. A failing edit leaves both the tree
// and the database unchanged. Successful edits are announced to the
// RootTask's subscribers.
//
// Tree edits are not synchronized: they are expected to come from a single
// editor goroutine and must not overlap with a run or a dependency
// collection.
//
// # Execution
//
// Perform receives a Runtime carrying the database, the resolved runtime
// dependencies and a Control used to pause the run between steps. Stopping
// is signalled through the context.
package task
