// Package dependency gathers the objects a task tree needs before it can be
// rebuilt (build dependencies, such as task kinds) or run (runtime
// dependencies, such as instrument drivers and profiles).
//
// Tasks declare identifiers per collector id. The Resolver walks the tree,
// de-duplicates the identifiers and calls every collector once. Failures are
// recorded per collector and identifier; only missing build dependencies
// make the collection fail.
//
// Collection reads the tree without locking it. The tree must not be edited
// while a collection is in progress; results are undefined if it is.
package dependency
