// Package registry provides the central "glue" for the module system.
//
// The Registry maps the identifiers used in measure files (task kinds,
// engine names, monitor kinds, check and header ids, instrument drivers) to
// the Go code implementing them. Modules fill it at startup through their
// Register method; it is then validated against the loaded profiles and
// passed by reference to the components that need lookups.
package registry
