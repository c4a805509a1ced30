// Package hcl implements the config.Loader and config.Writer interfaces for
// HCL files. A measure file holds `measure` blocks, each with a single root
// `task` block whose nested `task` blocks form the task tree, and optional
// `profile` blocks describing instruments.
package hcl
