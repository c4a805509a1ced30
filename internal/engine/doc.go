// Package engine executes measures.
//
// An Engine runs one task tree at a time and reports news, status changes
// and the final result to its Listener. The Controller drives an engine
// through the measure lifecycle: dependency collection, checks, run,
// pause, resume and stop.
package engine
