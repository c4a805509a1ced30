// Package instr holds the runtime side of instrument control: driver
// interfaces, instrument profiles, a simulated source and the task kinds
// that drive DC sources.
//
// Drivers and profiles are runtime dependencies. A task declares the driver
// and profile it needs; the `drivers` and `profiles` collectors resolve them
// before the run and Acquire opens one connection per profile for the
// whole run.
package instr
