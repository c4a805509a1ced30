// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the lifecycle of a measurement session:
// loading measures and profiles, building them, and running them one after
// the other through the execution controller, decoupled from any specific
// entrypoint like a CLI.
package app
