// Package cli maps the measgrid command line onto app.Config and reports
// usage problems as ExitError values carrying the process exit code.
package cli
