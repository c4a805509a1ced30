package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/vk/measgrid/internal/app"
	"github.com/vk/measgrid/internal/engine"
	"github.com/vk/measgrid/internal/monitor"
)

const usage = `
measgrid runs hierarchical measurement sequences against lab instruments.

Usage:
  measgrid [options] [MEASURE_PATH]

MEASURE_PATH is a .hcl file or a directory scanned for .hcl files. It may also
be given with -measure or -m.

Options:
`

// ExitError asks the caller to terminate the process with Code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// Parse turns the command line into an app.Config. The boolean result is true
// when nothing is left to do, after -h or when no measure path was given.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	fs := flag.NewFlagSet("measgrid", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usage)
		fs.PrintDefaults()
	}

	var (
		measure, m string
		cfg        app.Config
	)
	fs.StringVar(&measure, "measure", "", "Path to the measure file or directory.")
	fs.StringVar(&m, "m", "", "Shorthand for -measure.")
	fs.StringVar(&cfg.ProfilesPath, "profiles", "", "Directory of YAML instrument profiles.")
	fs.StringVar(&cfg.Engine, "engine", engine.ProcessKind, "Engine running the measures.")
	fs.IntVar(&cfg.HealthcheckPort, "healthcheck-port", 0, "Port of the health and status HTTP server, 0 disables it.")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json.")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn or error.")
	fs.IntVar(&cfg.MonitorQueue, "monitor-queue", monitor.DefaultQueueSize, "Events buffered per monitor before dropping.")
	fs.DurationVar(&cfg.ForceStopTimeout, "force-stop-timeout", engine.DefaultForceStopTimeout, "How long a stop may take before the measure is abandoned.")
	fs.BoolVar(&cfg.RequireRuntime, "require-runtime", false, "Fail measures whose instruments or profiles are missing.")
	fs.BoolVar(&cfg.CheckOnly, "check-only", false, "Run the checks of every measure without running it.")
	fs.BoolVar(&cfg.Dump, "dump", false, "Print the loaded measures as HCL and exit.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, usageError("%s", err)
	}

	cfg.MeasurePath = firstNonEmpty(measure, m, fs.Arg(0))
	if cfg.MeasurePath == "" {
		slog.Debug("No measure path given, printing usage.")
		fs.Usage()
		return nil, true, nil
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if !slices.Contains([]string{"text", "json"}, cfg.LogFormat) {
		return nil, false, usageError("invalid log-format %q: must be text or json", cfg.LogFormat)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return nil, false, usageError("invalid log-level %q: must be debug, info, warn or error", cfg.LogLevel)
	}

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError("%s", err)
	}
	slog.Debug("Command line parsed.", "config", config)
	return config, false, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
