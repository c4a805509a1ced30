package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	MeasurePath  string // hcl files with measures and profiles
	ProfilesPath string // yaml instrument profiles, optional
	Engine       string

	LogFormat        string
	LogLevel         string
	HealthcheckPort  int
	MonitorQueue     int
	ForceStopTimeout time.Duration

	// RequireRuntime fails a measure whose runtime dependencies are missing.
	RequireRuntime bool
	// CheckOnly prepares every measure without running it.
	CheckOnly bool
	// Dump writes the loaded measures back as HCL instead of running them.
	Dump bool
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.MeasurePath == "" {
		return nil, errors.New("MeasurePath is a required configuration field and cannot be empty")
	}
	if cfg.MonitorQueue < 0 {
		return nil, errors.New("MonitorQueue cannot be negative")
	}
	if cfg.ForceStopTimeout < 0 {
		return nil, errors.New("ForceStopTimeout cannot be negative")
	}
	if cfg.CheckOnly && cfg.Dump {
		return nil, errors.New("CheckOnly and Dump cannot be combined")
	}
	return &cfg, nil
}
