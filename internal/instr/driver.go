package instr

import (
	"context"
	"fmt"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/task"
)

// Collector ids of the instrument runtime dependencies.
const (
	DriversCollector  = "drivers"
	ProfilesCollector = "profiles"
)

// Output functions reported by sources.
const (
	FunctionVoltage = "VOLT"
	FunctionCurrent = "CURR"
)

// Driver is a connection to one instrument.
type Driver interface {
	Open(ctx context.Context) error
	Close() error
}

// Source is a DC source whose output function can be queried.
type Source interface {
	Driver
	Function() string
}

// VoltageSource outputs a DC voltage.
type VoltageSource interface {
	Source
	Voltage(ctx context.Context) (float64, error)
	SetVoltage(ctx context.Context, v float64) error
}

// CurrentSource outputs a DC current.
type CurrentSource interface {
	Source
	Current(ctx context.Context) (float64, error)
	SetCurrent(ctx context.Context, v float64) error
}

// Factory creates an unopened driver for a profile.
type Factory func(profile *config.Profile) (Driver, error)

// Acquire returns the driver connected through profileID for the current
// run, opening it on first use. The connection is closed by the run's
// cleanup.
func Acquire(ctx context.Context, rt *task.Runtime, driverID, profileID string) (Driver, error) {
	v, err := rt.Resource("instr:"+profileID, func() (any, error) {
		factory, profile, err := resolve(rt, driverID, profileID)
		if err != nil {
			return nil, err
		}
		drv, err := factory(profile)
		if err != nil {
			return nil, fmt.Errorf("creating driver %q for profile %q: %w", driverID, profileID, err)
		}
		if err := drv.Open(ctx); err != nil {
			return nil, fmt.Errorf("opening profile %q: %w", profileID, err)
		}
		rt.OnCleanup(func(context.Context) error { return drv.Close() })
		return drv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Driver), nil
}

func resolve(rt *task.Runtime, driverID, profileID string) (Factory, *config.Profile, error) {
	rawFactory, ok := rt.Dependency(DriversCollector, driverID)
	if !ok {
		return nil, nil, fmt.Errorf("driver %q was not collected", driverID)
	}
	var factory Factory
	switch f := rawFactory.(type) {
	case Factory:
		factory = f
	case func(*config.Profile) (Driver, error):
		factory = f
	default:
		return nil, nil, fmt.Errorf("driver %q resolved to %T", driverID, rawFactory)
	}
	rawProfile, ok := rt.Dependency(ProfilesCollector, profileID)
	if !ok {
		return nil, nil, fmt.Errorf("profile %q was not collected", profileID)
	}
	profile, ok := rawProfile.(*config.Profile)
	if !ok {
		return nil, nil, fmt.Errorf("profile %q resolved to %T", profileID, rawProfile)
	}
	if profile.Driver != "" && profile.Driver != driverID {
		return nil, nil, fmt.Errorf("profile %q is meant for driver %q, not %q", profileID, profile.Driver, driverID)
	}
	return factory, profile, nil
}
