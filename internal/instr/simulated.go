package instr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/measgrid/internal/config"
)

// SimulatedDriver is the driver id of SimulatedSource.
const SimulatedDriver = "SimulatedSource"

// ErrNotConnected is returned by a simulated source used before Open.
var ErrNotConnected = errors.New("instrument not connected")

type simulatedSettings struct {
	Function string  `cty:"function"`
	Initial  float64 `cty:"initial"`
	FailOpen bool    `cty:"fail_open"`
	Address  string  `cty:"address"`
}

// SimulatedSource is an in-memory DC source. It implements both
// VoltageSource and CurrentSource; only the configured function can be set.
type SimulatedSource struct {
	mu       sync.Mutex
	settings simulatedSettings
	output   float64
	open     bool
	closed   int
	history  []float64
}

// NewSimulatedSource returns a closed source configured from profile.
func NewSimulatedSource(profile *config.Profile) (*SimulatedSource, error) {
	s := simulatedSettings{Function: FunctionVoltage}
	if profile != nil {
		if err := config.DecodeAttributes(profile.Settings, &s); err != nil {
			return nil, fmt.Errorf("profile %q: %w", profile.Name, err)
		}
	}
	return &SimulatedSource{settings: s, output: s.Initial}, nil
}

// SimulatedFactory is the Factory registered for SimulatedDriver.
func SimulatedFactory(profile *config.Profile) (Driver, error) {
	return NewSimulatedSource(profile)
}

func (s *SimulatedSource) Open(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.FailOpen {
		return fmt.Errorf("%w: %s does not answer", ErrNotConnected, s.settings.Address)
	}
	s.open = true
	return nil
}

func (s *SimulatedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closed++
	return nil
}

func (s *SimulatedSource) Function() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Function
}

func (s *SimulatedSource) Voltage(ctx context.Context) (float64, error) {
	return s.read(FunctionVoltage)
}

func (s *SimulatedSource) SetVoltage(ctx context.Context, v float64) error {
	return s.write(FunctionVoltage, v)
}

func (s *SimulatedSource) Current(ctx context.Context) (float64, error) {
	return s.read(FunctionCurrent)
}

func (s *SimulatedSource) SetCurrent(ctx context.Context, v float64) error {
	return s.write(FunctionCurrent, v)
}

// History returns every value written to the output.
func (s *SimulatedSource) History() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Closed returns how many times Close was called.
func (s *SimulatedSource) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SimulatedSource) read(function string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, ErrNotConnected
	}
	if s.settings.Function != function {
		return 0, fmt.Errorf("source outputs %s, not %s", s.settings.Function, function)
	}
	return s.output, nil
}

func (s *SimulatedSource) write(function string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotConnected
	}
	if s.settings.Function != function {
		return fmt.Errorf("source outputs %s, not %s", s.settings.Function, function)
	}
	s.output = v
	s.history = append(s.history, v)
	return nil
}
