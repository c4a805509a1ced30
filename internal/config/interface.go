package config

import (
	"context"
	"io"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every configuration file found under paths and merges
	// them into a single model.
	Load(ctx context.Context, paths ...string) (*Model, error)
}

// Writer serializes measures back into a configuration format.
type Writer interface {
	WriteMeasures(w io.Writer, measures ...*Measure) error
}
