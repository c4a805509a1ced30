// Package textmonitor registers the text monitor. By default it writes to
// the output given to the module; a `path` attribute redirects it to a file.
package textmonitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/monitor"
	"github.com/vk/measgrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	Out io.Writer
}

// Input defines the attributes of a text monitor block.
type Input struct {
	Path string `cty:"path"`
}

// fileText closes its file once the final table is written.
type fileText struct {
	*monitor.Text
	file *os.File
}

func (f *fileText) Stop() error {
	return errors.Join(f.Text.Stop(), f.file.Close())
}

// New is the monitor.Factory of the text monitor.
func (m *Module) New(ctx context.Context, attrs map[string]cty.Value) (monitor.Monitor, error) {
	var in Input
	if err := config.DecodeAttributes(attrs, &in); err != nil {
		return nil, fmt.Errorf("text monitor: %w", err)
	}
	if in.Path == "" {
		out := m.Out
		if out == nil {
			out = os.Stdout
		}
		return monitor.NewText(out), nil
	}
	f, err := os.Create(in.Path)
	if err != nil {
		return nil, fmt.Errorf("text monitor: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("Text monitor writing to file.", "path", in.Path)
	return &fileText{Text: monitor.NewText(f), file: f}, nil
}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterMonitor(monitor.TextKind, m.New)
}
