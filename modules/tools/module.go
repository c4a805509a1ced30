// Package tools registers the built-in checks and headers.
package tools

import (
	"github.com/vk/measgrid/internal/check"
	"github.com/vk/measgrid/internal/header"
	"github.com/vk/measgrid/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// DateLayout formats the date header. Empty means time.RFC1123.
	DateLayout string
}

func (m *Module) Register(r *registry.Registry) {
	r.RegisterCheck(check.InternalID, check.Internal{})
	r.RegisterHeader(header.DateID, header.Date{Layout: m.DateLayout})
	r.RegisterHeader(header.MeasureID, header.Measure{})
}
