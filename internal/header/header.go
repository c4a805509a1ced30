// Package header produces the informational text written at the top of a
// measure's results.
package header

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/task"
)

// Ids of the headers shipped with measgrid.
const (
	DateID    = "date"
	MeasureID = "measure"
)

// Info describes the measure a header is built for.
type Info struct {
	MeasureName string
	MeasureID   string
	Start       time.Time
	Root        *task.RootTask
}

// Header builds one block of text.
type Header interface {
	BuildHeader(ctx context.Context, info Info) (string, error)
}

// Named pairs a header with its id.
type Named struct {
	ID     string
	Header Header
}

// Date prints the start time of the measure.
type Date struct {
	// Layout defaults to time.RFC1123.
	Layout string
}

func (d Date) BuildHeader(_ context.Context, info Info) (string, error) {
	layout := d.Layout
	if layout == "" {
		layout = time.RFC1123
	}
	return "Start time: " + info.Start.Format(layout), nil
}

// Measure prints the measure identity and an outline of its task tree.
type Measure struct{}

func (Measure) BuildHeader(_ context.Context, info Info) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Measure: %s (%s)", info.MeasureName, info.MeasureID)
	if info.Root == nil {
		return b.String(), nil
	}
	for t := range task.Walk(info.Root) {
		if t.Depth() == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s- %s (%s)", strings.Repeat("  ", t.Depth()-1), t.Name(), t.Kind())
	}
	return b.String(), nil
}

// Build joins the headers in order, one block per line group. Headers that
// fail are logged and skipped.
func Build(ctx context.Context, headers []Named, info Info) string {
	blocks := make([]string, 0, len(headers))
	for _, h := range headers {
		text, err := h.Header.BuildHeader(ctx, info)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Header failed.", "header", h.ID, "error", err)
			continue
		}
		if text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n")
}
