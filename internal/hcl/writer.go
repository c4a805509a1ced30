package hcl

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/vk/measgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// Writer is the HCL implementation of config.Writer. Its output can be read
// back by Loader.
type Writer struct{}

var _ config.Writer = Writer{}

// WriteMeasures serializes measures, one block each, in the given order.
func (Writer) WriteMeasures(w io.Writer, measures ...*config.Measure) error {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for i, m := range measures {
		if m.Root == nil {
			return fmt.Errorf("measure %q has no root task", m.Name)
		}
		if i > 0 {
			body.AppendNewline()
		}
		mb := body.AppendNewBlock("measure", []string{m.Name}).Body()
		if m.Engine != "" {
			mb.SetAttributeValue("engine", cty.StringVal(m.Engine))
		}
		setStrings(mb, "checks", m.Checks)
		setStrings(mb, "headers", m.Headers)
		for _, tool := range m.Monitors {
			tb := mb.AppendNewBlock("monitor", []string{tool.Kind}).Body()
			setStrings(tb, "entries", tool.Entries)
			setAttributes(tb, tool.Attributes)
		}
		writeTask(mb, m.Root)
	}
	_, err := w.Write(hclwrite.Format(f.Bytes()))
	return err
}

// WriteProfiles serializes instrument profiles sorted by name.
func (Writer) WriteProfiles(w io.Writer, profiles map[string]*config.Profile) error {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for i, name := range slices.Sorted(maps.Keys(profiles)) {
		p := profiles[name]
		if i > 0 {
			body.AppendNewline()
		}
		pb := body.AppendNewBlock("profile", []string{p.Name}).Body()
		pb.SetAttributeValue("driver", cty.StringVal(p.Driver))
		setAttributes(pb, p.Settings)
	}
	_, err := w.Write(hclwrite.Format(f.Bytes()))
	return err
}

func writeTask(parent *hclwrite.Body, t *config.Task) {
	b := parent.AppendNewBlock("task", []string{t.Kind, t.Name}).Body()
	setStrings(b, "access_exceptions", t.AccessExceptions)
	setAttributes(b, t.Attributes)
	for _, child := range t.Children {
		writeTask(b, child)
	}
}

func setStrings(b *hclwrite.Body, name string, values []string) {
	if len(values) == 0 {
		return
	}
	vals := make([]cty.Value, len(values))
	for i, v := range values {
		vals[i] = cty.StringVal(v)
	}
	b.SetAttributeValue(name, cty.TupleVal(vals))
}

func setAttributes(b *hclwrite.Body, attrs map[string]cty.Value) {
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		b.SetAttributeValue(name, attrs[name])
	}
}
