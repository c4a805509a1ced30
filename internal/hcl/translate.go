package hcl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/measgrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// translateMeasure converts a decoded measure block into the agnostic model.
func (l *Loader) translateMeasure(b *measureBlock) (*config.Measure, error) {
	if b.Root == nil {
		return nil, fmt.Errorf("measure %q has no root task block", b.Name)
	}
	root, err := l.translateTask(b.Root)
	if err != nil {
		return nil, fmt.Errorf("measure %q: %w", b.Name, err)
	}
	m := &config.Measure{
		Name:    b.Name,
		Engine:  b.Engine,
		Root:    root,
		Checks:  b.Checks,
		Headers: b.Headers,
	}
	for _, mb := range b.Monitors {
		attrs, diags := l.extractAttributes(mb.Remain)
		if diags.HasErrors() {
			return nil, fmt.Errorf("measure %q, monitor %q: %w", b.Name, mb.Kind, diags)
		}
		m.Monitors = append(m.Monitors, &config.Tool{
			Kind:       mb.Kind,
			Entries:    mb.Entries,
			Attributes: attrs,
		})
	}
	return m, nil
}

func (l *Loader) translateTask(b *taskBlock) (*config.Task, error) {
	attrs, diags := l.extractAttributes(b.Remain)
	if diags.HasErrors() {
		return nil, fmt.Errorf("task %q: %w", b.Name, diags)
	}
	t := &config.Task{
		Kind:             b.Kind,
		Name:             b.Name,
		Attributes:       attrs,
		AccessExceptions: b.AccessExceptions,
	}
	for _, child := range b.Children {
		c, err := l.translateTask(child)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, c)
	}
	return t, nil
}

func (l *Loader) translateProfile(b *profileBlock, source string) (*config.Profile, error) {
	settings, diags := l.extractAttributes(b.Remain)
	if diags.HasErrors() {
		return nil, fmt.Errorf("profile %q: %w", b.Name, diags)
	}
	return &config.Profile{
		Name:     b.Name,
		Driver:   b.Driver,
		Settings: settings,
		Source:   source,
	}, nil
}

// extractAttributes evaluates every attribute left in body. Blocks already
// decoded into the block structs are skipped, any other block is rejected.
func (l *Loader) extractAttributes(body hcl.Body) (map[string]cty.Value, hcl.Diagnostics) {
	if body == nil {
		return nil, nil
	}
	attrs, diags := remainingAttributes(body)
	if diags.HasErrors() {
		return nil, diags
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, valDiags := attr.Expr.Value(l.evalCtx)
		diags = append(diags, valDiags...)
		if valDiags.HasErrors() {
			continue
		}
		out[name] = val
	}
	return out, diags
}

// remainingAttributes lists the attributes of a remain body. JustAttributes
// on a native syntax body fails as soon as the body holds any block, hidden
// or not, so the attributes are taken through Content with a schema naming
// each of them.
func remainingAttributes(body hcl.Body) (hcl.Attributes, hcl.Diagnostics) {
	syntaxBody, ok := body.(*hclsyntax.Body)
	if !ok {
		return body.JustAttributes()
	}
	schema := &hcl.BodySchema{}
	for name := range syntaxBody.Attributes {
		schema.Attributes = append(schema.Attributes, hcl.AttributeSchema{Name: name})
	}
	content, diags := body.Content(schema)
	if content == nil {
		return nil, diags
	}
	return content.Attributes, diags
}
