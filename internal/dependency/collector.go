package dependency

import (
	"context"
	"fmt"
)

// Kind selects the dependencies to collect.
type Kind int

const (
	Build Kind = iota + 1
	Runtime
	Both
)

func (k Kind) String() string {
	switch k {
	case Build:
		return "build"
	case Runtime:
		return "runtime"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Includes reports whether collecting k also collects other.
func (k Kind) Includes(other Kind) bool {
	return k == other || k == Both
}

// Collector resolves identifiers into the objects they designate.
type Collector interface {
	ID() string
	Kind() Kind
	// Collect resolves ids. Identifiers it cannot resolve are returned in
	// errs with a human readable reason.
	Collect(ctx context.Context, ids []string) (resolved map[string]any, errs map[string]string)
}

// Source looks collectors up by id.
type Source interface {
	Collector(id string) (Collector, bool)
}

// SourceFunc adapts a function into a Source.
type SourceFunc func(id string) (Collector, bool)

func (f SourceFunc) Collector(id string) (Collector, bool) { return f(id) }

// Collectors is a Source backed by a fixed set of collectors.
func Collectors(cs ...Collector) Source {
	byID := make(map[string]Collector, len(cs))
	for _, c := range cs {
		byID[c.ID()] = c
	}
	return SourceFunc(func(id string) (Collector, bool) {
		c, ok := byID[id]
		return c, ok
	})
}

type lookupCollector struct {
	id     string
	kind   Kind
	lookup func(id string) (any, bool)
}

// NewLookupCollector returns a collector resolving each identifier through
// lookup. Identifiers lookup does not know are reported as missing.
func NewLookupCollector(id string, kind Kind, lookup func(id string) (any, bool)) Collector {
	return &lookupCollector{id: id, kind: kind, lookup: lookup}
}

func (c *lookupCollector) ID() string { return c.id }
func (c *lookupCollector) Kind() Kind { return c.kind }

func (c *lookupCollector) Collect(_ context.Context, ids []string) (map[string]any, map[string]string) {
	resolved := make(map[string]any, len(ids))
	var errs map[string]string
	for _, id := range ids {
		v, ok := c.lookup(id)
		if !ok {
			if errs == nil {
				errs = make(map[string]string)
			}
			errs[id] = fmt.Sprintf("%q is not registered in %s", id, c.id)
			continue
		}
		resolved[id] = v
	}
	return resolved, errs
}
