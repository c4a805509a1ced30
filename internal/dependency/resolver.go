package dependency

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/vk/measgrid/internal/config"
	"github.com/vk/measgrid/internal/ctxlog"
	"github.com/vk/measgrid/internal/task"
)

// Result holds the outcome of a collection.
type Result struct {
	// Build and Runtime map a collector id to the resolved objects by
	// identifier.
	Build   map[string]map[string]any
	Runtime map[string]map[string]any
	// Errors maps a collector id to the reason each identifier failed.
	Errors map[string]map[string]string
}

func newResult() *Result {
	return &Result{
		Build:   make(map[string]map[string]any),
		Runtime: make(map[string]map[string]any),
		Errors:  make(map[string]map[string]string),
	}
}

// HasErrors reports whether any identifier failed.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

func (r *Result) addError(collector, id, reason string) {
	if r.Errors[collector] == nil {
		r.Errors[collector] = make(map[string]string)
	}
	r.Errors[collector][id] = reason
}

func (r *Result) clone() *Result {
	out := newResult()
	for k, v := range r.Build {
		out.Build[k] = maps.Clone(v)
	}
	for k, v := range r.Runtime {
		out.Runtime[k] = maps.Clone(v)
	}
	for k, v := range r.Errors {
		out.Errors[k] = maps.Clone(v)
	}
	return out
}

type cacheKey struct {
	root *task.RootTask
	kind Kind
}

type cacheEntry struct {
	revision uint64
	result   *Result
	err      error
}

// Resolver collects dependencies from the collectors of a Source. Results
// for a RootTask are cached until its structure changes or Forget is called.
//
// The tree must not be edited while a collection runs.
type Resolver struct {
	source Source

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// NewResolver returns a Resolver looking collectors up in source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source, cache: make(map[cacheKey]cacheEntry)}
}

// Collect gathers the dependencies of kind declared by root and its
// descendants. The result is always returned; the error is a
// *MissingDependencyError when a build dependency could not be resolved.
func (r *Resolver) Collect(ctx context.Context, root task.Task, kind Kind) (*Result, error) {
	rootTask, cacheable := root.(*task.RootTask)
	if cacheable {
		if res, err, ok := r.cached(rootTask, kind); ok {
			return res, err
		}
	}

	wanted := make(map[Kind]map[string]map[string]struct{})
	for t := range task.Walk(root) {
		if kind.Includes(Build) {
			gather(wanted, Build, t.BuildDependencies())
		}
		if kind.Includes(Runtime) {
			gather(wanted, Runtime, t.RuntimeDependencies())
		}
	}

	res := newResult()
	buildErrs := make(map[string]map[string]string)
	for _, k := range []Kind{Build, Runtime} {
		target := res.Build
		if k == Runtime {
			target = res.Runtime
		}
		for _, collectorID := range slices.Sorted(maps.Keys(wanted[k])) {
			ids := slices.Sorted(maps.Keys(wanted[k][collectorID]))
			resolved, errs := r.collectOne(ctx, k, collectorID, ids)
			if len(resolved) > 0 {
				target[collectorID] = resolved
			}
			for id, reason := range errs {
				res.addError(collectorID, id, reason)
				if k == Build {
					if buildErrs[collectorID] == nil {
						buildErrs[collectorID] = make(map[string]string)
					}
					buildErrs[collectorID][id] = reason
				}
			}
		}
	}

	var err error
	if len(buildErrs) > 0 {
		err = &MissingDependencyError{Errors: buildErrs}
	}
	if cacheable {
		r.store(rootTask, kind, res, err)
	}
	return res.clone(), err
}

// CollectBuildFromConfig resolves the task kinds used by a serialized tree
// through the collector collectorID, without building the tree.
func (r *Resolver) CollectBuildFromConfig(ctx context.Context, cfg *config.Task, collectorID string) (*Result, error) {
	kinds := make(map[string]struct{})
	_ = cfg.Walk(func(t *config.Task) error {
		kinds[t.Kind] = struct{}{}
		return nil
	})

	res := newResult()
	resolved, errs := r.collectOne(ctx, Build, collectorID, slices.Sorted(maps.Keys(kinds)))
	if len(resolved) > 0 {
		res.Build[collectorID] = resolved
	}
	for id, reason := range errs {
		res.addError(collectorID, id, reason)
	}
	if res.HasErrors() {
		return res, &MissingDependencyError{Errors: res.clone().Errors}
	}
	return res, nil
}

// Invalidate drops every cached result.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

// Watch drops the cached results of root whenever its structure changes.
// The returned function stops watching.
func (r *Resolver) Watch(root *task.RootTask) func() {
	return root.Subscribe(func(task.StructureChange) {
		r.mu.Lock()
		defer r.mu.Unlock()
		for key := range r.cache {
			if key.root == root {
				delete(r.cache, key)
			}
		}
	})
}

func (r *Resolver) cached(root *task.RootTask, kind Kind) (*Result, error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[cacheKey{root: root, kind: kind}]
	if !ok || entry.revision != root.Revision() {
		return nil, nil, false
	}
	return entry.result.clone(), entry.err, true
}

// Forget drops the cached results of root. Owners call it once the measure
// holding root is finished.
func (r *Resolver) Forget(root task.Task) {
	rootTask, ok := root.(*task.RootTask)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.root == rootTask {
			delete(r.cache, key)
		}
	}
}

func (r *Resolver) store(root *task.RootTask, kind Kind, res *Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[cacheKey{root: root, kind: kind}] = cacheEntry{
		revision: root.Revision(),
		result:   res.clone(),
		err:      err,
	}
}

func (r *Resolver) collectOne(ctx context.Context, kind Kind, collectorID string, ids []string) (resolved map[string]any, errs map[string]string) {
	logger := ctxlog.FromContext(ctx).With("collector", collectorID, "kind", kind.String())

	fail := func(reason string) map[string]string {
		out := make(map[string]string, len(ids))
		for _, id := range ids {
			out[id] = reason
		}
		return out
	}

	c, ok := r.source.Collector(collectorID)
	if !ok {
		logger.Warn("No collector registered.", "ids", ids)
		return nil, fail(fmt.Sprintf("no collector registered under %q", collectorID))
	}
	if !c.Kind().Includes(kind) {
		logger.Warn("Collector does not provide this kind of dependency.", "collector_kind", c.Kind().String())
		return nil, fail(fmt.Sprintf("collector %q only provides %s dependencies", collectorID, c.Kind()))
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Collector panicked.", "panic", p)
			resolved = nil
			errs = fail(fmt.Sprintf("collector %q panicked: %v", collectorID, p))
		}
	}()

	resolved, errs = c.Collect(ctx, ids)
	for _, id := range ids {
		if _, ok := resolved[id]; ok {
			continue
		}
		if _, ok := errs[id]; ok {
			continue
		}
		if errs == nil {
			errs = make(map[string]string)
		}
		errs[id] = fmt.Sprintf("collector %q did not resolve %q", collectorID, id)
	}
	logger.Debug("Collected dependencies.", "resolved", len(resolved), "failed", len(errs))
	return resolved, errs
}

func gather(wanted map[Kind]map[string]map[string]struct{}, kind Kind, declared map[string][]string) {
	if len(declared) == 0 {
		return
	}
	if wanted[kind] == nil {
		wanted[kind] = make(map[string]map[string]struct{})
	}
	for collector, ids := range declared {
		if wanted[kind][collector] == nil {
			wanted[kind][collector] = make(map[string]struct{})
		}
		for _, id := range ids {
			wanted[kind][collector][id] = struct{}{}
		}
	}
}
