package dependency

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrMissingDependency matches errors reporting unresolved build
// dependencies.
var ErrMissingDependency = errors.New("missing dependency")

// MissingDependencyError lists the build dependencies that could not be
// resolved, per collector and identifier.
type MissingDependencyError struct {
	Errors map[string]map[string]string
}

func (e *MissingDependencyError) Error() string {
	var parts []string
	for _, collector := range slices.Sorted(maps.Keys(e.Errors)) {
		for _, id := range slices.Sorted(maps.Keys(e.Errors[collector])) {
			parts = append(parts, fmt.Sprintf("%s/%s: %s", collector, id, e.Errors[collector][id]))
		}
	}
	return "missing build dependencies: " + strings.Join(parts, "; ")
}

func (e *MissingDependencyError) Is(target error) bool {
	return target == ErrMissingDependency
}
