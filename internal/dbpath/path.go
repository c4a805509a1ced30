package dbpath

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// RootName is the name of the topmost node of every database.
const RootName = "root"

// Separator joins path segments.
const Separator = "/"

// ErrInvalidPath is returned when a path or segment is malformed.
var ErrInvalidPath = errors.New("invalid database path")

var segmentRegex = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Path is a parsed database path. The zero value is the empty path.
type Path struct {
	Segments []string
}

// Root returns the path of the root node.
func Root() Path {
	return Path{Segments: []string{RootName}}
}

// Parse validates raw and returns the corresponding Path. The first segment
// must be the root node.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return Path{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(raw, Separator)
	for _, part := range parts {
		if err := ValidateSegment(part); err != nil {
			return Path{}, fmt.Errorf("%w in %q", err, raw)
		}
	}
	if parts[0] != RootName {
		return Path{}, fmt.Errorf("%w: %q does not start at %q", ErrInvalidPath, raw, RootName)
	}
	return Path{Segments: parts}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidateSegment reports whether name can be used as a single path segment.
func ValidateSegment(name string) error {
	if !segmentRegex.MatchString(name) {
		return fmt.Errorf("%w: bad segment %q", ErrInvalidPath, name)
	}
	return nil
}

// String serializes the path into its canonical form.
func (p Path) String() string {
	return strings.Join(p.Segments, Separator)
}

// IsZero reports whether p has no segments.
func (p Path) IsZero() bool {
	return len(p.Segments) == 0
}

// IsRoot reports whether p designates the root node.
func (p Path) IsRoot() bool {
	return len(p.Segments) == 1 && p.Segments[0] == RootName
}

// Base returns the last segment.
func (p Path) Base() string {
	if p.IsZero() {
		return ""
	}
	return p.Segments[len(p.Segments)-1]
}

// Parent returns the path without its last segment. The parent of the root
// is the zero path.
func (p Path) Parent() Path {
	if len(p.Segments) <= 1 {
		return Path{}
	}
	return Path{Segments: slices.Clone(p.Segments[:len(p.Segments)-1])}
}

// Join returns a new path with name appended.
func (p Path) Join(name string) Path {
	segs := make([]string, 0, len(p.Segments)+1)
	segs = append(segs, p.Segments...)
	return Path{Segments: append(segs, name)}
}

// HasPrefix reports whether p equals prefix or lies beneath it.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.Segments) > len(p.Segments) {
		return false
	}
	return slices.Equal(p.Segments[:len(prefix.Segments)], prefix.Segments)
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(other Path) bool {
	return slices.Equal(p.Segments, other.Segments)
}

// Split parses an entry path and returns its node and entry name.
func Split(raw string) (node string, name string, err error) {
	p, err := Parse(raw)
	if err != nil {
		return "", "", err
	}
	if p.IsRoot() {
		return "", "", fmt.Errorf("%w: %q is a node, not an entry", ErrInvalidPath, raw)
	}
	return p.Parent().String(), p.Base(), nil
}

// JoinRaw appends name to the raw node path without re-validating the node.
func JoinRaw(node, name string) string {
	return node + Separator + name
}

// IsBeneath reports whether raw lies strictly beneath the node path prefix.
func IsBeneath(raw, prefix string) bool {
	return strings.HasPrefix(raw, prefix+Separator)
}
