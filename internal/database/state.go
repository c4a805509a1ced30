package database

import (
	"fmt"
	"maps"
	"strings"

	"github.com/vk/measgrid/internal/dbpath"
)

// state is the structural content of a database. It is copied for every
// batch so that a failing batch leaves the live state untouched.
type state struct {
	nodes   map[string]struct{}
	entries map[string]any
	// access maps a node to the names it exposes and the child node each
	// name is taken from.
	access map[string]map[string]string
}

func newState() *state {
	return &state{
		nodes:   map[string]struct{}{dbpath.RootName: {}},
		entries: make(map[string]any),
		access:  make(map[string]map[string]string),
	}
}

func (s *state) clone() *state {
	access := make(map[string]map[string]string, len(s.access))
	for node, names := range s.access {
		access[node] = maps.Clone(names)
	}
	return &state{
		nodes:   maps.Clone(s.nodes),
		entries: maps.Clone(s.entries),
		access:  access,
	}
}

func parentOf(node string) string {
	i := strings.LastIndex(node, dbpath.Separator)
	if i < 0 {
		return ""
	}
	return node[:i]
}

func (s *state) hasNode(node string) bool {
	_, ok := s.nodes[node]
	return ok
}

// visible reports whether name is directly visible in node, either as an
// entry of the node or as an exposed name.
func (s *state) visible(node, name string) bool {
	if _, ok := s.entries[dbpath.JoinRaw(node, name)]; ok {
		return true
	}
	_, ok := s.access[node][name]
	return ok
}

// resolveAt resolves name inside node only, following access exceptions downwards.
func (s *state) resolveAt(node, name string) (string, bool) {
	full := dbpath.JoinRaw(node, name)
	if _, ok := s.entries[full]; ok {
		return full, true
	}
	if child, ok := s.access[node][name]; ok {
		return s.resolveAt(dbpath.JoinRaw(node, child), name)
	}
	return "", false
}

// resolve walks from node up to the root.
func (s *state) resolve(node, name string) (string, bool) {
	for cur := node; cur != ""; cur = parentOf(cur) {
		if full, ok := s.resolveAt(cur, name); ok {
			return full, true
		}
	}
	return "", false
}

// namesAt lists the names directly visible in node.
func (s *state) namesAt(node string) []string {
	var names []string
	prefix := node + dbpath.Separator
	for full := range s.entries {
		if rest, ok := strings.CutPrefix(full, prefix); ok && !strings.Contains(rest, dbpath.Separator) {
			names = append(names, rest)
		}
	}
	for name := range s.access[node] {
		names = append(names, name)
	}
	return names
}

func (s *state) createNode(node string, _ *[]Change) error {
	p, err := dbpath.Parse(node)
	if err != nil {
		return err
	}
	if s.hasNode(node) {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node)
	}
	if parent := p.Parent().String(); !s.hasNode(parent) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, parent)
	}
	if _, ok := s.entries[node]; ok {
		return fmt.Errorf("%w: %s is an entry", ErrDuplicateNode, node)
	}
	s.nodes[node] = struct{}{}
	return nil
}

func (s *state) deleteNode(node string, changes *[]Change) error {
	if node == dbpath.RootName {
		return fmt.Errorf("%w: the root node cannot be deleted", dbpath.ErrInvalidPath)
	}
	if !s.hasNode(node) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	for n := range s.nodes {
		if n == node || dbpath.IsBeneath(n, node) {
			delete(s.nodes, n)
			delete(s.access, n)
		}
	}
	for full, value := range s.entries {
		if dbpath.IsBeneath(full, node) {
			delete(s.entries, full)
			*changes = append(*changes, Change{Kind: EntryRemoved, Path: full, Value: value})
		}
	}
	// Names the parent exposed from the deleted node would dangle.
	parent, child := parentOf(node), node[strings.LastIndex(node, dbpath.Separator)+1:]
	for name, from := range s.access[parent] {
		if from == child {
			delete(s.access[parent], name)
		}
	}
	return nil
}

func (s *state) register(path string, value any, changes *[]Change) error {
	node, name, err := dbpath.Split(path)
	if err != nil {
		return err
	}
	if !s.hasNode(node) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	if s.visible(node, name) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, path)
	}
	if s.hasNode(path) {
		return fmt.Errorf("%w: %s is a node", ErrDuplicateEntry, path)
	}
	s.entries[path] = value
	*changes = append(*changes, Change{Kind: EntryAdded, Path: path, Value: value})
	return nil
}

func (s *state) remove(path string, changes *[]Change) error {
	value, ok := s.entries[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, path)
	}
	delete(s.entries, path)
	*changes = append(*changes, Change{Kind: EntryRemoved, Path: path, Value: value})
	return nil
}

func (s *state) addAccess(node, child, name string) error {
	if !s.hasNode(node) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	childNode := dbpath.JoinRaw(node, child)
	if !s.hasNode(childNode) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, childNode)
	}
	if _, ok := s.resolveAt(childNode, name); !ok {
		return fmt.Errorf("%w: %s is not visible in %s", ErrUnknownEntry, name, childNode)
	}
	if s.visible(node, name) {
		return fmt.Errorf("%w: %s already visible in %s", ErrDuplicateEntry, name, node)
	}
	if s.access[node] == nil {
		s.access[node] = make(map[string]string)
	}
	s.access[node][name] = child
	return nil
}

func (s *state) removeAccess(node, name string) error {
	if _, ok := s.access[node][name]; !ok {
		return fmt.Errorf("%w: no access exception for %s in %s", ErrUnknownEntry, name, node)
	}
	delete(s.access[node], name)
	if len(s.access[node]) == 0 {
		delete(s.access, node)
	}
	return nil
}
