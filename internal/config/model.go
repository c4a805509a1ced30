package config

import (
	"github.com/zclconf/go-cty/cty"
)

// Model is everything loaded from the configuration files.
type Model struct {
	Measures []*Measure
	Profiles map[string]*Profile
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{Profiles: make(map[string]*Profile)}
}

// Measure is the serialized form of a measure: its task tree and tools.
type Measure struct {
	Name     string
	Engine   string
	Root     *Task
	Monitors []*Tool
	Checks   []string
	Headers  []string
}

// Tool configures a monitor. Entries lists the database paths it follows.
type Tool struct {
	Kind       string
	Entries    []string
	Attributes map[string]cty.Value
}

// Task is the serialized form of a task and its subtree.
type Task struct {
	Kind             string
	Name             string
	Attributes       map[string]cty.Value
	AccessExceptions []string
	Children         []*Task
}

// Walk visits t and its descendants in pre-order. It stops at the first error.
func (t *Task) Walk(fn func(*Task) error) error {
	if t == nil {
		return nil
	}
	if err := fn(t); err != nil {
		return err
	}
	for _, child := range t.Children {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// Profile holds the connection settings of one instrument.
type Profile struct {
	Name     string
	Driver   string
	Settings map[string]cty.Value
	// Source is the file the profile was read from.
	Source string
}
