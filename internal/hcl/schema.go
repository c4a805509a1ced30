package hcl

import (
	"github.com/hashicorp/hcl/v2"
)

// fileBlock is the top-level structure of a measure file.
type fileBlock struct {
	Measures []*measureBlock `hcl:"measure,block"`
	Profiles []*profileBlock `hcl:"profile,block"`
}

type measureBlock struct {
	Name     string          `hcl:"name,label"`
	Engine   string          `hcl:"engine,optional"`
	Checks   []string        `hcl:"checks,optional"`
	Headers  []string        `hcl:"headers,optional"`
	Monitors []*monitorBlock `hcl:"monitor,block"`
	Root     *taskBlock      `hcl:"task,block"`
}

// monitorBlock keeps every attribute other than entries for the monitor
// factory.
type monitorBlock struct {
	Kind    string   `hcl:"kind,label"`
	Entries []string `hcl:"entries,optional"`
	Remain  hcl.Body `hcl:",remain"`
}

// taskBlock is recursive: children are nested task blocks.
type taskBlock struct {
	Kind             string       `hcl:"kind,label"`
	Name             string       `hcl:"name,label"`
	AccessExceptions []string     `hcl:"access_exceptions,optional"`
	Children         []*taskBlock `hcl:"task,block"`
	Remain           hcl.Body     `hcl:",remain"`
}

type profileBlock struct {
	Name   string   `hcl:"name,label"`
	Driver string   `hcl:"driver"`
	Remain hcl.Body `hcl:",remain"`
}
