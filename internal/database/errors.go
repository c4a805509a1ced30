package database

import "errors"

var (
	// ErrDuplicateEntry is returned when an entry or exposed name already exists in a node.
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrUnknownEntry is returned when an entry cannot be found.
	ErrUnknownEntry = errors.New("unknown entry")
	// ErrDuplicateNode is returned when creating a node that already exists.
	ErrDuplicateNode = errors.New("duplicate node")
	// ErrUnknownNode is returned when an operation targets a missing node.
	ErrUnknownNode = errors.New("unknown node")
	// ErrRunning is returned for structural changes while the database is prepared for running.
	ErrRunning = errors.New("database is running")
)
