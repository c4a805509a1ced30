package database

// ChangeKind describes what happened to an entry.
type ChangeKind int

const (
	EntryAdded ChangeKind = iota + 1
	EntryUpdated
	EntryRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case EntryAdded:
		return "added"
	case EntryUpdated:
		return "updated"
	case EntryRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is delivered to observers for every entry mutation. For removals,
// Value holds the last value of the entry.
type Change struct {
	Kind  ChangeKind
	Path  string
	Value any
}

// Observer receives database changes.
type Observer func(Change)
