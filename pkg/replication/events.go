package replication

import "github.com/libraz/mygram-db/pkg/types"

// EventKind classifies a parsed binlog data event.
type EventKind int

const (
	EventInsert EventKind = iota
	EventUpdate
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

// RowImage is one row generation: the primary key, the extracted indexable
// text, the typed filter attributes, and the raw column strings the
// required-filter predicate evaluates against.
type RowImage struct {
	PK    string
	Text  string
	Attrs map[string]types.Value
	Raw   map[string]string
}

// RowEvent is a parsed change event for one configured table. Old is set
// for UPDATE and DELETE, New for INSERT and UPDATE.
type RowEvent struct {
	Kind  EventKind
	Table string
	Old   *RowImage
	New   *RowImage
}
