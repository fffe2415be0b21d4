package models

// EventType is the kind of a remote change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent describes one remote-side mutation. Before is set for
// deletes, After for inserts and updates.
type ChangeEvent struct {
	Table  Collection
	Type   EventType
	Before *Record
	After  *Record
}

// RecordID returns the id of the changed record.
func (e ChangeEvent) RecordID() string {
	if e.After != nil {
		return e.After.ID
	}
	if e.Before != nil {
		return e.Before.ID
	}
	return ""
}
