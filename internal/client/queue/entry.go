// Package queue is the durable, ordered log of local mutations waiting to be
// replayed against the remote gateway.
//
// Entries are keyed by ULIDs, so ordering by id is ordering by creation.
// Only the write path (which enqueues inside the same transaction as the
// local record change) and the sync engine (which annotates and removes
// entries) touch the queue.
package queue

import (
	"time"

	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

type Operation string

const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// Status is the sync state of an entry.
type Status string

const (
	StatusPending Status = "pending"
	// StatusFailed means the last attempt failed and the entry will be retried.
	StatusFailed Status = "failed"
	// StatusExhausted entries are skipped by background passes until revived.
	StatusExhausted Status = "exhausted"
)

type Entry struct {
	ID         string
	Collection models.Collection
	Operation  Operation
	RecordID   string
	// Payload is the full record for upserts and nil for deletes.
	Payload    *models.Record
	Status     Status
	RetryCount int
	LastRetry  *time.Time
	LastError  string
	CreatedAt  time.Time
}

// NewUpsert builds an entry that pushes rec to the remote table.
func NewUpsert(c models.Collection, rec *models.Record) *Entry {
	return &Entry{Collection: c, Operation: OpUpsert, RecordID: rec.ID, Payload: rec.Clone()}
}

// NewDelete builds an entry that removes id from the remote table.
func NewDelete(c models.Collection, id string) *Entry {
	return &Entry{Collection: c, Operation: OpDelete, RecordID: id}
}

// Stats counts entries per status.
type Stats struct {
	Pending   int
	Failed    int
	Exhausted int
}

func (s Stats) Total() int { return s.Pending + s.Failed + s.Exhausted }
