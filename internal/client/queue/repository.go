package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

// Repository persists entries in the mutation_queue table.
type Repository struct {
	db  dbx.DBTX
	now timex.Clock
}

func NewRepository(db dbx.DBTX) *Repository {
	return &Repository{db: db, now: timex.Now}
}

const selectEntries = `SELECT id, collection, operation, record_id, payload, status,
	retry_count, last_retry, last_error, created_at FROM mutation_queue`

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: queue %s: %w", common.ErrStorage, op, err)
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e         Entry
		payload   string
		lastRetry sql.NullInt64
		createdAt int64
	)
	err := rows.Scan(&e.ID, &e.Collection, &e.Operation, &e.RecordID, &payload, &e.Status,
		&e.RetryCount, &lastRetry, &e.LastError, &createdAt)
	if err != nil {
		return nil, err
	}
	if e.Operation == OpUpsert {
		e.Payload = &models.Record{}
		if err := json.Unmarshal([]byte(payload), e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", e.ID, err)
		}
	}
	if lastRetry.Valid {
		t := time.UnixMicro(lastRetry.Int64).UTC()
		e.LastRetry = &t
	}
	e.CreatedAt = time.UnixMicro(createdAt).UTC()
	return &e, nil
}

func (r *Repository) query(ctx context.Context, op, where string, args ...any) ([]*Entry, error) {
	rows, err := r.db.QueryContext(ctx, selectEntries+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	out, err := dbx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// Enqueue appends e. ID, Status and CreatedAt are assigned here.
func (r *Repository) Enqueue(ctx context.Context, e *Entry) error {
	if e.RecordID == "" {
		return fmt.Errorf("queue entry for %s has no record id", e.Collection)
	}

	var payload []byte
	var err error
	switch e.Operation {
	case OpUpsert:
		if e.Payload == nil {
			return fmt.Errorf("upsert entry for %s has no payload", e.RecordID)
		}
		payload, err = json.Marshal(e.Payload)
	case OpDelete:
		payload, err = json.Marshal(map[string]string{models.FieldID: e.RecordID})
	default:
		return fmt.Errorf("unknown queue operation %q", e.Operation)
	}
	if err != nil {
		return storageErr("encode", err)
	}

	e.ID = ulid.Make().String()
	e.Status = StatusPending
	e.RetryCount = 0
	e.CreatedAt = r.now()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO mutation_queue (id, collection, operation, record_id, payload, status, retry_count, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, '', ?)`,
		e.ID, e.Collection, e.Operation, e.RecordID, string(payload), e.Status, e.CreatedAt.UnixMicro())
	if err != nil {
		return storageErr("enqueue", err)
	}
	return nil
}

// List returns every entry in creation order.
func (r *Repository) List(ctx context.Context) ([]*Entry, error) {
	return r.query(ctx, "list", "")
}

func (r *Repository) ListByStatus(ctx context.Context, s Status) ([]*Entry, error) {
	return r.query(ctx, "list by status", ` WHERE status = ?`, s)
}

func (r *Repository) ListByCollection(ctx context.Context, c models.Collection) ([]*Entry, error) {
	return r.query(ctx, "list by collection", ` WHERE collection = ?`, c)
}

func (r *Repository) ListByRecord(ctx context.Context, recordID string) ([]*Entry, error) {
	return r.query(ctx, "list by record", ` WHERE record_id = ?`, recordID)
}

// HasEntries reports whether any entry, whatever its status, targets recordID.
func (r *Repository) HasEntries(ctx context.Context, recordID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM mutation_queue WHERE record_id = ? LIMIT 1`, recordID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storageErr("lookup", err)
	}
	return true, nil
}

// RecordIDs returns the set of record ids with at least one entry.
func (r *Repository) RecordIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT record_id FROM mutation_queue`)
	if err != nil {
		return nil, storageErr("record ids", err)
	}
	ids, err := dbx.CollectRows(rows, func(rows *sql.Rows) (string, error) {
		var id string
		err := rows.Scan(&id)
		return id, err
	})
	if err != nil {
		return nil, storageErr("record ids", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM mutation_queue GROUP BY status`)
	if err != nil {
		return Stats{}, storageErr("stats", err)
	}
	type count struct {
		status Status
		n      int
	}
	counts, err := dbx.CollectRows(rows, func(rows *sql.Rows) (count, error) {
		var c count
		err := rows.Scan(&c.status, &c.n)
		return c, err
	})
	if err != nil {
		return Stats{}, storageErr("stats", err)
	}

	var s Stats
	for _, c := range counts {
		switch c.status {
		case StatusPending:
			s.Pending = c.n
		case StatusFailed:
			s.Failed = c.n
		case StatusExhausted:
			s.Exhausted = c.n
		}
	}
	return s, nil
}

// Remove deletes the entry. Removing a missing id is not an error.
func (r *Repository) Remove(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE id = ?`, id); err != nil {
		return storageErr("remove", err)
	}
	return nil
}

// MarkFailed records a failed attempt and returns the entry's new status.
// The entry becomes exhausted once its retry count reaches exhaustAfter.
func (r *Repository) MarkFailed(ctx context.Context, id string, at time.Time, cause error, exhaustAfter int) (Status, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var status Status
	err := r.db.QueryRowContext(ctx, `
		UPDATE mutation_queue SET
			retry_count = retry_count + 1,
			last_retry = ?,
			last_error = ?,
			status = CASE WHEN retry_count + 1 >= ? THEN 'exhausted' ELSE 'failed' END
		WHERE id = ?
		RETURNING status`,
		at.UnixMicro(), msg, exhaustAfter, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("queue entry %s: %w", id, common.ErrorNotFound)
	}
	if err != nil {
		return "", storageErr("mark failed", err)
	}
	return status, nil
}

// Revive returns exhausted entries to the retry cycle with a fresh budget.
func (r *Repository) Revive(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mutation_queue SET status = 'failed', retry_count = 0
		WHERE status = 'exhausted'`)
	if err != nil {
		return 0, storageErr("revive", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("revive", err)
	}
	return int(n), nil
}
