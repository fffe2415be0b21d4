package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// RecordRepository reads and writes records of any collection.
type RecordRepository struct {
	db dbx.DBTX
}

func NewRecordRepository(db dbx.DBTX) *RecordRepository {
	return &RecordRepository{db: db}
}

func storageErr(op string, c models.Collection, err error) error {
	return fmt.Errorf("%w: %s %s: %w", common.ErrStorage, op, c, err)
}

func selectColumns(c models.Collection) string {
	return fmt.Sprintf(`SELECT id, user_id, data, created_at, updated_at FROM %s`, c)
}

func scanRecord(row interface{ Scan(...any) error }) (*models.Record, error) {
	var (
		r         models.Record
		data      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.UserID, &data, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &r.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", r.ID, err)
	}
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.CreatedAt = time.UnixMicro(createdAt).UTC()
	r.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &r, nil
}

func scanRows(rows *sql.Rows) (*models.Record, error) { return scanRecord(rows) }

func checkCollection(c models.Collection) error {
	if _, err := models.ParseCollection(string(c)); err != nil {
		return fmt.Errorf("%w: %s", err, c)
	}
	return nil
}

// GetAll returns every record of the collection. Order is unspecified.
func (r *RecordRepository) GetAll(ctx context.Context, c models.Collection) ([]*models.Record, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, selectColumns(c))
	if err != nil {
		return nil, storageErr("list", c, err)
	}
	out, err := dbx.CollectRows(rows, scanRows)
	if err != nil {
		return nil, storageErr("list", c, err)
	}
	return out, nil
}

// GetByID returns nil, nil when the record does not exist.
func (r *RecordRepository) GetByID(ctx context.Context, c models.Collection, id string) (*models.Record, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectColumns(c)+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", c, err)
	}
	return rec, nil
}

// GetByIndex returns the records whose secondary index equals key. For the
// updated_at index the key is a time.Time.
func (r *RecordRepository) GetByIndex(ctx context.Context, c models.Collection, index string, key any) ([]*models.Record, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	if !c.HasIndex(index) {
		return nil, fmt.Errorf("%w: %s on %s", common.ErrUnknownIndex, index, c)
	}
	if t, ok := key.(time.Time); ok {
		key = t.UnixMicro()
	}

	rows, err := r.db.QueryContext(ctx, selectColumns(c)+fmt.Sprintf(` WHERE %s = ?`, index), key)
	if err != nil {
		return nil, storageErr("index "+index, c, err)
	}
	out, err := dbx.CollectRows(rows, scanRows)
	if err != nil {
		return nil, storageErr("index "+index, c, err)
	}
	return out, nil
}

// UpdatedSince returns records with updated_at strictly after t.
func (r *RecordRepository) UpdatedSince(ctx context.Context, c models.Collection, t time.Time) ([]*models.Record, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, selectColumns(c)+` WHERE updated_at > ? ORDER BY updated_at`, t.UnixMicro())
	if err != nil {
		return nil, storageErr("scan", c, err)
	}
	out, err := dbx.CollectRows(rows, scanRows)
	if err != nil {
		return nil, storageErr("scan", c, err)
	}
	return out, nil
}

// Put inserts or replaces the record keyed by its id.
func (r *RecordRepository) Put(ctx context.Context, c models.Collection, rec *models.Record) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return storageErr("encode", c, err)
	}

	var query string
	args := []any{rec.ID, rec.UserID, string(data), rec.CreatedAt.UnixMicro(), rec.UpdatedAt.UnixMicro()}

	switch c {
	case models.Services:
		query = `
		INSERT INTO services (id, user_id, data, created_at, updated_at, vehicle_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			vehicle_id = excluded.vehicle_id`
		args = append(args, rec.String(models.IndexVehicleID))
	default:
		query = fmt.Sprintf(`
		INSERT INTO %s (id, user_id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`, c)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr("put", c, err)
	}
	return nil
}

// Delete removes the record. Deleting a missing id is not an error.
func (r *RecordRepository) Delete(ctx context.Context, c models.Collection, id string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, c), id); err != nil {
		return storageErr("delete", c, err)
	}
	return nil
}
