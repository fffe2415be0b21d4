package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

const columns = "id, user_id, data, created_at, updated_at"

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// table returns the SQL table for c. Only known collections get through,
// so the name is safe to splice into a query.
func table(c models.Collection) (string, error) {
	parsed, err := models.ParseCollection(string(c))
	if err != nil {
		return "", err
	}
	return string(parsed), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.Record, error) {
	var (
		r    models.Record
		data []byte
	)
	if err := s.Scan(&r.ID, &r.UserID, &data, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Fields = map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.Fields); err != nil {
			return nil, fmt.Errorf("decode data of %s: %w", r.ID, err)
		}
	}
	r.CreatedAt = timex.Normalize(r.CreatedAt)
	r.UpdatedAt = timex.Normalize(r.UpdatedAt)
	return &r, nil
}

// encodeFields serialises the domain fields. Reserved keys are columns of
// their own and are dropped from the document.
func encodeFields(r *models.Record) (string, error) {
	fields := maps.Clone(r.Fields)
	if fields == nil {
		fields = map[string]any{}
	}
	for _, k := range []string{models.FieldID, models.FieldUserID, models.FieldCreatedAt, models.FieldUpdatedAt} {
		delete(fields, k)
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode data of %s: %w", r.ID, err)
	}
	return string(b), nil
}

func (r *PostgresRepository) Get(ctx context.Context, c models.Collection, id string) (*models.Record, error) {
	t, err := table(c)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, t)

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, c models.Collection, userID string) ([]*models.Record, error) {
	t, err := table(c)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY updated_at`, columns, t)

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", t, err)
	}

	result, err := dbx.CollectRows(rows, func(rows *sql.Rows) (*models.Record, error) {
		return scanRecord(rows)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", t, err)
	}
	return result, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, c models.Collection, rec *models.Record) (*models.Record, error) {
	t, err := table(c)
	if err != nil {
		return nil, err
	}

	data, err := encodeFields(rec)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, user_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
			WHERE %[1]s.user_id = EXCLUDED.user_id
		RETURNING %[2]s`, t, columns)

	out, err := scanRecord(r.db.QueryRowContext(ctx, query,
		rec.ID, rec.UserID, data, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()))
	if err != nil {
		// The conflict guard filtered the row out: the id belongs to someone else.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, c models.Collection, userID, id string) error {
	t, err := table(c)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, t)

	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
