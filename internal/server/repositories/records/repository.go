// Package records stores vehicles and service records in PostgreSQL. Each
// collection is its own table; domain fields live in a jsonb column next to
// the id, owner and the two timestamps.
package records

import (
	"context"

	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

type Repository interface {
	// Get returns the record with id regardless of owner, or
	// common.ErrorNotFound.
	Get(ctx context.Context, c models.Collection, id string) (*models.Record, error)
	ListByUser(ctx context.Context, c models.Collection, userID string) ([]*models.Record, error)
	// Upsert inserts r or updates the row with the same id and owner and
	// returns the stored row. created_at is never overwritten. An id owned
	// by another user yields common.ErrorUnauthorized.
	Upsert(ctx context.Context, c models.Collection, r *models.Record) (*models.Record, error)
	// Delete removes the user's row, or returns common.ErrorNotFound.
	Delete(ctx context.Context, c models.Collection, userID, id string) error
}
