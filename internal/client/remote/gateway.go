// Package remote is the client's only seam to the remote source of truth.
//
// Gateway is implemented over gRPC by GRPCGateway and in memory by
// remotetest.Gateway. Every failure is an *Error carrying a Kind; callers
// match on KindOf(err) instead of on concrete error types.
package remote

import (
	"context"

	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// Filter narrows Select. Empty fields do not filter; an ID lookup that finds
// nothing returns an empty slice, not KindNotFound.
type Filter struct {
	ID     string
	UserID string
}

type Gateway interface {
	Select(ctx context.Context, table models.Collection, f Filter) ([]*models.Record, error)
	// Upsert inserts or updates by id and returns the server-canonical copy.
	Upsert(ctx context.Context, table models.Collection, r *models.Record) (*models.Record, error)
	// Delete fails with KindNotFound when the record does not exist.
	Delete(ctx context.Context, table models.Collection, id string) error
	// Subscribe streams changes made by any client until ctx is cancelled
	// or the stream breaks; the channel is closed in both cases. A stream
	// the server refuses fails here, so auth errors surface as KindAuth.
	Subscribe(ctx context.Context, tables []models.Collection) (<-chan models.ChangeEvent, error)
	Ping(ctx context.Context) error
}
