// Package services is the client's public API. Writes are applied to the
// local store and queued in the same transaction, then a background sync is
// requested. Reads never touch the network.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/garagekeeper/internal/client/queue"
	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/client/syncer"
	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

// Scheduler is the connectivity monitor as seen by the API.
type Scheduler interface {
	RequestSync()
	SyncNow(ctx context.Context) (*syncer.Result, error)
	IsOnline() bool
	Syncing() bool
}

// UserSource names the current user.
type UserSource interface {
	UserID() string
}

type Garage struct {
	db        *sql.DB
	users     UserSource
	scheduler Scheduler
	now       timex.Clock
	logger    logging.Logger
}

func NewGarage(db *sql.DB, users UserSource, scheduler Scheduler, logger logging.Logger) *Garage {
	return &Garage{
		db:        db,
		users:     users,
		scheduler: scheduler,
		now:       timex.Now,
		logger:    logger.With("module", "garage"),
	}
}

// SetClock replaces the time source.
func (g *Garage) SetClock(c timex.Clock) { g.now = c }

// save stamps rec and writes it with its queue entry. updated_at never goes
// backwards for an id, even when the wall clock does.
func (g *Garage) save(ctx context.Context, c models.Collection, rec *models.Record) error {
	now := g.now()
	rec.UserID = g.users.UserID()

	err := dbx.WithTx(ctx, g.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		records := store.NewRecordRepository(tx)

		existing, err := records.GetByID(ctx, c, rec.ID)
		if err != nil {
			return err
		}
		rec.CreatedAt, rec.UpdatedAt = now, now
		if existing != nil {
			rec.CreatedAt = existing.CreatedAt
			if !now.After(existing.UpdatedAt) {
				rec.UpdatedAt = existing.UpdatedAt.Add(timex.Precision)
			}
		}

		if err := records.Put(ctx, c, rec); err != nil {
			return err
		}
		return queue.NewRepository(tx).Enqueue(ctx, queue.NewUpsert(c, rec))
	})
	if err != nil {
		return fmt.Errorf("save %s %s: %w", c, rec.ID, err)
	}

	g.logger.Debug(ctx, "saved", "collection", c, "id", rec.ID, "updated_at", rec.UpdatedAt)
	g.scheduler.RequestSync()
	return nil
}

// remove deletes one record inside tx and queues the remote delete.
func remove(ctx context.Context, tx dbx.DBTX, c models.Collection, id string) error {
	if err := store.NewRecordRepository(tx).Delete(ctx, c, id); err != nil {
		return err
	}
	return queue.NewRepository(tx).Enqueue(ctx, queue.NewDelete(c, id))
}

func (g *Garage) get(ctx context.Context, c models.Collection, id string, v any) error {
	rec, err := store.NewRecordRepository(g.db).GetByID(ctx, c, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.UserID != g.users.UserID() {
		return fmt.Errorf("%s %s: %w", c, id, common.ErrorNotFound)
	}
	return rec.Decode(v)
}

func (g *Garage) list(ctx context.Context, c models.Collection) ([]*models.Record, error) {
	return store.NewRecordRepository(g.db).GetByIndex(ctx, c, models.IndexUserID, g.users.UserID())
}

func decodeAll[T any](records []*models.Record) ([]*T, error) {
	out := make([]*T, 0, len(records))
	for _, r := range records {
		v := new(T)
		if err := r.Decode(v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
