package syncer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/garagekeeper/internal/client/queue"
	"github.com/dmitrijs2005/garagekeeper/internal/client/remote"
	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// Reconcile pulls every remote record of the current user and applies the
// ones that are newer than, or missing from, the local store. Local records
// of the same user that no longer exist remotely are removed. Records with
// queue entries are left alone in both directions.
//
// Collections are pulled concurrently.
func (e *Engine) Reconcile(ctx context.Context) (pulled, removed int, err error) {
	userID := e.session.UserID()
	counts := make([][2]int, len(models.Collections))

	// ApplyRemote rechecks inside its transaction; this set only saves a
	// transaction per record already known to be pending.
	pending, err := queue.NewRepository(e.db).RecordIDs(ctx)
	if err != nil {
		return 0, 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range models.Collections {
		g.Go(func() error {
			p, r, err := e.reconcileCollection(gctx, c, userID, pending)
			counts[i] = [2]int{p, r}
			return err
		})
	}
	err = g.Wait()

	for _, c := range counts {
		pulled += c[0]
		removed += c[1]
	}

	if remote.IsKind(err, remote.KindAuth) {
		e.session.Invalidate(err)
		err = fmt.Errorf("%w: %w", common.ErrAuth, err)
	}
	return pulled, removed, err
}

func (e *Engine) reconcileCollection(ctx context.Context, c models.Collection, userID string, pending map[string]struct{}) (pulled, removed int, err error) {
	remoteRecords, err := e.gateway.Select(ctx, c, remote.Filter{UserID: userID})
	if err != nil {
		return 0, 0, err
	}

	seen := make(map[string]struct{}, len(remoteRecords))
	for _, r := range remoteRecords {
		seen[r.ID] = struct{}{}
		if _, ok := pending[r.ID]; ok {
			continue
		}
		applied, err := ApplyRemote(ctx, e.db, c, r.ID, r)
		if err != nil {
			return pulled, removed, err
		}
		if applied {
			pulled++
		}
	}

	locals, err := store.NewRecordRepository(e.db).GetByIndex(ctx, c, models.IndexUserID, userID)
	if err != nil {
		return pulled, removed, err
	}
	for _, l := range locals {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		if _, ok := pending[l.ID]; ok {
			continue
		}
		applied, err := ApplyRemote(ctx, e.db, c, l.ID, nil)
		if err != nil {
			return pulled, removed, err
		}
		if applied {
			removed++
		}
	}
	return pulled, removed, nil
}
