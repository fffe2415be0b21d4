package syncer

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/garagekeeper/internal/client/queue"
	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// ApplyRemote writes a remote-originated change to the local store, unless
// a queue entry references the record (the local edit wins until it syncs)
// or the local copy is strictly newer. A copy identical to the local one is
// not rewritten.
//
// rec nil means delete id. The check and the write share one transaction.
func ApplyRemote(ctx context.Context, db dbx.Beginner, c models.Collection, id string, rec *models.Record) (bool, error) {
	applied := false
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		pending, err := queue.NewRepository(tx).HasEntries(ctx, id)
		if err != nil || pending {
			return err
		}

		records := store.NewRecordRepository(tx)
		if rec == nil {
			applied = true
			return records.Delete(ctx, c, id)
		}

		local, err := records.GetByID(ctx, c, id)
		if err != nil {
			return err
		}
		if local != nil && (local.UpdatedAt.After(rec.UpdatedAt) || sameContent(local, rec)) {
			return nil
		}
		applied = true
		return records.Put(ctx, c, rec)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// sameContent compares through JSON so numbers decoded from different
// sources (int vs float64) compare equal.
func sameContent(a, b *models.Record) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) || !a.CreatedAt.Equal(b.CreatedAt) || a.UserID != b.UserID {
		return false
	}
	af, err := json.Marshal(a.Fields)
	if err != nil {
		return false
	}
	bf, err := json.Marshal(b.Fields)
	if err != nil {
		return false
	}
	return bytes.Equal(af, bf)
}
