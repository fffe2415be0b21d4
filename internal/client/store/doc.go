// Package store is the client's durable local store.
//
// It keeps one SQLite table per record collection (vehicles, services) and a
// key/value metadata table. The mutation queue lives in the same database
// but is owned by package queue; both repositories accept a dbx.DBTX so a
// record change and its queue entry can be written in one transaction:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := store.NewRecordRepository(tx).Put(ctx, models.Vehicles, rec); err != nil {
//	        return err
//	    }
//	    return queue.NewRepository(tx).Enqueue(ctx, entry)
//	})
//
// Record fields are stored as a JSON document next to indexed columns
// (user_id, updated_at and, for services, vehicle_id). Timestamps are unix
// microseconds.
//
// Every failure is wrapped with common.ErrStorage.
package store
