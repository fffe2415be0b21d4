package queue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func rec(id string) *models.Record {
	return &models.Record{ID: id, UserID: "u1", CreatedAt: t0, UpdatedAt: t0, Fields: map[string]any{"make": "Volvo"}}
}

func TestEnqueue_AssignsOrderedIDs(t *testing.T) {
	r := NewRepository(setupDB(t))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		e := NewUpsert(models.Vehicles, rec("v1"))
		require.NoError(t, r.Enqueue(ctx, e))
		assert.Equal(t, StatusPending, e.Status)
		ids = append(ids, e.ID)
	}

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 20)
	for i, e := range list {
		assert.Equal(t, ids[i], e.ID, "entries must come back in creation order")
	}
}

func TestEnqueue_PayloadRoundTrip(t *testing.T) {
	r := NewRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, NewUpsert(models.Vehicles, rec("v1"))))
	require.NoError(t, r.Enqueue(ctx, NewDelete(models.Services, "s1")))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	up := list[0]
	assert.Equal(t, OpUpsert, up.Operation)
	assert.Equal(t, models.Vehicles, up.Collection)
	require.NotNil(t, up.Payload)
	assert.Equal(t, "Volvo", up.Payload.String("make"))
	assert.True(t, up.Payload.UpdatedAt.Equal(t0))
	assert.Nil(t, up.LastRetry)

	del := list[1]
	assert.Equal(t, OpDelete, del.Operation)
	assert.Equal(t, "s1", del.RecordID)
	assert.Nil(t, del.Payload)
}

func TestEnqueue_Validation(t *testing.T) {
	r := NewRepository(setupDB(t))
	ctx := context.Background()

	assert.Error(t, r.Enqueue(ctx, &Entry{Collection: models.Vehicles, Operation: OpUpsert, RecordID: "v1"}))
	assert.Error(t, r.Enqueue(ctx, &Entry{Collection: models.Vehicles, Operation: "patch", RecordID: "v1"}))
	assert.Error(t, r.Enqueue(ctx, &Entry{Collection: models.Vehicles, Operation: OpDelete}))
}

func TestSecondaryLookups(t *testing.T) {
	r := NewRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, NewUpsert(models.Vehicles, rec("v1"))))
	require.NoError(t, r.Enqueue(ctx, NewUpsert(models.Services, rec("s1"))))
	require.NoError(t, r.Enqueue(ctx, NewDelete(models.Vehicles, "v1")))

	byRecord, err := r.ListByRecord(ctx, "v1")
	require.NoError(t, err)
	assert.Len(t, byRecord, 2)

	byCollection, err := r.ListByCollection(ctx, models.Services)
	require.NoError(t, err)
	require.Len(t, byCollection, 1)
	assert.Equal(t, "s1", byCollection[0].RecordID)

	has, err := r.HasEntries(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = r.HasEntries(ctx, "other")
	require.NoError(t, err)
	assert.False(t, has)

	ids, err := r.RecordIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "v1")
}

func TestMarkFailed_ExhaustsAtThreshold(t *testing.T) {
	r := NewRepository(setupDB(t))
	ctx := context.Background()

	e := NewUpsert(models.Vehicles, rec("v1"))
	require.NoError(t, r.Enqueue(ctx, e))

	cause := errors.New("network down")
	for i := 1; i <= 4; i++ {
		st, err := r.MarkFailed(ctx, e.ID, t0.Add(time.Duration(i)*time.Second), cause, 5)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, st)
	}
	st, err := r.MarkFailed(ctx, e.ID, t0.Add(5*time.Second), cause, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusExhausted, st)

	list, err := r.ListByStatus(ctx, StatusExhausted)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, 5, got.RetryCount)
	assert.Equal(t, "network down", got.LastError)
	require.NotNil(t, got.LastRetry)
	assert.True(t, got.LastRetry.Equal(t0.Add(5*time.Second)))

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Exhausted: 1}, stats)
	assert.Equal(t, 1, stats.Total())
}

func TestMarkFailed_MissingEntry(t *testing.T) {
	r := NewRepository(setupDB(t))

	_, err := r.MarkFailed(context.Background(), "nope", t0, nil, 5)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRevive(t *testing.T) {
	r := NewRepository(setupDB(t))
	ctx := context.Background()

	e := NewDelete(models.Vehicles, "v1")
	require.NoError(t, r.Enqueue(ctx, e))
	_, err := r.MarkFailed(ctx, e.ID, t0, errors.New("x"), 1)
	require.NoError(t, err)

	n, err := r.Revive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, list[0].Status)
	assert.Equal(t, 0, list[0].RetryCount)
	assert.Equal(t, "x", list[0].LastError)
}

func TestRemove(t *testing.T) {
	r := NewRepository(setupDB(t))
	ctx := context.Background()

	e := NewDelete(models.Vehicles, "v1")
	require.NoError(t, r.Enqueue(ctx, e))
	require.NoError(t, r.Remove(ctx, e.ID))
	require.NoError(t, r.Remove(ctx, e.ID))

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}

func TestEnqueue_AtomicWithRecordPut(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := store.NewRecordRepository(tx).Put(ctx, models.Vehicles, rec("v1")); err != nil {
			return err
		}
		if err := NewRepository(tx).Enqueue(ctx, NewUpsert(models.Vehicles, rec("v1"))); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := NewRepository(db).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	got, err := store.NewRecordRepository(db).GetByID(ctx, models.Vehicles, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
