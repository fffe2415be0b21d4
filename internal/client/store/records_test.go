package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func vehicle(id string, updated time.Time, fields map[string]any) *models.Record {
	return &models.Record{ID: id, UserID: "u1", CreatedAt: t0, UpdatedAt: updated, Fields: fields}
}

func TestPutAndGetByID(t *testing.T) {
	repo := NewRecordRepository(setupDB(t))
	ctx := context.Background()

	in := vehicle("v1", t0.Add(time.Microsecond), map[string]any{"make": "Volvo", "year": float64(1972)})
	require.NoError(t, repo.Put(ctx, models.Vehicles, in))

	got, err := repo.GetByID(ctx, models.Vehicles, "v1")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(in, got))
}

func TestGetByID_Absent(t *testing.T) {
	repo := NewRecordRepository(setupDB(t))

	got, err := repo.GetByID(context.Background(), models.Services, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPut_IsIdempotentReplace(t *testing.T) {
	repo := NewRecordRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, models.Vehicles, vehicle("v1", t0, map[string]any{"make": "Volvo"})))
	require.NoError(t, repo.Put(ctx, models.Vehicles, vehicle("v1", t0.Add(time.Hour), map[string]any{"make": "Saab"})))
	require.NoError(t, repo.Put(ctx, models.Vehicles, vehicle("v1", t0.Add(time.Hour), map[string]any{"make": "Saab"})))

	all, err := repo.GetAll(ctx, models.Vehicles)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Saab", all[0].String("make"))
	assert.True(t, all[0].UpdatedAt.Equal(t0.Add(time.Hour)))
}

func TestGetByIndex_ServicesByVehicle(t *testing.T) {
	repo := NewRecordRepository(setupDB(t))
	ctx := context.Background()

	for _, s := range []struct{ id, vehicle string }{{"s1", "v1"}, {"s2", "v1"}, {"s3", "v2"}} {
		rec := &models.Record{ID: s.id, UserID: "u1", CreatedAt: t0, UpdatedAt: t0,
			Fields: map[string]any{"vehicle_id": s.vehicle, "cost": float64(10)}}
		require.NoError(t, repo.Put(ctx, models.Services, rec))
	}

	got, err := repo.GetByIndex(ctx, models.Services, models.IndexVehicleID, "v1")
	require.NoError(t, err)
	ids := []string{}
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

	byTime, err := repo.GetByIndex(ctx, models.Services, models.IndexUpdatedAt, t0)
	require.NoError(t, err)
	assert.Len(t, byTime, 3)
}

func TestGetByIndex_UnknownIndex(t *testing.T) {
	repo := NewRecordRepository(setupDB(t))

	_, err := repo.GetByIndex(context.Background(), models.Vehicles, models.IndexVehicleID, "v1")
	assert.ErrorIs(t, err, common.ErrUnknownIndex)
}

func TestUnknownCollection(t *testing.T) {
	repo := NewRecordRepository(setupDB(t))
	ctx := context.Background()

	_, err := repo.GetAll(ctx, models.Collection("users"))
	assert.ErrorIs(t, err, common.ErrUnknownCollection)
	assert.ErrorIs(t, repo.Put(ctx, "users; DROP TABLE vehicles", &models.Record{ID: "x"}), common.ErrUnknownCollection)
}

func TestUpdatedSince(t *testing.T) {
	repo := NewRecordRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, models.Vehicles, vehicle("old", t0, nil)))
	require.NoError(t, repo.Put(ctx, models.Vehicles, vehicle("new", t0.Add(time.Minute), nil)))

	got, err := repo.UpdatedSince(ctx, models.Vehicles, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
	assert.NotNil(t, got[0].Fields)
}

func TestDelete_Idempotent(t *testing.T) {
	repo := NewRecordRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, models.Vehicles, vehicle("v1", t0, nil)))
	require.NoError(t, repo.Delete(ctx, models.Vehicles, "v1"))
	require.NoError(t, repo.Delete(ctx, models.Vehicles, "v1"))

	got, err := repo.GetByID(ctx, models.Vehicles, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPut_RolledBackWithTransaction(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		require.NoError(t, NewRecordRepository(tx).Put(ctx, models.Vehicles, vehicle("v1", t0, nil)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := NewRecordRepository(db).GetByID(ctx, models.Vehicles, "v1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	_, err := NewRecordRepository(db).GetAll(context.Background(), models.Vehicles)
	assert.ErrorIs(t, err, common.ErrStorage)

	_, err = NewMetadataRepository(db).Get(context.Background(), "k")
	assert.ErrorIs(t, err, common.ErrStorage)
}
