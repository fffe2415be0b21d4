package syncer

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/garagekeeper/internal/client/queue"
	"github.com/dmitrijs2005/garagekeeper/internal/client/remote/remotetest"
	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

type fakeSession struct {
	mu      sync.Mutex
	user    string
	invalid error
}

func (s *fakeSession) UserID() string { return s.user }
func (s *fakeSession) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalid == nil
}
func (s *fakeSession) Invalidate(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid = reason
}

var (
	t1  = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2  = t1.Add(time.Hour)
	now = t2.Add(time.Hour)
)

type fixture struct {
	db      *sql.DB
	gw      *remotetest.Gateway
	session *fakeSession
	engine  *Engine
	online  *atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.InitDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, gw: remotetest.New(), session: &fakeSession{user: "u1"}, online: &atomic.Bool{}}
	f.online.Store(true)

	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	f.engine = NewEngine(db, f.gw, f.session, DefaultMergePolicy(), cfg, logging.Nop{})
	f.engine.SetOnlineCheck(f.online.Load)
	f.engine.SetClock(func() time.Time { return now })
	return f
}

// write applies a record locally and enqueues it, as the write path does.
func (f *fixture) write(t *testing.T, c models.Collection, r *models.Record) *queue.Entry {
	t.Helper()
	e := queue.NewUpsert(c, r)
	err := dbx.WithTx(context.Background(), f.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := store.NewRecordRepository(tx).Put(ctx, c, r); err != nil {
			return err
		}
		return queue.NewRepository(tx).Enqueue(ctx, e)
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) remove(t *testing.T, c models.Collection, id string) {
	t.Helper()
	err := dbx.WithTx(context.Background(), f.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := store.NewRecordRepository(tx).Delete(ctx, c, id); err != nil {
			return err
		}
		return queue.NewRepository(tx).Enqueue(ctx, queue.NewDelete(c, id))
	})
	require.NoError(t, err)
}

func (f *fixture) local(t *testing.T, c models.Collection, id string) *models.Record {
	t.Helper()
	r, err := store.NewRecordRepository(f.db).GetByID(context.Background(), c, id)
	require.NoError(t, err)
	return r
}

func (f *fixture) entries(t *testing.T) []*queue.Entry {
	t.Helper()
	list, err := queue.NewRepository(f.db).List(context.Background())
	require.NoError(t, err)
	return list
}

func service(id string, updated time.Time, desc string, cost float64) *models.Record {
	return &models.Record{ID: id, UserID: "u1", CreatedAt: t1, UpdatedAt: updated, Fields: map[string]any{
		"vehicle_id": "v1", "description": desc, "cost": cost, "date": "2024-04-01",
	}}
}

func vehicle(id string, updated time.Time) *models.Record {
	return &models.Record{ID: id, UserID: "u1", CreatedAt: t1, UpdatedAt: updated, Fields: map[string]any{"make": "Volvo"}}
}

func TestDrain_PushesNewRecord(t *testing.T) {
	f := newFixture(t)
	f.write(t, models.Vehicles, vehicle("v1", t1))

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, f.entries(t))

	remoteCopy := f.gw.Get(models.Vehicles, "v1")
	require.NotNil(t, remoteCopy)
	assert.Equal(t, "Volvo", remoteCopy.String("make"))
	assert.True(t, remoteCopy.UpdatedAt.Equal(t1))
}

func TestDrain_ConflictMergesAndWritesBothSides(t *testing.T) {
	f := newFixture(t)
	f.gw.Seed(models.Services, service("s1", t2, "Y", 50))
	f.write(t, models.Services, service("s1", t1, "X", 40))

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)

	for _, r := range []*models.Record{f.gw.Get(models.Services, "s1"), f.local(t, models.Services, "s1")} {
		require.NotNil(t, r)
		assert.Equal(t, "X", r.String("description"))
		cost, _ := r.Float("cost")
		assert.Equal(t, 40.0, cost)
		assert.True(t, r.UpdatedAt.Equal(now))
		assert.True(t, r.UpdatedAt.After(t2))
	}
}

func TestDrain_LocalNewerWins(t *testing.T) {
	f := newFixture(t)
	remoteOld := service("s1", t1, "old", 10)
	remoteOld.Fields["date"] = "2020-01-01"
	f.gw.Seed(models.Services, remoteOld)
	f.write(t, models.Services, service("s1", t2, "new", 20))

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)
	assert.Zero(t, res.Merged)

	got := f.gw.Get(models.Services, "s1")
	assert.Equal(t, "new", got.String("description"))
	assert.Equal(t, "2024-04-01", got.String("date"))
	assert.True(t, got.UpdatedAt.Equal(t2))
}

func TestDrain_RoundTripEqualExceptClock(t *testing.T) {
	f := newFixture(t)
	in := service("s1", t1, "brakes", 120)
	f.write(t, models.Services, in)

	_, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)

	got := f.gw.Get(models.Services, "s1")
	assert.Equal(t, in.Fields, got.Fields)
	assert.Equal(t, in.ID, got.ID)
	assert.True(t, !got.UpdatedAt.Before(in.UpdatedAt))
}

func TestDrain_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := vehicle("v1", t1)
	f.write(t, models.Vehicles, rec)
	// the remote write already happened, the dequeue did not
	_, err := f.gw.Upsert(ctx, models.Vehicles, rec)
	require.NoError(t, err)

	f.gw.Seed(models.Vehicles, vehicle("v2", t1))
	f.remove(t, models.Vehicles, "v2")
	require.NoError(t, f.gw.Delete(ctx, models.Vehicles, "v2"))

	res, err := f.engine.Drain(ctx, f.engine.Config().Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, f.gw.Len(models.Vehicles))
	assert.Empty(t, f.entries(t))
}

func TestDrain_DeleteNotFoundCountsAsSuccess(t *testing.T) {
	f := newFixture(t)
	f.gw.Seed(models.Vehicles, vehicle("v1", t1))
	f.remove(t, models.Vehicles, "v1")
	f.gw.FailNext(remotetest.OpDelete, remotetest.NotFound(remotetest.OpDelete))

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, f.entries(t))
}

func TestDrain_TransientRetriedWithinPass(t *testing.T) {
	f := newFixture(t)
	f.write(t, models.Vehicles, vehicle("v1", t1))
	f.gw.FailNext(remotetest.OpSelect, remotetest.Transient(remotetest.OpSelect), remotetest.Transient(remotetest.OpSelect))

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 3, f.gw.Calls(remotetest.OpSelect))
	assert.NotNil(t, f.gw.Get(models.Vehicles, "v1"))
}

func TestDrain_ExhaustionAndManualRevive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, models.Vehicles, vehicle("v1", t1))
	f.gw.FailAlways(remotetest.OpSelect, remotetest.Transient(remotetest.OpSelect))

	bg := f.engine.Config().Background()

	res, err := f.engine.Drain(ctx, bg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	list := f.entries(t)
	require.Len(t, list, 1)
	assert.Equal(t, queue.StatusFailed, list[0].Status)
	assert.Equal(t, 3, list[0].RetryCount)
	assert.Contains(t, list[0].LastError, "connection reset")
	require.NotNil(t, list[0].LastRetry)

	res, err = f.engine.Drain(ctx, bg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Exhausted)
	list = f.entries(t)
	require.Len(t, list, 1, "exhausted entries stay queued")
	assert.Equal(t, queue.StatusExhausted, list[0].Status)
	assert.Equal(t, 5, list[0].RetryCount)
	assert.Equal(t, 5, f.gw.Calls(remotetest.OpSelect))

	res, err = f.engine.Drain(ctx, bg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 5, f.gw.Calls(remotetest.OpSelect), "background passes leave exhausted entries alone")

	f.gw.FailAlways(remotetest.OpSelect, nil)
	res, err = f.engine.Drain(ctx, f.engine.Config().Manual())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Revived)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, f.entries(t))
}

func TestDrain_AuthFailureAbortsAndInvalidates(t *testing.T) {
	f := newFixture(t)
	f.write(t, models.Vehicles, vehicle("v1", t1))
	f.write(t, models.Vehicles, vehicle("v2", t1))
	f.gw.FailNext(remotetest.OpSelect, remotetest.Auth(remotetest.OpSelect))

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Manual())
	require.ErrorIs(t, err, common.ErrAuth)
	assert.True(t, res.Aborted)
	assert.False(t, f.session.Valid())
	assert.Equal(t, 1, f.gw.Calls(remotetest.OpSelect), "auth failures are not retried")

	for _, e := range f.entries(t) {
		assert.Equal(t, queue.StatusPending, e.Status)
		assert.Zero(t, e.RetryCount)
	}
}

func TestDrain_OfflineMidPassLeavesRestPending(t *testing.T) {
	f := newFixture(t)
	f.write(t, models.Vehicles, vehicle("v1", t1))
	f.write(t, models.Vehicles, vehicle("v2", t1))
	f.write(t, models.Vehicles, vehicle("v3", t1))
	f.gw.OnCall = func(op string) {
		if op == remotetest.OpUpsert {
			f.online.Store(false)
		}
	}

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, 1, res.Synced)

	list := f.entries(t)
	require.Len(t, list, 2)
	for _, e := range list {
		assert.Equal(t, queue.StatusPending, e.Status)
		assert.Zero(t, e.RetryCount)
	}
	for _, id := range []string{"v1", "v2", "v3"} {
		r := f.local(t, models.Vehicles, id)
		require.NotNil(t, r)
		assert.Equal(t, "Volvo", r.String("make"))
	}
}

func TestDrain_OfflineBeforeStartTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.write(t, models.Vehicles, vehicle("v1", t1))
	f.online.Store(false)

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Zero(t, res.Attempted)
	assert.Zero(t, f.gw.Calls(remotetest.OpSelect))
}

func TestDrain_LaterLocalWriteNotOverwritten(t *testing.T) {
	f := newFixture(t)
	f.gw.Seed(models.Services, service("s1", t2, "remote", 50))
	f.write(t, models.Services, service("s1", t1, "first", 40))
	later := service("s1", now.Add(time.Hour), "second", 45)
	f.write(t, models.Services, later)

	// only the first entry runs: the pass goes offline after it
	f.gw.OnCall = func(op string) {
		if op == remotetest.OpUpsert {
			f.online.Store(false)
		}
	}
	_, err := f.engine.Drain(context.Background(), f.engine.Config().Background())
	require.NoError(t, err)

	got := f.local(t, models.Services, "s1")
	assert.Equal(t, "second", got.String("description"))
	assert.True(t, got.UpdatedAt.Equal(later.UpdatedAt))
	assert.Len(t, f.entries(t), 1)
}

func TestDrain_RejectedMarkedOnce(t *testing.T) {
	f := newFixture(t)
	f.write(t, models.Vehicles, vehicle("v1", t1))
	f.gw.FailNext(remotetest.OpUpsert, remoteRejected())

	res, err := f.engine.Drain(context.Background(), f.engine.Config().Manual())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, f.gw.Calls(remotetest.OpUpsert))
	list := f.entries(t)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].RetryCount)
}

func TestDrain_RejectedCountsTowardExhaustion(t *testing.T) {
	f := newFixture(t)
	f.write(t, models.Vehicles, vehicle("v1", t1))
	f.gw.FailAlways(remotetest.OpUpsert, remoteRejected())
	bg := f.engine.Config().Background()

	for i := 1; i < f.engine.Config().ExhaustAfter; i++ {
		res, err := f.engine.Drain(context.Background(), bg)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		assert.Zero(t, res.Exhausted, "pass %d", i)
	}

	res, err := f.engine.Drain(context.Background(), bg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Exhausted)

	list := f.entries(t)
	require.Len(t, list, 1)
	assert.Equal(t, queue.StatusExhausted, list[0].Status)
	assert.Equal(t, f.engine.Config().ExhaustAfter, f.gw.Calls(remotetest.OpUpsert))
}
