package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

type fakeSource struct {
	mu   sync.Mutex
	rows map[string]*models.Record
	err  error
}

func (f *fakeSource) Get(_ context.Context, _ models.Collection, id string) (*models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r, nil
}

func newTestHub(src RecordSource) *Hub {
	return NewHub("postgres://unused", src, logging.Nop{})
}

func recv(t *testing.T, ch <-chan models.ChangeEvent) models.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return models.ChangeEvent{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan models.ChangeEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHandle_UpdateLoadsRow(t *testing.T) {
	src := &fakeSource{rows: map[string]*models.Record{
		"v1": {ID: "v1", UserID: "u1", Fields: map[string]any{"make": "Volvo"}},
	}}
	h := newTestHub(src)

	mine, cancel := h.Subscribe("u1", []models.Collection{models.Vehicles})
	defer cancel()
	other, cancelOther := h.Subscribe("u2", models.Collections)
	defer cancelOther()
	servicesOnly, cancelServices := h.Subscribe("u1", []models.Collection{models.Services})
	defer cancelServices()

	err := h.handle(context.Background(), `{"table":"vehicles","op":"update","id":"v1","user_id":"u1"}`)
	require.NoError(t, err)

	ev := recv(t, mine)
	assert.Equal(t, models.EventUpdate, ev.Type)
	assert.Equal(t, models.Vehicles, ev.Table)
	require.NotNil(t, ev.After)
	assert.Equal(t, "Volvo", ev.After.Fields["make"])

	assertNoEvent(t, other)
	assertNoEvent(t, servicesOnly)
}

func TestHandle_Delete(t *testing.T) {
	h := newTestHub(&fakeSource{})
	ch, cancel := h.Subscribe("u1", models.Collections)
	defer cancel()

	require.NoError(t, h.handle(context.Background(), `{"table":"services","op":"delete","id":"s1","user_id":"u1"}`))

	ev := recv(t, ch)
	assert.Equal(t, models.EventDelete, ev.Type)
	assert.Equal(t, "s1", ev.RecordID())
	assert.Nil(t, ev.After)
}

func TestHandle_RowGoneBeforeLoad(t *testing.T) {
	h := newTestHub(&fakeSource{})
	ch, cancel := h.Subscribe("u1", models.Collections)
	defer cancel()

	require.NoError(t, h.handle(context.Background(), `{"table":"vehicles","op":"insert","id":"v1","user_id":"u1"}`))
	assertNoEvent(t, ch)
}

func TestHandle_Invalid(t *testing.T) {
	h := newTestHub(&fakeSource{err: errors.New("db is down")})

	for name, raw := range map[string]string{
		"not json":     `{nope`,
		"bad table":    `{"table":"owners","op":"insert","id":"x","user_id":"u1"}`,
		"no owner":     `{"table":"vehicles","op":"insert","id":"x"}`,
		"bad op":       `{"table":"vehicles","op":"truncate","id":"x","user_id":"u1"}`,
		"load failure": `{"table":"vehicles","op":"insert","id":"x","user_id":"u1"}`,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, h.handle(context.Background(), raw))
		})
	}
}

func TestSubscribe_CancelClosesOnce(t *testing.T) {
	h := newTestHub(&fakeSource{})
	ch, cancel := h.Subscribe("u1", models.Collections)
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}

func TestPublish_DropsSlowSubscriber(t *testing.T) {
	h := newTestHub(&fakeSource{})
	ch, cancel := h.Subscribe("u1", models.Collections)
	defer cancel()

	ev := models.ChangeEvent{Table: models.Vehicles, Type: models.EventDelete, Before: &models.Record{ID: "v1"}}
	for i := 0; i <= subscriberBuffer; i++ {
		h.publish(context.Background(), "u1", ev)
	}

	assert.Equal(t, 0, h.Subscribers())
	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
}

type fakeConn struct {
	notes  chan *pgconn.Notification
	closed atomic.Bool
}

func (c *fakeConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case n, ok := <-c.notes:
		if !ok {
			return nil, errors.New("connection reset")
		}
		return n, nil
	}
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

func TestRun_ReconnectsAfterFailure(t *testing.T) {
	h := newTestHub(&fakeSource{})
	h.SetBackoff(time.Millisecond, 5*time.Millisecond)

	first := &fakeConn{notes: make(chan *pgconn.Notification, 1)}
	second := &fakeConn{notes: make(chan *pgconn.Notification, 1)}

	var dials atomic.Int32
	h.connect = func(ctx context.Context) (notificationConn, error) {
		switch dials.Add(1) {
		case 1:
			return nil, errors.New("refused")
		case 2:
			return first, nil
		default:
			return second, nil
		}
	}

	ch, cancel := h.Subscribe("u1", models.Collections)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx)
	}()

	first.notes <- &pgconn.Notification{Channel: Channel, Payload: `{"table":"vehicles","op":"delete","id":"v1","user_id":"u1"}`}
	assert.Equal(t, "v1", recv(t, ch).RecordID())

	close(first.notes)
	second.notes <- &pgconn.Notification{Channel: Channel, Payload: `{"table":"vehicles","op":"delete","id":"v2","user_id":"u1"}`}
	assert.Equal(t, "v2", recv(t, ch).RecordID())
	assert.True(t, first.closed.Load())

	stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.True(t, second.closed.Load())
	assert.EqualValues(t, 3, dials.Load())
}
