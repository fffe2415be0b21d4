// Package remotetest provides an in-memory remote.Gateway with fault
// injection. The client runs against it in offline demo mode, and the
// engine tests use it to script failures.
package remotetest

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/garagekeeper/internal/client/remote"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// Operation names used by FailNext, FailAlways and Calls.
const (
	OpSelect    = "select"
	OpUpsert    = "upsert"
	OpDelete    = "delete"
	OpSubscribe = "subscribe"
	OpPing      = "ping"
)

type subscriber struct {
	tables map[models.Collection]bool
	ch     chan models.ChangeEvent
}

// Gateway keeps tables in memory and behaves like the real server: upserts
// keep the stored created_at and every mutation is broadcast to subscribers.
type Gateway struct {
	mu      sync.Mutex
	tables  map[models.Collection]map[string]*models.Record
	next    map[string][]error
	always  map[string]error
	calls   map[string]int
	subs    map[int]*subscriber
	nextSub int

	// OnCall, when set, runs before every operation outside the lock.
	OnCall func(op string)
}

func New() *Gateway {
	return &Gateway{
		tables: map[models.Collection]map[string]*models.Record{},
		next:   map[string][]error{},
		always: map[string]error{},
		calls:  map[string]int{},
		subs:   map[int]*subscriber{},
	}
}

var _ remote.Gateway = (*Gateway)(nil)

// Seed stores records without emitting events.
func (g *Gateway) Seed(table models.Collection, records ...*models.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range records {
		g.table(table)[r.ID] = r.Clone()
	}
}

// Get returns a copy of the stored record or nil.
func (g *Gateway) Get(table models.Collection, id string) *models.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.table(table)[id]; ok {
		return r.Clone()
	}
	return nil
}

// Len returns the number of records in table.
func (g *Gateway) Len(table models.Collection) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.table(table))
}

// FailNext queues errors returned by the next calls of op, one per call.
func (g *Gateway) FailNext(op string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next[op] = append(g.next[op], errs...)
}

// FailAlways makes every call of op fail with err until cleared with nil.
func (g *Gateway) FailAlways(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.always, op)
		return
	}
	g.always[op] = err
}

// Calls returns how many times op was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Subscribers returns the number of live subscriptions.
func (g *Gateway) Subscribers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Emit broadcasts ev as if another client had changed the record.
func (g *Gateway) Emit(ev models.ChangeEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcast(ev)
}

// Transient, Auth and NotFound are ready-made gateway errors.
func Transient(op string) error { return remote.NewError(remote.KindTransient, op, errors.New("connection reset")) }
func Auth(op string) error      { return remote.NewError(remote.KindAuth, op, errors.New("token expired")) }
func NotFound(op string) error  { return remote.NewError(remote.KindNotFound, op, errors.New("no such record")) }

func (g *Gateway) table(t models.Collection) map[string]*models.Record {
	tbl, ok := g.tables[t]
	if !ok {
		tbl = map[string]*models.Record{}
		g.tables[t] = tbl
	}
	return tbl
}

func (g *Gateway) enter(op string) error {
	if g.OnCall != nil {
		g.OnCall(op)
	}
	g.mu.Lock()
	g.calls[op]++
	return g.faultLocked(op)
}

func (g *Gateway) faultLocked(op string) error {
	if q := g.next[op]; len(q) > 0 {
		g.next[op] = q[1:]
		return q[0]
	}
	return g.always[op]
}

func (g *Gateway) broadcast(ev models.ChangeEvent) {
	for _, s := range g.subs {
		if !s.tables[ev.Table] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (g *Gateway) Select(ctx context.Context, table models.Collection, f remote.Filter) ([]*models.Record, error) {
	err := g.enter(OpSelect)
	defer g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*models.Record
	for id, r := range g.table(table) {
		if f.ID != "" && id != f.ID {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func (g *Gateway) Upsert(ctx context.Context, table models.Collection, r *models.Record) (*models.Record, error) {
	err := g.enter(OpUpsert)
	defer g.mu.Unlock()
	if err != nil {
		return nil, err
	}

	stored := r.Clone()
	evType := models.EventInsert
	if prev, ok := g.table(table)[r.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
		evType = models.EventUpdate
	}
	g.table(table)[r.ID] = stored
	g.broadcast(models.ChangeEvent{Table: table, Type: evType, After: stored.Clone()})
	return stored.Clone(), nil
}

func (g *Gateway) Delete(ctx context.Context, table models.Collection, id string) error {
	err := g.enter(OpDelete)
	defer g.mu.Unlock()
	if err != nil {
		return err
	}

	prev, ok := g.table(table)[id]
	if !ok {
		return NotFound(OpDelete)
	}
	delete(g.table(table), id)
	g.broadcast(models.ChangeEvent{Table: table, Type: models.EventDelete, Before: prev.Clone()})
	return nil
}

func (g *Gateway) Subscribe(ctx context.Context, tables []models.Collection) (<-chan models.ChangeEvent, error) {
	err := g.enter(OpSubscribe)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}

	s := &subscriber{tables: map[models.Collection]bool{}, ch: make(chan models.ChangeEvent, 64)}
	for _, t := range tables {
		s.tables[t] = true
	}
	id := g.nextSub
	g.nextSub++
	g.subs[id] = s
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		g.mu.Lock()
		if _, live := g.subs[id]; live {
			delete(g.subs, id)
			close(s.ch)
		}
		g.mu.Unlock()
	}()
	return s.ch, nil
}

// Disconnect closes every live subscription, as a dropped connection would.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, s := range g.subs {
		delete(g.subs, id)
		close(s.ch)
	}
}

func (g *Gateway) Ping(ctx context.Context) error {
	err := g.enter(OpPing)
	g.mu.Unlock()
	return err
}
