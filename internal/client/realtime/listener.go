// Package realtime applies change events pushed by the gateway to the local
// store. Events for records with queued local edits are dropped; the local
// edit is pushed later and reconciliation settles the final state.
package realtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/garagekeeper/internal/client/remote"
	"github.com/dmitrijs2005/garagekeeper/internal/client/syncer"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// OnlineSource is the part of the connectivity monitor the listener needs.
type OnlineSource interface {
	IsOnline() bool
	Subscribe(fn func(online bool))
}

// Session is the part of the auth collaborator the listener needs. A
// rejected subscription invalidates it, and the listener stays idle until
// it is renewed.
type Session interface {
	Valid() bool
	Invalidate(reason error)
	OnRenew(fn func())
}

var errStreamClosed = errors.New("subscription closed")

type Listener struct {
	db       *sql.DB
	gateway  remote.Gateway
	online   OnlineSource
	session  Session
	tables   []models.Collection
	logger   logging.Logger
	minDelay time.Duration
	maxDelay time.Duration
}

func NewListener(db *sql.DB, gw remote.Gateway, online OnlineSource, s Session, logger logging.Logger) *Listener {
	return &Listener{
		db:       db,
		gateway:  gw,
		online:   online,
		session:  s,
		tables:   models.Collections,
		logger:   logger.With("module", "realtime"),
		minDelay: time.Second,
		maxDelay: time.Minute,
	}
}

// SetBackoff bounds the delay between resubscription attempts.
func (l *Listener) SetBackoff(first, limit time.Duration) {
	l.minDelay, l.maxDelay = first, limit
}

// Handle applies one event. It reports whether the local store changed.
func (l *Listener) Handle(ctx context.Context, ev models.ChangeEvent) (bool, error) {
	id := ev.RecordID()
	if id == "" {
		return false, fmt.Errorf("%s event on %s without a record", ev.Type, ev.Table)
	}

	var rec *models.Record
	switch ev.Type {
	case models.EventDelete:
	case models.EventInsert, models.EventUpdate:
		if ev.After == nil {
			return false, fmt.Errorf("%s event for %s without a new value", ev.Type, id)
		}
		rec = ev.After
	default:
		return false, fmt.Errorf("unknown event type %q", ev.Type)
	}

	return syncer.ApplyRemote(ctx, l.db, ev.Table, id, rec)
}

func (l *Listener) backoff() retry.Backoff {
	return retry.WithCappedDuration(l.maxDelay, retry.NewExponential(l.minDelay))
}

// Run keeps a subscription open while online and the session is valid,
// until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	changes := make(chan struct{}, 1)
	wake := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	l.online.Subscribe(func(bool) { wake() })
	l.session.OnRenew(wake)

	b := l.backoff()
	for {
		if ctx.Err() != nil {
			return
		}
		if !l.online.IsOnline() || !l.session.Valid() {
			select {
			case <-ctx.Done():
				return
			case <-changes:
			}
			continue
		}

		subscribed, err := l.consume(ctx, changes)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			b = l.backoff()
		}
		if err == nil {
			continue
		}
		if remote.IsKind(err, remote.KindAuth) {
			l.logger.Warn(ctx, "subscription rejected, waiting for a new session", "error", err)
			l.session.Invalidate(err)
			continue
		}

		d, _ := b.Next()
		l.logger.Warn(ctx, "subscription lost", "error", err, "retry_in", d)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		case <-changes:
		}
	}
}

// consume holds one subscription. It returns nil when the subscription was
// torn down because connectivity went away.
func (l *Listener) consume(ctx context.Context, changes <-chan struct{}) (bool, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := l.gateway.Subscribe(sctx, l.tables)
	if err != nil {
		return false, err
	}
	l.logger.Debug(ctx, "subscribed", "tables", l.tables)

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-changes:
			if !l.online.IsOnline() {
				l.logger.Debug(ctx, "offline, dropping subscription")
				return true, nil
			}
		case ev, ok := <-events:
			if !ok {
				return true, errStreamClosed
			}
			applied, err := l.Handle(ctx, ev)
			if err != nil {
				l.logger.Error(ctx, "failed to apply remote change", "table", ev.Table, "type", ev.Type, "error", err)
				continue
			}
			l.logger.Debug(ctx, "remote change", "table", ev.Table, "type", ev.Type, "record", ev.RecordID(), "applied", applied)
		}
	}
}
