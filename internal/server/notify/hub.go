// Package notify turns PostgreSQL NOTIFY messages into per-user change
// events. A trigger on every record table publishes {table, op, id,
// user_id} on the record_changes channel; the Hub loads the row, builds a
// models.ChangeEvent and fans it out to that user's subscribers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// Channel is the NOTIFY channel the record triggers publish on.
const Channel = common.RecordChangesChannel

// subscriberBuffer is how many events a subscriber may lag behind before
// it is dropped.
const subscriberBuffer = 64

// RecordSource loads the row a notification refers to.
type RecordSource interface {
	Get(ctx context.Context, c models.Collection, id string) (*models.Record, error)
}

type notificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type payload struct {
	Table  string `json:"table"`
	Op     string `json:"op"`
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

type subscriber struct {
	userID string
	tables map[models.Collection]bool
	ch     chan models.ChangeEvent
}

type Hub struct {
	source   RecordSource
	logger   logging.Logger
	connect  func(ctx context.Context) (notificationConn, error)
	minDelay time.Duration
	maxDelay time.Duration

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub creates a hub that listens on a dedicated pgx connection to dsn.
func NewHub(dsn string, source RecordSource, logger logging.Logger) *Hub {
	h := &Hub{
		source:   source,
		logger:   logger.With("module", "notify"),
		minDelay: time.Second,
		maxDelay: time.Minute,
		subs:     map[*subscriber]struct{}{},
	}
	h.connect = func(ctx context.Context) (notificationConn, error) {
		return listen(ctx, dsn)
	}
	return h
}

// SetBackoff bounds the delay between reconnection attempts.
func (h *Hub) SetBackoff(first, limit time.Duration) {
	h.minDelay, h.maxDelay = first, limit
}

func listen(ctx context.Context, dsn string) (notificationConn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen: %w", err)
	}
	return conn, nil
}

// Subscribe registers interest in userID's changes to tables. The returned
// channel is closed by cancel, or by the hub when the subscriber falls too
// far behind.
func (h *Hub) Subscribe(userID string, tables []models.Collection) (<-chan models.ChangeEvent, func()) {
	s := &subscriber{
		userID: userID,
		tables: make(map[models.Collection]bool, len(tables)),
		ch:     make(chan models.ChangeEvent, subscriberBuffer),
	}
	for _, t := range tables {
		s.tables[t] = true
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	return s.ch, func() { h.drop(s) }
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) publish(ctx context.Context, userID string, ev models.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.userID != userID || !s.tables[ev.Table] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// A closed stream makes the client resubscribe and reconcile.
			h.logger.Warn(ctx, "dropping slow subscriber", "user_id", userID)
			delete(h.subs, s)
			close(s.ch)
		}
	}
}

// handle converts one notification payload into an event and publishes it.
func (h *Hub) handle(ctx context.Context, raw string) error {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	c, err := models.ParseCollection(p.Table)
	if err != nil {
		return fmt.Errorf("notification for %q: %w", p.Table, err)
	}
	if p.ID == "" || p.UserID == "" {
		return fmt.Errorf("notification on %s without id or owner", c)
	}

	ev := models.ChangeEvent{Table: c, Type: models.EventType(p.Op)}
	switch ev.Type {
	case models.EventDelete:
		ev.Before = &models.Record{ID: p.ID, UserID: p.UserID, Fields: map[string]any{}}
	case models.EventInsert, models.EventUpdate:
		r, err := h.source.Get(ctx, c, p.ID)
		if errors.Is(err, common.ErrorNotFound) {
			// Deleted before we got to it; the delete notification follows.
			return nil
		}
		if err != nil {
			return fmt.Errorf("load %s %s: %w", c, p.ID, err)
		}
		ev.After = r
	default:
		return fmt.Errorf("unknown operation %q", p.Op)
	}

	h.publish(ctx, p.UserID, ev)
	return nil
}

func (h *Hub) backoff() retry.Backoff {
	return retry.WithCappedDuration(h.maxDelay, retry.NewExponential(h.minDelay))
}

// Run listens until ctx is cancelled, reconnecting with capped exponential
// backoff whenever the connection fails.
func (h *Hub) Run(ctx context.Context) {
	b := h.backoff()
	for {
		connected, err := h.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b = h.backoff()
		}

		d, _ := b.Next()
		h.logger.Warn(ctx, "change listener disconnected", "error", err, "retry_in", d)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

// consume holds one LISTEN connection until it fails. It reports whether
// the connection was established.
func (h *Hub) consume(ctx context.Context) (bool, error) {
	conn, err := h.connect(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	h.logger.Info(ctx, "listening for record changes", "channel", Channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		if err := h.handle(ctx, n.Payload); err != nil {
			h.logger.Warn(ctx, "skipping notification", "error", err)
		}
	}
}
