// Package syncer reconciles the local store and the mutation queue with the
// remote gateway.
//
// A sync pass has two phases. Drain replays queue entries in creation order,
// resolving conflicts with a MergePolicy. Reconcile then pulls the user's
// full remote record set and applies newer copies, which is how changes made
// on other devices arrive when no live subscription delivered them.
//
// Both phases can be called directly; the connectivity monitor schedules
// them in production.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/garagekeeper/internal/client/queue"
	"github.com/dmitrijs2005/garagekeeper/internal/client/remote"
	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

// Session is the engine's view of the auth collaborator.
type Session interface {
	UserID() string
	Valid() bool
	Invalidate(reason error)
}

// Config bounds retries.
type Config struct {
	// BaseDelay is the first backoff delay inside a pass; it doubles per retry.
	BaseDelay time.Duration
	// BackgroundAttempts is the per-pass attempt ceiling for timer and
	// write-triggered passes.
	BackgroundAttempts int
	// ManualAttempts is the per-pass attempt ceiling for "sync now".
	ManualAttempts int
	// ExhaustAfter is the number of consecutive failures after which an
	// entry stops being retried automatically.
	ExhaustAfter int
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:          500 * time.Millisecond,
		BackgroundAttempts: 3,
		ManualAttempts:     5,
		ExhaustAfter:       5,
	}
}

// Options shape one pass.
type Options struct {
	MaxAttempts int
	// Revive returns exhausted entries to the retry cycle before draining.
	Revive bool
}

func (c Config) Background() Options { return Options{MaxAttempts: c.BackgroundAttempts} }
func (c Config) Manual() Options     { return Options{MaxAttempts: c.ManualAttempts, Revive: true} }

// Result summarises a pass.
type Result struct {
	Attempted int
	Synced    int
	Merged    int
	Failed    int
	Exhausted int
	Skipped   int
	Revived   int
	Pulled    int
	Removed   int
	// Aborted is set when the pass stopped early (offline or auth failure).
	Aborted bool
}

var (
	errOffline   = errors.New("went offline")
	errExhausted = errors.New("retries exhausted")
)

type Engine struct {
	db      *sql.DB
	gateway remote.Gateway
	session Session
	policy  *MergePolicy
	cfg     Config
	online  func() bool
	now     timex.Clock
	logger  logging.Logger
}

func NewEngine(db *sql.DB, gw remote.Gateway, s Session, policy *MergePolicy, cfg Config, logger logging.Logger) *Engine {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	return &Engine{
		db:      db,
		gateway: gw,
		session: s,
		policy:  policy,
		cfg:     cfg,
		online:  func() bool { return true },
		now:     timex.Now,
		logger:  logger.With("module", "syncer"),
	}
}

// SetOnlineCheck installs the predicate consulted before every entry and
// every attempt. The connectivity monitor passes its IsOnline.
func (e *Engine) SetOnlineCheck(fn func() bool) { e.online = fn }

// SetClock replaces the time source.
func (e *Engine) SetClock(c timex.Clock) { e.now = c }

func (e *Engine) Config() Config { return e.cfg }

// inTx runs fn in a transaction and classifies any failure as a storage error.
func (e *Engine) inTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	err := dbx.WithTx(ctx, e.db, nil, fn)
	if err != nil && !errors.Is(err, common.ErrStorage) {
		return fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	return err
}

// Sync runs a drain pass followed, unless the drain was aborted or
// connectivity is gone, by a reconciliation pull. The attempt time and outcome are recorded in the
// metadata table for status reporting.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	if !e.session.Valid() {
		return &Result{Aborted: true}, common.ErrAuth
	}

	meta := store.NewMetadataRepository(e.db)
	if err := meta.SetTime(ctx, store.KeyLastSyncAttempt, e.now()); err != nil {
		return nil, err
	}

	res, err := e.Drain(ctx, opts)
	if err == nil && !res.Aborted && !e.online() {
		res.Aborted = true
	}
	if err == nil && !res.Aborted {
		var pulled, removed int
		pulled, removed, err = e.Reconcile(ctx)
		res.Pulled, res.Removed = pulled, removed
	}

	if err != nil {
		_ = meta.Set(ctx, store.KeyLastSyncError, []byte(err.Error()))
	} else {
		_ = meta.Delete(ctx, store.KeyLastSyncError)
	}

	e.logger.Info(ctx, "sync pass finished",
		"attempted", res.Attempted, "synced", res.Synced, "merged", res.Merged,
		"failed", res.Failed, "exhausted", res.Exhausted, "pulled", res.Pulled,
		"removed", res.Removed, "aborted", res.Aborted, "error", err)
	return res, err
}

// Drain replays queue entries in creation order.
//
// Each entry gets up to opts.MaxAttempts attempts with exponential backoff.
// Every failed attempt is recorded on the entry. An auth failure invalidates
// the session and ends the pass with common.ErrAuth. Losing connectivity
// ends the pass quietly and leaves the remaining entries untouched.
func (e *Engine) Drain(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}
	q := queue.NewRepository(e.db)

	if opts.Revive {
		n, err := q.Revive(ctx)
		if err != nil {
			return res, err
		}
		res.Revived = n
	}

	entries, err := q.List(ctx)
	if err != nil {
		return res, err
	}

	for _, entry := range entries {
		if entry.Status == queue.StatusExhausted {
			res.Skipped++
			continue
		}
		if !e.online() {
			res.Aborted = true
			break
		}

		res.Attempted++
		merged, err := e.process(ctx, entry, opts.MaxAttempts)

		switch {
		case err == nil:
			res.Synced++
			if merged {
				res.Merged++
			}
		case errors.Is(err, errOffline):
			res.Attempted--
			res.Aborted = true
			return res, nil
		case errors.Is(err, common.ErrAuth):
			res.Aborted = true
			return res, err
		case ctx.Err() != nil:
			return res, ctx.Err()
		case errors.Is(err, errExhausted):
			res.Failed++
			res.Exhausted++
			e.logger.Warn(ctx, "queue entry exhausted", "entry", entry.ID, "record", entry.RecordID, "error", err)
		default:
			res.Failed++
			e.logger.Warn(ctx, "queue entry failed", "entry", entry.ID, "record", entry.RecordID, "error", err)
		}
	}
	return res, nil
}

func (e *Engine) process(ctx context.Context, entry *queue.Entry, maxAttempts int) (bool, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewExponential(e.cfg.BaseDelay))

	var merged bool
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !e.online() {
			return errOffline
		}

		m, err := e.apply(ctx, entry)
		if err == nil {
			merged = m
			return nil
		}
		if errors.Is(err, common.ErrStorage) {
			return err
		}

		switch remote.KindOf(err) {
		case remote.KindAuth:
			e.session.Invalidate(err)
			return fmt.Errorf("%w: %w", common.ErrAuth, err)
		case remote.KindRejected:
			status, mErr := e.markFailed(ctx, entry, err)
			if mErr != nil {
				return mErr
			}
			if status == queue.StatusExhausted {
				return fmt.Errorf("%w: %w", errExhausted, err)
			}
			return err
		case remote.KindTransient, remote.KindNotFound:
			status, mErr := e.markFailed(ctx, entry, err)
			if mErr != nil {
				return mErr
			}
			if status == queue.StatusExhausted {
				return fmt.Errorf("%w: %w", errExhausted, err)
			}
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	return merged, err
}

func (e *Engine) markFailed(ctx context.Context, entry *queue.Entry, cause error) (queue.Status, error) {
	return queue.NewRepository(e.db).MarkFailed(ctx, entry.ID, e.now(), cause, e.cfg.ExhaustAfter)
}

func (e *Engine) apply(ctx context.Context, entry *queue.Entry) (bool, error) {
	switch entry.Operation {
	case queue.OpUpsert:
		return e.pushUpsert(ctx, entry)
	case queue.OpDelete:
		return false, e.pushDelete(ctx, entry)
	default:
		return false, remote.NewError(remote.KindRejected, string(entry.Operation), fmt.Errorf("unknown operation"))
	}
}

func (e *Engine) pushUpsert(ctx context.Context, entry *queue.Entry) (bool, error) {
	local := entry.Payload

	current, err := e.gateway.Select(ctx, entry.Collection, remote.Filter{ID: entry.RecordID})
	if err != nil {
		return false, err
	}

	outgoing, merged := local, false
	if len(current) > 0 && current[0].UpdatedAt.After(local.UpdatedAt) {
		outgoing = e.policy.Merge(entry.Collection, local, current[0], e.now())
		merged = true
		e.logger.Info(ctx, "merged conflicting record",
			"collection", entry.Collection, "record", entry.RecordID,
			"local_updated_at", local.UpdatedAt, "remote_updated_at", current[0].UpdatedAt)
	}

	canonical, err := e.gateway.Upsert(ctx, entry.Collection, outgoing)
	if err != nil {
		return false, err
	}

	err = e.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		q := queue.NewRepository(tx)
		if err := q.Remove(ctx, entry.ID); err != nil {
			return err
		}
		// A later local write is still queued; it must not be overwritten.
		pending, err := q.HasEntries(ctx, entry.RecordID)
		if err != nil || pending {
			return err
		}
		return store.NewRecordRepository(tx).Put(ctx, entry.Collection, canonical)
	})
	return merged, err
}

func (e *Engine) pushDelete(ctx context.Context, entry *queue.Entry) error {
	current, err := e.gateway.Select(ctx, entry.Collection, remote.Filter{ID: entry.RecordID})
	if err != nil {
		return err
	}

	if len(current) > 0 {
		err := e.gateway.Delete(ctx, entry.Collection, entry.RecordID)
		if err != nil && !remote.IsKind(err, remote.KindNotFound) {
			return err
		}
	}

	return e.inTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return queue.NewRepository(tx).Remove(ctx, entry.ID)
	})
}
