// Package connectivity tracks whether the gateway is reachable and schedules
// sync passes: once on every transition to online, periodically while
// online, after local writes and on explicit request.
package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/garagekeeper/internal/client/syncer"
	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
)

// Syncer runs one sync pass. *syncer.Engine implements it.
type Syncer interface {
	Sync(ctx context.Context, opts syncer.Options) (*syncer.Result, error)
	Config() syncer.Config
}

// Pinger checks gateway reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

const DefaultSyncInterval = 5 * time.Minute

type Monitor struct {
	syncer   Syncer
	interval time.Duration
	logger   logging.Logger

	online  atomic.Bool
	syncing atomic.Bool
	passMu  sync.Mutex
	// reconnects counts transitions to online; Run compares it with the
	// value it last acted on, so flaps that coalesce into one wakeup are
	// not lost.
	reconnects atomic.Uint64

	changes  chan struct{}
	requests chan struct{}

	mu        sync.Mutex
	listeners []func(bool)
}

// NewMonitor returns a monitor that starts offline. interval is the period
// of background passes while online.
func NewMonitor(s Syncer, interval time.Duration, logger logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Monitor{
		syncer:   s,
		interval: interval,
		logger:   logger.With("module", "connectivity"),
		changes:  make(chan struct{}, 1),
		requests: make(chan struct{}, 1),
	}
}

func (m *Monitor) IsOnline() bool { return m.online.Load() }

// Syncing reports whether a pass is running.
func (m *Monitor) Syncing() bool { return m.syncing.Load() }

// SetOnline records the connectivity state. Listeners are called
// synchronously, and only when the state actually changes.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	if online {
		m.reconnects.Add(1)
	}
	m.logger.Info(context.Background(), "connectivity changed", "online", online)

	m.mu.Lock()
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}

	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// Subscribe registers fn for connectivity transitions.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// RequestSync asks Run for a background pass. It never blocks, and requests
// made while one is already waiting are coalesced.
func (m *Monitor) RequestSync() {
	select {
	case m.requests <- struct{}{}:
	default:
	}
}

// SyncNow runs a manual pass, which also revives exhausted entries.
func (m *Monitor) SyncNow(ctx context.Context) (*syncer.Result, error) {
	if !m.IsOnline() {
		return nil, common.ErrOffline
	}
	return m.pass(ctx, m.syncer.Config().Manual())
}

func (m *Monitor) pass(ctx context.Context, opts syncer.Options) (*syncer.Result, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.syncing.Store(true)
	defer m.syncing.Store(false)

	return m.syncer.Sync(ctx, opts)
}

func (m *Monitor) backgroundPass(ctx context.Context, revive bool) {
	opts := m.syncer.Config().Background()
	opts.Revive = revive

	_, err := m.pass(ctx, opts)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, common.ErrAuth):
		m.logger.Warn(ctx, "sync paused until the session is renewed", "error", err)
	default:
		m.logger.Error(ctx, "background sync failed", "error", err)
	}
}

// Run schedules passes until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
		seen   uint64
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	// pick up a state set before Run started
	select {
	case m.changes <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-m.changes:
			online := m.IsOnline()
			n := m.reconnects.Load()
			switch {
			case online && n != seen:
				seen = n
				if ticker == nil {
					ticker = time.NewTicker(m.interval)
					tick = ticker.C
				} else {
					ticker.Reset(m.interval)
				}
				m.backgroundPass(ctx, true)
			case !online && ticker != nil:
				ticker.Stop()
				ticker, tick = nil, nil
			}

		case <-tick:
			if m.IsOnline() {
				m.backgroundPass(ctx, false)
			}

		case <-m.requests:
			if m.IsOnline() {
				m.backgroundPass(ctx, false)
			}
		}
	}
}

// Probe pings the gateway every interval and feeds the result to SetOnline.
// The first probe runs immediately.
func (m *Monitor) Probe(ctx context.Context, p Pinger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := p.Ping(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.logger.Debug(ctx, "gateway ping failed", "error", err)
		}
		m.SetOnline(err == nil)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
