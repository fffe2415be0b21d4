package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/garagekeeper/internal/client/queue"
	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/client/syncer"
)

type ServiceStats struct {
	TotalCost     float64
	TotalServices int
}

type VehicleStats struct {
	TotalCost    float64
	ServiceCount int
}

// SyncStatus is what the UI renders next to the data.
type SyncStatus struct {
	IsOnline        bool
	IsSyncing       bool
	PendingCount    int
	FailedCount     int
	ExhaustedCount  int
	HasErrors       bool
	LastSyncAttempt time.Time
	LastError       string
}

func (g *Garage) GetTotalServiceStats(ctx context.Context) (*ServiceStats, error) {
	all, err := g.GetServices(ctx)
	if err != nil {
		return nil, err
	}
	st := &ServiceStats{TotalServices: len(all)}
	for _, s := range all {
		st.TotalCost += s.Cost
	}
	return st, nil
}

func (g *Garage) GetVehicleStats(ctx context.Context, vehicleID string) (*VehicleStats, error) {
	list, err := g.GetVehicleServices(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	st := &VehicleStats{ServiceCount: len(list)}
	for _, s := range list {
		st.TotalCost += s.Cost
	}
	return st, nil
}

// GetSyncStatus reads queue counters and the last pass outcome. PendingCount
// includes failed and exhausted entries; they are still waiting to sync.
func (g *Garage) GetSyncStatus(ctx context.Context) (*SyncStatus, error) {
	stats, err := queue.NewRepository(g.db).Stats(ctx)
	if err != nil {
		return nil, err
	}

	meta := store.NewMetadataRepository(g.db)
	last, err := meta.GetTime(ctx, store.KeyLastSyncAttempt)
	if err != nil {
		return nil, err
	}
	lastErr, err := meta.Get(ctx, store.KeyLastSyncError)
	if err != nil {
		return nil, err
	}

	return &SyncStatus{
		IsOnline:        g.scheduler.IsOnline(),
		IsSyncing:       g.scheduler.Syncing(),
		PendingCount:    stats.Total(),
		FailedCount:     stats.Failed,
		ExhaustedCount:  stats.Exhausted,
		HasErrors:       stats.Failed+stats.Exhausted > 0,
		LastSyncAttempt: last,
		LastError:       string(lastErr),
	}, nil
}

// ForceSyncWithServer runs a manual pass. Exhausted entries get a new round
// of attempts. Returns common.ErrOffline while offline.
func (g *Garage) ForceSyncWithServer(ctx context.Context) (*syncer.Result, error) {
	return g.scheduler.SyncNow(ctx)
}
