package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
)

// byDateDesc orders service records newest first. Records on the same date
// keep creation order, newest first.
func byDateDesc(s []*models.ServiceRecord) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Date != s[j].Date {
			return s[i].Date > s[j].Date
		}
		return s[i].CreatedAt.After(s[j].CreatedAt)
	})
}

func (g *Garage) GetServices(ctx context.Context) ([]*models.ServiceRecord, error) {
	records, err := g.list(ctx, models.Services)
	if err != nil {
		return nil, err
	}
	out, err := decodeAll[models.ServiceRecord](records)
	if err != nil {
		return nil, err
	}
	byDateDesc(out)
	return out, nil
}

func (g *Garage) GetService(ctx context.Context, id string) (*models.ServiceRecord, error) {
	var s models.ServiceRecord
	if err := g.get(ctx, models.Services, id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetVehicleServices returns the service history of one vehicle.
func (g *Garage) GetVehicleServices(ctx context.Context, vehicleID string) ([]*models.ServiceRecord, error) {
	records, err := store.NewRecordRepository(g.db).GetByIndex(ctx, models.Services, models.IndexVehicleID, vehicleID)
	if err != nil {
		return nil, err
	}
	out, err := decodeAll[models.ServiceRecord](records)
	if err != nil {
		return nil, err
	}
	byDateDesc(out)
	return out, nil
}

func (g *Garage) SaveService(ctx context.Context, s *models.ServiceRecord) error {
	if s.VehicleID == "" {
		return fmt.Errorf("service record without a vehicle")
	}
	s.ID = newID(s.ID)
	rec, err := models.NewRecord(s)
	if err != nil {
		return err
	}
	if err := g.save(ctx, models.Services, rec); err != nil {
		return err
	}
	return rec.Decode(s)
}

func (g *Garage) DeleteService(ctx context.Context, id string) error {
	err := dbx.WithTx(ctx, g.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := store.NewRecordRepository(tx).GetByID(ctx, models.Services, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return common.ErrorNotFound
		}
		return remove(ctx, tx, models.Services, id)
	})
	if err != nil {
		return fmt.Errorf("delete service %s: %w", id, err)
	}

	g.scheduler.RequestSync()
	return nil
}
