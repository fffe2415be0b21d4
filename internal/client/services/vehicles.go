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

// GetVehicles returns the current user's vehicles ordered by display name.
func (g *Garage) GetVehicles(ctx context.Context) ([]*models.Vehicle, error) {
	records, err := g.list(ctx, models.Vehicles)
	if err != nil {
		return nil, err
	}
	out, err := decodeAll[models.Vehicle](records)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayName() < out[j].DisplayName() })
	return out, nil
}

// GetVehicle returns common.ErrorNotFound for unknown ids.
func (g *Garage) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	var v models.Vehicle
	if err := g.get(ctx, models.Vehicles, id, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveVehicle creates or replaces v. The id, owner and timestamps are
// assigned here and written back into v.
func (g *Garage) SaveVehicle(ctx context.Context, v *models.Vehicle) error {
	v.ID = newID(v.ID)
	rec, err := models.NewRecord(v)
	if err != nil {
		return err
	}
	if err := g.save(ctx, models.Vehicles, rec); err != nil {
		return err
	}
	return rec.Decode(v)
}

// DeleteVehicle removes the vehicle. With cascade its service records are
// removed too, one queued delete per record, in the same transaction.
func (g *Garage) DeleteVehicle(ctx context.Context, id string, cascade bool) error {
	err := dbx.WithTx(ctx, g.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		records := store.NewRecordRepository(tx)

		existing, err := records.GetByID(ctx, models.Vehicles, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return common.ErrorNotFound
		}

		if cascade {
			children, err := records.GetByIndex(ctx, models.Services, models.IndexVehicleID, id)
			if err != nil {
				return err
			}
			for _, s := range children {
				if err := remove(ctx, tx, models.Services, s.ID); err != nil {
					return err
				}
			}
		}
		return remove(ctx, tx, models.Vehicles, id)
	})
	if err != nil {
		return fmt.Errorf("delete vehicle %s: %w", id, err)
	}

	g.scheduler.RequestSync()
	return nil
}
