// Package services holds the gateway's business rules: ownership checks and
// record validation on top of the PostgreSQL repositories.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/garagekeeper/internal/common"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

// Filter narrows Select. Empty fields do not filter.
type Filter struct {
	ID     string
	UserID string
}

type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	clock       timex.Clock
}

func NewRecordService(db *sql.DB, repomanager repomanager.RepositoryManager) *RecordService {
	return &RecordService{
		db:          db,
		repomanager: repomanager,
		clock:       timex.Now,
	}
}

// SetClock replaces the clock used to stamp records that arrive without
// timestamps.
func (s *RecordService) SetClock(c timex.Clock) {
	s.clock = c
}

// Select returns the caller's records in table that match f. A filter on
// another user's id is refused; an id lookup that matches nothing, or
// matches a record the caller does not own, yields an empty result.
func (s *RecordService) Select(ctx context.Context, userID, table string, f Filter) ([]*models.Record, error) {
	c, err := models.ParseCollection(table)
	if err != nil {
		return nil, err
	}
	if f.UserID != "" && f.UserID != userID {
		return nil, common.ErrorUnauthorized
	}

	repo := s.repomanager.Records(s.db)

	if f.ID == "" {
		return repo.ListByUser(ctx, c, userID)
	}

	r, err := repo.Get(ctx, c, f.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if r.UserID != userID {
		return nil, nil
	}
	return []*models.Record{r}, nil
}

func validate(c models.Collection, r *models.Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", common.ErrInvalidRecord)
	}
	if c == models.Services && r.String(models.IndexVehicleID) == "" {
		return fmt.Errorf("%w: service %s has no vehicle_id", common.ErrInvalidRecord, r.ID)
	}
	return nil
}

// Upsert stores r on behalf of userID and returns the stored copy.
// A record carrying another owner is refused. Missing timestamps are
// stamped with the server clock.
func (s *RecordService) Upsert(ctx context.Context, userID, table string, r *models.Record) (*models.Record, error) {
	c, err := models.ParseCollection(table)
	if err != nil {
		return nil, err
	}
	if err := validate(c, r); err != nil {
		return nil, err
	}

	r = r.Clone()
	switch r.UserID {
	case "":
		r.UserID = userID
	case userID:
	default:
		return nil, common.ErrorUnauthorized
	}

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.clock()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.UpdatedAt
	}

	return s.repomanager.Records(s.db).Upsert(ctx, c, r)
}

// Delete removes the caller's record, or returns common.ErrorNotFound.
func (s *RecordService) Delete(ctx context.Context, userID, table, id string) error {
	c, err := models.ParseCollection(table)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: missing id", common.ErrInvalidRecord)
	}
	return s.repomanager.Records(s.db).Delete(ctx, c, userID, id)
}

// Get returns one record by id regardless of owner. The change hub uses it
// to load the row a notification refers to.
func (s *RecordService) Get(ctx context.Context, c models.Collection, id string) (*models.Record, error) {
	return s.repomanager.Records(s.db).Get(ctx, c, id)
}
