package syncer

import (
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

// MergePolicy resolves an upsert conflict field by field. The remote value
// wins for every field except the locally authoritative ones, which keep a
// differing local value.
type MergePolicy struct {
	authoritative map[models.Collection]map[string]struct{}
}

// DefaultAuthoritativeFields are the free-text and cost fields a user edits
// by hand and expects to survive a concurrent edit on another device.
var DefaultAuthoritativeFields = map[models.Collection][]string{
	models.Vehicles: {"nickname", "notes"},
	models.Services: {"description", "cost"},
}

func NewMergePolicy(fields map[models.Collection][]string) *MergePolicy {
	p := &MergePolicy{authoritative: make(map[models.Collection]map[string]struct{}, len(fields))}
	for c, names := range fields {
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		p.authoritative[c] = set
	}
	return p
}

func DefaultMergePolicy() *MergePolicy {
	return NewMergePolicy(DefaultAuthoritativeFields)
}

// IsAuthoritative reports whether field keeps its local value for c.
func (p *MergePolicy) IsAuthoritative(c models.Collection, field string) bool {
	_, ok := p.authoritative[c][field]
	return ok
}

// Merge builds the record written back both locally and remotely after a
// conflict. Its updated_at is now, or just past the remote clock if now is
// not later.
func (p *MergePolicy) Merge(c models.Collection, local, remote *models.Record, now time.Time) *models.Record {
	out := remote.Clone()
	out.ID = local.ID
	if out.UserID == "" {
		out.UserID = local.UserID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}

	for field := range p.authoritative[c] {
		lv, ok := local.Fields[field]
		if !ok {
			continue
		}
		if rv, exists := remote.Fields[field]; exists && cmp.Equal(lv, rv) {
			continue
		}
		out.Fields[field] = lv
	}

	out.UpdatedAt = timex.Normalize(now)
	if !out.UpdatedAt.After(remote.UpdatedAt) {
		out.UpdatedAt = remote.UpdatedAt.Add(timex.Precision)
	}
	return out
}
