package models

import "github.com/dmitrijs2005/garagekeeper/internal/common"

// Collection names a record kind. The same names are used for local
// collections, remote tables and change-event tables.
type Collection string

const (
	Vehicles Collection = "vehicles"
	Services Collection = "services"
)

// Collections lists every known record kind in a stable order.
var Collections = []Collection{Vehicles, Services}

// Index names.
const (
	IndexUserID    = "user_id"
	IndexUpdatedAt = "updated_at"
	IndexVehicleID = "vehicle_id"
)

var indexes = map[Collection][]string{
	Vehicles: {IndexUserID, IndexUpdatedAt},
	Services: {IndexUserID, IndexVehicleID, IndexUpdatedAt},
}

// ParseCollection validates a table name coming from outside the process.
func ParseCollection(name string) (Collection, error) {
	c := Collection(name)
	if _, ok := indexes[c]; !ok {
		return "", common.ErrUnknownCollection
	}
	return c, nil
}

// HasIndex reports whether the collection defines the secondary index.
func (c Collection) HasIndex(name string) bool {
	for _, idx := range indexes[c] {
		if idx == name {
			return true
		}
	}
	return false
}

func (c Collection) String() string { return string(c) }
