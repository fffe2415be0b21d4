package models

import "time"

type ServiceType string

const (
	Maintenance  ServiceType = "maintenance"
	Repair       ServiceType = "repair"
	Restoration  ServiceType = "restoration"
	Modification ServiceType = "modification"
)

// ServiceRecord is the typed view of a record in the services collection.
// Date is a calendar date, "2006-01-02".
type ServiceRecord struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	VehicleID       string      `json:"vehicle_id"`
	Date            string      `json:"date"`
	Description     string      `json:"description"`
	Cost            float64     `json:"cost"`
	OdometerReading *float64    `json:"odometer_reading,omitempty"`
	ServiceType     ServiceType `json:"service_type,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
