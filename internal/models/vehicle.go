package models

import "time"

type OdometerUnit string

const (
	Miles OdometerUnit = "miles"
	Km    OdometerUnit = "km"
)

// Vehicle is the typed view of a record in the vehicles collection.
type Vehicle struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"user_id"`
	Make               string       `json:"make"`
	Model              string       `json:"model"`
	Year               int          `json:"year,omitempty"`
	Nickname           string       `json:"nickname,omitempty"`
	VIN                string       `json:"vin,omitempty"`
	Colour             string       `json:"colour,omitempty"`
	RegistrationNumber string       `json:"registration_number,omitempty"`
	PurchaseDate       string       `json:"purchase_date,omitempty"`
	PurchasePrice      *float64     `json:"purchase_price,omitempty"`
	OdometerReading    *float64     `json:"odometer_reading,omitempty"`
	OdometerUnit       OdometerUnit `json:"odometer_unit,omitempty"`
	Notes              string       `json:"notes,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// DisplayName prefers the nickname.
func (v *Vehicle) DisplayName() string {
	if v.Nickname != "" {
		return v.Nickname
	}
	return v.Make + " " + v.Model
}
