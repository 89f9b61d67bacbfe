package model

import (
	"fmt"
	"strings"
)

// Normalize validates every Trip invariant and rewrites the enum, date and
// time fields to canonical form. All offending fields are reported together
// in a *ValidationError wrapping ErrValidationFailed.
func (t *Trip) Normalize() error {
	verr := NewValidationError(ErrValidationFailed)

	if t.ID != 0 {
		verr.Add("id", "is assigned by the store and must be empty")
	}

	t.DriverID = strings.TrimSpace(t.DriverID)
	if t.DriverID == "" {
		verr.Add("driver_id", "is required")
	}
	t.DriverName = strings.TrimSpace(t.DriverName)

	normalizePlace(verr, "origin", &t.Origin)
	normalizePlace(verr, "destination", &t.Destination)

	if d, err := ParseDate(t.DepartureDate); err != nil {
		verr.Add("departure_date", err.Error())
	} else {
		t.DepartureDate = d
	}
	if c, err := ParseClock(t.DepartureTime); err != nil {
		verr.Add("departure_time", err.Error())
	} else {
		t.DepartureTime = c
	}

	if vt, err := ParseVehicleType(string(t.VehicleType)); err != nil {
		verr.Add("vehicle_type", "must be one of Economic, Standard, Luxury")
	} else {
		t.VehicleType = vt
	}

	if t.SeatsAvailable < 0 {
		verr.Add("seats_available", fmt.Sprintf("must be >= 0, got %d", t.SeatsAvailable))
	}
	if t.Fare < 0 {
		verr.Add("fare", fmt.Sprintf("must be >= 0, got %d", t.Fare))
	}

	return verr.Err()
}

func normalizePlace(verr *ValidationError, field string, p *Place) {
	p.Label = strings.TrimSpace(p.Label)
	if p.Label == "" {
		verr.Add(field+".label", "is required")
	}
	if !p.Coordinate().Valid() {
		verr.Add(field, fmt.Sprintf("coordinates (%.6f, %.6f) out of range", p.Lat, p.Lon))
	}
}
