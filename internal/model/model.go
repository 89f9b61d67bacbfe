// Package model contains domain models for the campus trip matching service.
// These structs map to the trips schema created by the repository backends.
package model

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ─── Enums ──────────────────────────────────────────────────

// VehicleType is the closed set of vehicle categories a driver can offer.
type VehicleType string

const (
	VehicleEconomic VehicleType = "Economic"
	VehicleStandard VehicleType = "Standard"
	VehicleLuxury   VehicleType = "Luxury"
)

// vehicleAliases maps folded labels (lower-case, accents stripped) to the
// canonical type. The Spanish labels are the ones drivers pick at sign-up.
var vehicleAliases = map[string]VehicleType{
	"economic":  VehicleEconomic,
	"economico": VehicleEconomic,
	"standard":  VehicleStandard,
	"estandar":  VehicleStandard,
	"luxury":    VehicleLuxury,
	"de lujo":   VehicleLuxury,
	"lujo":      VehicleLuxury,
}

// ParseVehicleType returns the canonical vehicle type for s.
func ParseVehicleType(s string) (VehicleType, error) {
	if vt, ok := vehicleAliases[foldLabel(s)]; ok {
		return vt, nil
	}
	return "", fmt.Errorf("unknown vehicle type %q", s)
}

// Valid reports whether v is one of the canonical vehicle types.
func (v VehicleType) Valid() bool {
	switch v {
	case VehicleEconomic, VehicleStandard, VehicleLuxury:
		return true
	}
	return false
}

// Endpoint selects which end of a trip a spatial filter applies to.
type Endpoint int

const (
	EndpointOrigin Endpoint = iota
	EndpointDestination
)

func (e Endpoint) String() string {
	if e == EndpointDestination {
		return "destination"
	}
	return "origin"
}

// ─── Location ───────────────────────────────────────────────

// Coordinate is a WGS-84 point (EPSG:4326).
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies inside the WGS-84 ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Place is a labelled coordinate, e.g. "Universidad Nacional, Bogotá".
type Place struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Coordinate drops the label.
func (p Place) Coordinate() Coordinate {
	return Coordinate{Lat: p.Lat, Lon: p.Lon}
}

// ─── Domain Models ──────────────────────────────────────────

// Trip is a driver-posted ride offer. It maps to the `trips` table.
//
// DepartureDate (YYYY-MM-DD) and DepartureTime (HH:MM) are local wall-clock
// values in the service timezone. Both are fixed-width, so string order is
// chronological order.
type Trip struct {
	ID             int64       `json:"id"`
	DriverID       string      `json:"driver_id"`
	DriverName     string      `json:"driver_name,omitempty"`
	Origin         Place       `json:"origin"`
	Destination    Place       `json:"destination"`
	DepartureDate  string      `json:"departure_date"`
	DepartureTime  string      `json:"departure_time"`
	VehicleType    VehicleType `json:"vehicle_type"`
	SeatsAvailable int         `json:"seats_available"`
	Fare           int64       `json:"fare"`
	CreatedAt      time.Time   `json:"created_at"`
}

// DepartureAt returns the departure instant of the trip in loc.
func (t *Trip) DepartureAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+ClockLayout, t.DepartureDate+" "+t.DepartureTime, loc)
}

// DepartsBefore orders trips by departure date, then time.
func (t *Trip) DepartsBefore(o *Trip) bool {
	if t.DepartureDate != o.DepartureDate {
		return t.DepartureDate < o.DepartureDate
	}
	return t.DepartureTime < o.DepartureTime
}

// TripFilter narrows trip listings.
type TripFilter struct {
	DriverID string
	Limit    int
	Offset   int
}

// TripEvent is published after a trip becomes visible to searches.
type TripEvent struct {
	Type       string    `json:"type"`
	Trip       Trip      `json:"trip"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventTripCreated is the TripEvent type for new trips.
const EventTripCreated = "trip.created"

// ─── Date & Time ────────────────────────────────────────────

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ParseDate validates a calendar date and returns it in canonical form.
func ParseDate(s string) (string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	return d.Format(DateLayout), nil
}

// ParseClock validates a time of day and returns it as zero-padded HH:MM.
func ParseClock(s string) (string, error) {
	c, err := time.Parse(ClockLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("time %q must be HH:MM", s)
	}
	return c.Format(ClockLayout), nil
}

// ─── Helpers ────────────────────────────────────────────────

// foldLabel lower-cases s, strips diacritics and collapses whitespace.
func foldLabel(s string) string {
	decomposed := norm.NFD.String(strings.ToLower(s))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
