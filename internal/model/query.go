package model

import "fmt"

// ─── Search ─────────────────────────────────────────────────

// TimeWindow is an inclusive time-of-day range in HH:MM form.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Contains reports whether clock (HH:MM) falls inside the window.
func (w TimeWindow) Contains(clock string) bool {
	return clock >= w.Start && clock <= w.End
}

// SearchQuery is a passenger's request, already resolved to coordinates.
// A zero radius means "use the service default".
type SearchQuery struct {
	Origin                   *Coordinate `json:"origin,omitempty"`
	Destination              *Coordinate `json:"destination,omitempty"`
	Date                     string      `json:"date,omitempty"`
	TimeWindow               *TimeWindow `json:"time_window,omitempty"`
	VehicleType              VehicleType `json:"vehicle_type,omitempty"`
	MaxOriginDistanceKm      float64     `json:"max_origin_distance_km"`
	MaxDestinationDistanceKm float64     `json:"max_destination_distance_km"`
	Limit                    int         `json:"limit,omitempty"`
}

// WithDefaults fills unset radii with defaultKm.
func (q SearchQuery) WithDefaults(defaultKm float64) SearchQuery {
	if q.MaxOriginDistanceKm == 0 {
		q.MaxOriginDistanceKm = defaultKm
	}
	if q.MaxDestinationDistanceKm == 0 {
		q.MaxDestinationDistanceKm = defaultKm
	}
	return q
}

// Validate checks the query invariants. Radii must already be defaulted.
func (q SearchQuery) Validate(maxRadiusKm float64) error {
	verr := NewValidationError(ErrInvalidQuery)

	if q.Origin == nil && q.Destination == nil {
		verr.Add("origin", "origin or destination is required")
	}
	if q.Origin != nil && !q.Origin.Valid() {
		verr.Add("origin", "coordinates out of range")
	}
	if q.Destination != nil && !q.Destination.Valid() {
		verr.Add("destination", "coordinates out of range")
	}
	q.checkFilters(verr, maxRadiusKm)

	return verr.Err()
}

// ValidateFilters checks everything except the endpoints, so a request can
// be rejected before its endpoints are geocoded.
func (q SearchQuery) ValidateFilters(maxRadiusKm float64) error {
	verr := NewValidationError(ErrInvalidQuery)
	q.checkFilters(verr, maxRadiusKm)
	return verr.Err()
}

func (q SearchQuery) checkFilters(verr *ValidationError, maxRadiusKm float64) {
	checkRadius(verr, "max_origin_distance_km", q.MaxOriginDistanceKm, maxRadiusKm)
	checkRadius(verr, "max_destination_distance_km", q.MaxDestinationDistanceKm, maxRadiusKm)

	if q.Date != "" {
		if _, err := ParseDate(q.Date); err != nil {
			verr.Add("date", err.Error())
		}
	}
	if q.TimeWindow != nil {
		start, errS := ParseClock(q.TimeWindow.Start)
		end, errE := ParseClock(q.TimeWindow.End)
		switch {
		case errS != nil:
			verr.Add("time_start", errS.Error())
		case errE != nil:
			verr.Add("time_end", errE.Error())
		case start > end:
			verr.Add("time_end", "must not be before time_start")
		}
	}
	if q.VehicleType != "" && !q.VehicleType.Valid() {
		verr.Add("vehicle_type", "must be one of Economic, Standard, Luxury")
	}
	if q.Limit < 0 {
		verr.Add("limit", "must be >= 0")
	}
}

func checkRadius(verr *ValidationError, field string, km, maxKm float64) {
	if km <= 0 || km > maxKm {
		verr.Add(field, fmt.Sprintf("must be in (0, %g] km, got %g", maxKm, km))
	}
}

// MatchResult is a Trip annotated with distances for one query.
// It is computed per query and never persisted.
type MatchResult struct {
	Trip                  Trip    `json:"trip"`
	OriginDistanceKm      float64 `json:"origin_distance_km"`
	DestinationDistanceKm float64 `json:"destination_distance_km"`
	RankScore             float64 `json:"rank_score"`
}

// ─── Storage Filters ────────────────────────────────────────

// DateRange is an inclusive YYYY-MM-DD range. An empty bound is open.
type DateRange struct {
	From string
	To   string
}

// SingleDay returns the range covering exactly date.
func SingleDay(date string) DateRange {
	return DateRange{From: date, To: date}
}

// Contains reports whether date lies inside the range.
func (r DateRange) Contains(date string) bool {
	return (r.From == "" || date >= r.From) && (r.To == "" || date <= r.To)
}

// Empty reports whether no date can satisfy the range.
func (r DateRange) Empty() bool {
	return r.From != "" && r.To != "" && r.From > r.To
}

// BoundingRegion is a latitude/longitude rectangle used as a coarse
// storage-level filter on one trip endpoint.
type BoundingRegion struct {
	MinLat   float64
	MaxLat   float64
	MinLon   float64
	MaxLon   float64
	Endpoint Endpoint
}

// Contains reports whether c lies inside the rectangle (edges included).
func (b BoundingRegion) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// Pick returns the trip endpoint the region filters.
func (b BoundingRegion) Pick(t *Trip) Coordinate {
	if b.Endpoint == EndpointDestination {
		return t.Destination.Coordinate()
	}
	return t.Origin.Coordinate()
}
