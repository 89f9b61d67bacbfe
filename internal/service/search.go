package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shiva/campusride/internal/model"
)

// Geocoder is the subset of the geocoding gateway the services need.
type Geocoder interface {
	Resolve(ctx context.Context, text string) (model.Place, error)
	ReverseResolve(ctx context.Context, lat, lon float64) (string, error)
}

// ─── Request / Response ─────────────────────────────────────

// SearchRequest is the raw passenger input. Coordinates win over text for
// the same endpoint; a radius of zero means the default.
type SearchRequest struct {
	OriginText               string   `json:"origin_text"`
	DestinationText          string   `json:"destination_text"`
	OriginLat                *float64 `json:"origin_lat"`
	OriginLon                *float64 `json:"origin_lon"`
	DestinationLat           *float64 `json:"destination_lat"`
	DestinationLon           *float64 `json:"destination_lon"`
	Date                     string   `json:"date"`
	TimeStart                string   `json:"time_start"`
	TimeEnd                  string   `json:"time_end"`
	VehicleType              string   `json:"vehicle_type"`
	MaxOriginDistanceKm      float64  `json:"max_origin_distance_km"`
	MaxDestinationDistanceKm float64  `json:"max_destination_distance_km"`
	Limit                    int      `json:"limit"`
}

// SearchResult is one ranked trip as shown to passengers.
type SearchResult struct {
	TripID                int64             `json:"trip_id"`
	DriverID              string            `json:"driver_id"`
	DriverName            string            `json:"driver_name,omitempty"`
	Origin                model.Place       `json:"origin"`
	Destination           model.Place       `json:"destination"`
	DepartureDate         string            `json:"departure_date"`
	DepartureTime         string            `json:"departure_time"`
	VehicleType           model.VehicleType `json:"vehicle_type"`
	SeatsAvailable        int               `json:"seats_available"`
	Fare                  int64             `json:"fare"`
	OriginDistanceKm      float64           `json:"origin_distance_km"`
	DestinationDistanceKm float64           `json:"destination_distance_km"`
	RankScore             float64           `json:"rank_score"`
}

// SearchResponse lists results best first. Unresolved names the free-text
// fields that geocoded to nothing; the search is not run in that case.
type SearchResponse struct {
	Results     []SearchResult `json:"results"`
	Count       int            `json:"count"`
	Unresolved  []string       `json:"unresolved,omitempty"`
	Origin      *model.Place   `json:"origin,omitempty"`
	Destination *model.Place   `json:"destination,omitempty"`
}

// ─── SearchService ──────────────────────────────────────────

// SearchService turns raw requests into engine queries.
type SearchService struct {
	Engine   *MatchingService
	Geocoder Geocoder

	log logrus.FieldLogger
}

// NewSearchService creates a search front end over the engine and gateway.
func NewSearchService(engine *MatchingService, geocoder Geocoder, log logrus.FieldLogger) *SearchService {
	return &SearchService{Engine: engine, Geocoder: geocoder, log: log.WithField("component", "search")}
}

// endpointInput is one side of the trip as the passenger described it.
type endpointInput struct {
	field string
	text  string
	place *model.Place
}

// Search normalizes req, resolves any free-text endpoint and runs the engine.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	verr := model.NewValidationError(model.ErrInvalidQuery)

	origin := parseEndpoint(verr, "origin", req.OriginText, req.OriginLat, req.OriginLon)
	dest := parseEndpoint(verr, "destination", req.DestinationText, req.DestinationLat, req.DestinationLon)
	if origin.place == nil && origin.text == "" && dest.place == nil && dest.text == "" {
		verr.Add("origin", "origin or destination is required")
	}

	q := model.SearchQuery{
		MaxOriginDistanceKm:      req.MaxOriginDistanceKm,
		MaxDestinationDistanceKm: req.MaxDestinationDistanceKm,
		Limit:                    req.Limit,
	}

	if date := strings.TrimSpace(req.Date); date != "" {
		d, err := model.ParseDate(date)
		if err != nil {
			verr.Add("date", err.Error())
		}
		q.Date = d
	}

	start, end := strings.TrimSpace(req.TimeStart), strings.TrimSpace(req.TimeEnd)
	switch {
	case start == "" && end == "":
	case start == "":
		verr.Add("time_start", "is required when time_end is set")
	case end == "":
		verr.Add("time_end", "is required when time_start is set")
	default:
		q.TimeWindow = &model.TimeWindow{Start: start, End: end}
	}

	if vt := strings.TrimSpace(req.VehicleType); vt != "" {
		parsed, err := model.ParseVehicleType(vt)
		if err != nil {
			verr.Add("vehicle_type", err.Error())
		}
		q.VehicleType = parsed
	}

	// Radius, clock and limit problems surface before any upstream call.
	if len(verr.Fields) == 0 {
		if err := s.Engine.CheckFilters(q); err != nil {
			return nil, err
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	// ── Geocode free-text endpoints concurrently ────────
	unresolved, err := s.resolve(ctx, &origin, &dest)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Results:     []SearchResult{},
		Origin:      origin.place,
		Destination: dest.place,
	}
	if len(unresolved) > 0 {
		resp.Unresolved = unresolved
		s.log.WithField("unresolved", unresolved).Info("search endpoint not geocodable, returning no results")
		return resp, nil
	}

	if origin.place != nil {
		c := origin.place.Coordinate()
		q.Origin = &c
	}
	if dest.place != nil {
		c := dest.place.Coordinate()
		q.Destination = &c
	}

	matches, err := s.Engine.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, m := range matches {
		resp.Results = append(resp.Results, toSearchResult(m))
	}
	resp.Count = len(resp.Results)
	return resp, nil
}

// resolve fills place for every endpoint given only as text. It returns the
// fields that geocoded to nothing, in origin, destination order.
func (s *SearchService) resolve(ctx context.Context, endpoints ...*endpointInput) ([]string, error) {
	notFound := make([]bool, len(endpoints))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		if ep.place != nil || ep.text == "" {
			continue
		}
		g.Go(func() error {
			p, err := s.Geocoder.Resolve(gctx, ep.text)
			if errors.Is(err, model.ErrNotFound) {
				notFound[i] = true
				return nil
			}
			if err != nil {
				return fmt.Errorf("geocode %s: %w", ep.field, err)
			}
			ep.place = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var unresolved []string
	for i, ep := range endpoints {
		if notFound[i] {
			unresolved = append(unresolved, ep.field+"_text")
		}
	}
	return unresolved, nil
}

// parseEndpoint prefers coordinates; a half-given pair is an error.
func parseEndpoint(verr *model.ValidationError, field, text string, lat, lon *float64) endpointInput {
	ep := endpointInput{field: field, text: strings.TrimSpace(text)}
	switch {
	case lat == nil && lon == nil:
		return ep
	case lat == nil:
		verr.Add(field+"_lat", "is required when "+field+"_lon is set")
		return ep
	case lon == nil:
		verr.Add(field+"_lon", "is required when "+field+"_lat is set")
		return ep
	}

	p := model.Place{Label: ep.text, Lat: *lat, Lon: *lon}
	if !p.Coordinate().Valid() {
		verr.Add(field, fmt.Sprintf("coordinates (%g, %g) out of range", *lat, *lon))
		return ep
	}
	ep.place = &p
	return ep
}

func toSearchResult(m model.MatchResult) SearchResult {
	return SearchResult{
		TripID:                m.Trip.ID,
		DriverID:              m.Trip.DriverID,
		DriverName:            m.Trip.DriverName,
		Origin:                m.Trip.Origin,
		Destination:           m.Trip.Destination,
		DepartureDate:         m.Trip.DepartureDate,
		DepartureTime:         m.Trip.DepartureTime,
		VehicleType:           m.Trip.VehicleType,
		SeatsAvailable:        m.Trip.SeatsAvailable,
		Fare:                  m.Trip.Fare,
		OriginDistanceKm:      m.OriginDistanceKm,
		DestinationDistanceKm: m.DestinationDistanceKm,
		RankScore:             m.RankScore,
	}
}
