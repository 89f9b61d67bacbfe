package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shiva/campusride/internal/model"
	"github.com/shiva/campusride/internal/observability"
	"github.com/shiva/campusride/internal/repository"
)

// EventPublisher receives trip events once a trip is stored.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.TripEvent) error
}

// PlaceInput is a place as a driver entered it: a typed address, a point
// picked on the map, or both.
type PlaceInput struct {
	Label string   `json:"label"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
}

// CreateTripInput is the body of a trip offer.
type CreateTripInput struct {
	DriverID       string     `json:"driver_id"`
	DriverName     string     `json:"driver_name"`
	Origin         PlaceInput `json:"origin"`
	Destination    PlaceInput `json:"destination"`
	DepartureDate  string     `json:"departure_date"`
	DepartureTime  string     `json:"departure_time"`
	VehicleType    string     `json:"vehicle_type"`
	SeatsAvailable int        `json:"seats_available"`
	Fare           int64      `json:"fare"`
}

// ─── TripService ────────────────────────────────────────────

// TripService is the write path for trips.
type TripService struct {
	Store     repository.TripStore
	Geocoder  Geocoder
	Publisher EventPublisher

	now func() time.Time
	log logrus.FieldLogger
}

// NewTripService creates a trip service. publisher may be nil.
func NewTripService(store repository.TripStore, geocoder Geocoder, publisher EventPublisher, log logrus.FieldLogger) *TripService {
	return &TripService{
		Store:     store,
		Geocoder:  geocoder,
		Publisher: publisher,
		now:       time.Now,
		log:       log.WithField("component", "trips"),
	}
}

// Create completes missing labels or coordinates through the geocoder,
// stores the trip and announces it.
func (s *TripService) Create(ctx context.Context, in CreateTripInput) (*model.Trip, error) {
	trip := model.Trip{
		DriverID:       in.DriverID,
		DriverName:     in.DriverName,
		DepartureDate:  in.DepartureDate,
		DepartureTime:  in.DepartureTime,
		VehicleType:    model.VehicleType(in.VehicleType),
		SeatsAvailable: in.SeatsAvailable,
		Fare:           in.Fare,
	}

	verr := model.NewValidationError(model.ErrValidationFailed)
	var mu sync.Mutex
	addField := func(field, msg string) {
		mu.Lock()
		defer mu.Unlock()
		verr.Add(field, msg)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []struct {
		field string
		in    PlaceInput
		out   *model.Place
	}{
		{"origin", in.Origin, &trip.Origin},
		{"destination", in.Destination, &trip.Destination},
	} {
		g.Go(func() error {
			return s.completePlace(gctx, side.field, side.in, side.out, addField)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}

	if len(verr.Fields) > 0 {
		// Report the schema problems alongside the geocoding ones.
		seen := make(map[string]bool, len(verr.Fields))
		for _, f := range verr.Fields {
			seen[f.Field] = true
		}
		for _, f := range model.FieldsOf(trip.Normalize()) {
			if !seen[f.Field] {
				verr.Add(f.Field, f.Message)
			}
		}
		return nil, fmt.Errorf("create trip: %w", verr)
	}

	if _, err := s.Store.Insert(ctx, &trip); err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}
	observability.TripsCreated.Inc()

	s.log.WithFields(logrus.Fields{
		"trip_id":   trip.ID,
		"driver_id": trip.DriverID,
		"date":      trip.DepartureDate,
	}).Info("trip created")

	s.publish(ctx, trip)
	return &trip, nil
}

// completePlace fills out from in, asking the geocoder for whichever half
// is missing. Lookups that find nothing become field errors.
func (s *TripService) completePlace(
	ctx context.Context,
	field string,
	in PlaceInput,
	out *model.Place,
	addField func(field, msg string),
) error {
	out.Label = strings.TrimSpace(in.Label)

	switch {
	case in.Lat != nil && in.Lon != nil:
		out.Lat, out.Lon = *in.Lat, *in.Lon
		if out.Label != "" || !out.Coordinate().Valid() {
			return nil
		}
		label, err := s.Geocoder.ReverseResolve(ctx, out.Lat, out.Lon)
		if errors.Is(err, model.ErrNotFound) {
			addField(field+".label", "no address found for the given coordinates")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reverse geocode %s: %w", field, err)
		}
		out.Label = label

	case in.Lat != nil || in.Lon != nil:
		addField(field, "lat and lon must be given together")

	case out.Label != "":
		p, err := s.Geocoder.Resolve(ctx, out.Label)
		if errors.Is(err, model.ErrNotFound) {
			addField(field, fmt.Sprintf("address %q not found", out.Label))
			return nil
		}
		if err != nil {
			return fmt.Errorf("geocode %s: %w", field, err)
		}
		out.Lat, out.Lon = p.Lat, p.Lon

	default:
		addField(field, "label or coordinates are required")
	}
	return nil
}

func (s *TripService) publish(ctx context.Context, trip model.Trip) {
	if s.Publisher == nil {
		return
	}
	evt := model.TripEvent{Type: model.EventTripCreated, Trip: trip, OccurredAt: s.now().UTC()}
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.log.WithError(err).WithField("trip_id", trip.ID).Warn("trip event not published")
	}
}

// Get returns one trip.
func (s *TripService) Get(ctx context.Context, id int64) (*model.Trip, error) {
	return s.Store.Get(ctx, id)
}

// List returns trips ordered by id.
func (s *TripService) List(ctx context.Context, filter model.TripFilter) ([]model.Trip, error) {
	return s.Store.List(ctx, filter)
}
