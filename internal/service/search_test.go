package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/campusride/internal/logging"
	"github.com/shiva/campusride/internal/model"
	"github.com/shiva/campusride/internal/repository"
)

// fakeGeocoder resolves from a fixed table; unknown text is ErrNotFound.
type fakeGeocoder struct {
	mu       sync.Mutex
	places   map[string]model.Place
	labels   map[model.Coordinate]string
	err      error
	resolved []string
}

func (f *fakeGeocoder) Resolve(ctx context.Context, text string) (model.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, text)
	if f.err != nil {
		return model.Place{}, f.err
	}
	p, ok := f.places[strings.ToLower(text)]
	if !ok {
		return model.Place{}, fmt.Errorf("resolve %q: %w", text, model.ErrNotFound)
	}
	return p, nil
}

func (f *fakeGeocoder) ReverseResolve(ctx context.Context, lat, lon float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	label, ok := f.labels[model.Coordinate{Lat: lat, Lon: lon}]
	if !ok {
		return "", model.ErrNotFound
	}
	return label, nil
}

var (
	unalPlace  = model.Place{Label: "Universidad Nacional, Bogotá", Lat: 4.6381, Lon: -74.0840}
	subaPlace  = model.Place{Label: "Suba, Bogotá", Lat: 4.7410, Lon: -74.0840}
	chiaCoords = model.Coordinate{Lat: 4.8610, Lon: -74.0325}
)

func newGeocoder() *fakeGeocoder {
	return &fakeGeocoder{
		places: map[string]model.Place{
			"universidad nacional": unalPlace,
			"suba":                 subaPlace,
		},
		labels: map[model.Coordinate]string{
			chiaCoords: "Chía, Cundinamarca",
		},
	}
}

func ptr(f float64) *float64 { return &f }

func newSearchService(t *testing.T, geocoder Geocoder) (*SearchService, repository.TripStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	engine := newEngine(store, true)
	return NewSearchService(engine, geocoder, logging.Discard()), store
}

func TestSearchService_ResolvesFreeText(t *testing.T) {
	geocoder := newGeocoder()
	svc, store := newSearchService(t, geocoder)
	id := seedTrip(t, store, unalPlace.Coordinate(), subaPlace.Coordinate(), "2024-05-01", "17:30", model.VehicleEconomic)

	resp, err := svc.Search(context.Background(), SearchRequest{
		OriginText:      "Universidad Nacional",
		DestinationText: "Suba",
		Date:            "2024-05-01",
		VehicleType:     "Económico",
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, id, resp.Results[0].TripID)
	assert.Equal(t, model.VehicleEconomic, resp.Results[0].VehicleType)
	assert.Empty(t, resp.Unresolved)
	require.NotNil(t, resp.Origin)
	assert.Equal(t, unalPlace, *resp.Origin)
	assert.ElementsMatch(t, []string{"Universidad Nacional", "Suba"}, geocoder.resolved)
}

func TestSearchService_CoordinatesWinOverText(t *testing.T) {
	geocoder := newGeocoder()
	svc, store := newSearchService(t, geocoder)
	seedTrip(t, store, unalPlace.Coordinate(), subaPlace.Coordinate(), "2024-05-01", "17:30", model.VehicleEconomic)

	resp, err := svc.Search(context.Background(), SearchRequest{
		OriginText: "somewhere the geocoder has never heard of",
		OriginLat:  ptr(unalPlace.Lat),
		OriginLon:  ptr(unalPlace.Lon),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
	assert.Empty(t, geocoder.resolved)
}

func TestSearchService_UnresolvedTextYieldsEmptyResult(t *testing.T) {
	svc, store := newSearchService(t, newGeocoder())
	seedTrip(t, store, unalPlace.Coordinate(), subaPlace.Coordinate(), "2024-05-01", "17:30", model.VehicleEconomic)

	resp, err := svc.Search(context.Background(), SearchRequest{
		OriginText:      "Universidad Nacional",
		DestinationText: "Atlantis",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Equal(t, []string{"destination_text"}, resp.Unresolved)
}

func TestSearchService_InvalidRequests(t *testing.T) {
	svc, _ := newSearchService(t, newGeocoder())

	tests := []struct {
		name  string
		req   SearchRequest
		field string
	}{
		{"no endpoint", SearchRequest{Date: "2024-05-01"}, "origin"},
		{"half coordinate", SearchRequest{OriginLat: ptr(4.6)}, "origin_lon"},
		{"coordinate out of range", SearchRequest{DestinationLat: ptr(95), DestinationLon: ptr(0)}, "destination"},
		{"bad date", SearchRequest{OriginText: "Suba", Date: "01/05/2024"}, "date"},
		{"lone time_start", SearchRequest{OriginText: "Suba", TimeStart: "07:00"}, "time_end"},
		{"bad clock", SearchRequest{OriginText: "Suba", TimeStart: "7am", TimeEnd: "09:00"}, "time_start"},
		{"unknown vehicle", SearchRequest{OriginText: "Suba", VehicleType: "Bicycle"}, "vehicle_type"},
		{"radius too wide", SearchRequest{OriginText: "Suba", MaxOriginDistanceKm: 80}, "max_origin_distance_km"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrInvalidQuery)

			var fields []string
			for _, f := range model.FieldsOf(err) {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestSearchService_RejectsFiltersBeforeGeocoding(t *testing.T) {
	geocoder := newGeocoder()
	svc, _ := newSearchService(t, geocoder)

	for _, req := range []SearchRequest{
		{OriginText: "Atlantis", MaxOriginDistanceKm: 999},
		{OriginText: "Universidad Nacional", TimeStart: "7pm", TimeEnd: "9pm"},
		{DestinationText: "Suba", TimeStart: "09:00", TimeEnd: "07:00"},
		{OriginText: "Suba", Limit: -1},
	} {
		_, err := svc.Search(context.Background(), req)
		assert.ErrorIs(t, err, model.ErrInvalidQuery, "%+v", req)
	}
	assert.Empty(t, geocoder.resolved)
}

func TestSearchService_GeocoderFailurePropagates(t *testing.T) {
	geocoder := newGeocoder()
	geocoder.err = fmt.Errorf("%w after 3 attempts: %w", model.ErrUpstreamUnavailable, model.ErrGeocodingFailed)
	svc, _ := newSearchService(t, geocoder)

	_, err := svc.Search(context.Background(), SearchRequest{OriginText: "Suba"})
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, model.ErrGeocodingFailed)
}
