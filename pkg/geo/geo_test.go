package geo

import (
	"math"
	"testing"

	"github.com/golang/geo/s2"
	"github.com/stretchr/testify/assert"

	"github.com/shiva/campusride/internal/model"
)

var bogota = model.Coordinate{Lat: 4.7110, Lon: -74.0721}

func TestHaversineKm_SamePoint(t *testing.T) {
	got := HaversineKm(bogota, bogota)
	if got != 0 {
		t.Errorf("HaversineKm(same point) = %v, want 0", got)
	}
}

func TestHaversineKm_OneDegreeNorth(t *testing.T) {
	north := model.Coordinate{Lat: bogota.Lat + 1, Lon: bogota.Lon}
	got := HaversineKm(bogota, north)
	wantMin, wantMax := 110.0, 112.0
	if got < wantMin || got > wantMax {
		t.Errorf("HaversineKm(1° north) = %.2f km, want between %.1f and %.1f", got, wantMin, wantMax)
	}
}

func TestHaversineKm_MatchesS2(t *testing.T) {
	pairs := [][2]model.Coordinate{
		{bogota, {Lat: 4.75, Lon: -74.05}},
		{{Lat: 4.711, Lon: -74.073}, {Lat: 4.71, Lon: -74.07}},
		{{Lat: -33.45, Lon: -70.66}, {Lat: 40.41, Lon: -3.70}},
		{{Lat: 0, Lon: 179.9}, {Lat: 0, Lon: -179.9}},
	}
	for _, p := range pairs {
		a := s2.LatLngFromDegrees(p[0].Lat, p[0].Lon)
		b := s2.LatLngFromDegrees(p[1].Lat, p[1].Lon)
		want := a.Distance(b).Radians() * EarthRadiusKm

		assert.InDelta(t, want, HaversineKm(p[0], p[1]), 1e-6*math.Max(1, want))
	}
}

func TestBoundingBox_ContainsRadius(t *testing.T) {
	const radius = 2.0
	box := BoundingBox(bogota, radius, model.EndpointOrigin)

	// Points exactly on the circle, every 15 degrees of bearing.
	for bearing := 0.0; bearing < 360; bearing += 15 {
		p := destination(bogota, bearing, radius*0.999)
		assert.True(t, box.Contains(p), "bearing %.0f: %+v outside %+v", bearing, p, box)
	}

	// Corners are outside the circle but inside the box; the exact filter
	// has to reject them.
	corner := model.Coordinate{Lat: box.MaxLat, Lon: box.MaxLon}
	assert.Greater(t, HaversineKm(bogota, corner), radius)
}

func TestBoundingBox_Edges(t *testing.T) {
	nearPole := BoundingBox(model.Coordinate{Lat: 89.999, Lon: 10}, 5, model.EndpointOrigin)
	assert.Equal(t, 90.0, nearPole.MaxLat)
	assert.Equal(t, -180.0, nearPole.MinLon)
	assert.Equal(t, 180.0, nearPole.MaxLon)

	antimeridian := BoundingBox(model.Coordinate{Lat: 0, Lon: 179.99}, 5, model.EndpointDestination)
	assert.Equal(t, -180.0, antimeridian.MinLon)
	assert.Equal(t, 180.0, antimeridian.MaxLon)
	assert.Equal(t, model.EndpointDestination, antimeridian.Endpoint)
}

// destination walks distKm from c along bearing on the sphere.
func destination(c model.Coordinate, bearingDeg, distKm float64) model.Coordinate {
	lat1 := degToRad(c.Lat)
	lon1 := degToRad(c.Lon)
	brg := degToRad(bearingDeg)
	ang := distKm / EarthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ang) + math.Cos(lat1)*math.Sin(ang)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(ang)*math.Cos(lat1), math.Cos(ang)-math.Sin(lat1)*math.Sin(lat2))

	return model.Coordinate{Lat: lat2 * 180 / math.Pi, Lon: lon2 * 180 / math.Pi}
}
