// Package geo provides geographic utility functions for trip matching.
//
// Exact distances use the Haversine formula on WGS-84 coordinates. Bounding
// boxes use a flat-earth approximation, which is accurate to well under 1%
// at city scale (radii below ~50 km) and is only ever used as a coarse
// pre-filter ahead of the exact distance check.
package geo

import (
	"math"

	"github.com/shiva/campusride/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// KmPerDegreeLat is the length of one degree of latitude on the
	// EarthRadiusKm sphere.
	KmPerDegreeLat = EarthRadiusKm * math.Pi / 180.0

	// minCosLat keeps longitude spans finite near the poles. Below it the
	// box widens to every longitude.
	minCosLat = 0.01
)

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in kilometers.
//
// Complexity: O(1)
func HaversineKm(a, b model.Coordinate) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(math.Min(1, h)))
}

// ─── Bounding Boxes ─────────────────────────────────────────

// BoundingBox returns the rectangle that contains every point within
// radiusKm of center, for the given trip endpoint.
//
// Latitudes clamp at the poles. When the longitude span would wrap the
// antimeridian, or the center is too close to a pole for cos(lat) to be
// meaningful, the box spans every longitude.
func BoundingBox(center model.Coordinate, radiusKm float64, endpoint model.Endpoint) model.BoundingRegion {
	dLat := radiusKm / KmPerDegreeLat

	box := model.BoundingRegion{
		MinLat:   math.Max(-90, center.Lat-dLat),
		MaxLat:   math.Min(90, center.Lat+dLat),
		MinLon:   -180,
		MaxLon:   180,
		Endpoint: endpoint,
	}

	// Use the edge farthest from the equator so the box never under-covers.
	cosLat := math.Cos(degToRad(math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))))
	if cosLat < minCosLat {
		return box
	}
	dLon := dLat / cosLat
	if center.Lon-dLon < -180 || center.Lon+dLon > 180 {
		return box
	}
	box.MinLon = center.Lon - dLon
	box.MaxLon = center.Lon + dLon
	return box
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
