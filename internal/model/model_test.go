package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTrip() Trip {
	return Trip{
		DriverID:       "driver-1",
		Origin:         Place{Label: "Universidad Nacional", Lat: 4.71, Lon: -74.07},
		Destination:    Place{Label: "Portal Norte", Lat: 4.75, Lon: -74.05},
		DepartureDate:  "2024-05-01",
		DepartureTime:  "8:00",
		VehicleType:    "estándar",
		SeatsAvailable: 3,
		Fare:           5000,
	}
}

func TestTripNormalize_Canonicalizes(t *testing.T) {
	trip := validTrip()
	require.NoError(t, trip.Normalize())

	assert.Equal(t, "08:00", trip.DepartureTime)
	assert.Equal(t, VehicleStandard, trip.VehicleType)
}

func TestTripNormalize_NegativeSeats(t *testing.T) {
	trip := validTrip()
	trip.SeatsAvailable = -1

	err := trip.Normalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))

	fields := FieldsOf(err)
	require.Len(t, fields, 1)
	assert.Equal(t, "seats_available", fields[0].Field)
}

func TestTripNormalize_ReportsEveryField(t *testing.T) {
	trip := Trip{
		ID:            7,
		Origin:        Place{Lat: 91, Lon: 0},
		Destination:   Place{Label: "x", Lat: 0, Lon: 181},
		DepartureDate: "01/05/2024",
		DepartureTime: "25:00",
		VehicleType:   "Bus",
		Fare:          -5,
	}

	err := trip.Normalize()
	require.Error(t, err)

	var got []string
	for _, f := range FieldsOf(err) {
		got = append(got, f.Field)
	}
	assert.ElementsMatch(t, []string{
		"id", "driver_id", "origin.label", "origin", "destination",
		"departure_date", "departure_time", "vehicle_type", "fare",
	}, got)
}

func TestParseVehicleType(t *testing.T) {
	tests := []struct {
		in   string
		want VehicleType
	}{
		{"Economic", VehicleEconomic},
		{"Económico", VehicleEconomic},
		{"  ESTÁNDAR ", VehicleStandard},
		{"De  lujo", VehicleLuxury},
		{"luxury", VehicleLuxury},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVehicleType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseVehicleType("Van")
	assert.Error(t, err)
}

func TestSearchQueryValidate(t *testing.T) {
	origin := &Coordinate{Lat: 4.711, Lon: -74.073}

	tests := []struct {
		name    string
		query   SearchQuery
		wantErr bool
	}{
		{"origin only", SearchQuery{Origin: origin}, false},
		{"destination only", SearchQuery{Destination: origin}, false},
		{"no endpoints", SearchQuery{Date: "2024-05-01"}, true},
		{"bad date", SearchQuery{Origin: origin, Date: "May 1"}, true},
		{"inverted window", SearchQuery{Origin: origin, TimeWindow: &TimeWindow{Start: "10:00", End: "09:00"}}, true},
		{"radius too large", SearchQuery{Origin: origin, MaxOriginDistanceKm: 80}, true},
		{"negative radius", SearchQuery{Origin: origin, MaxDestinationDistanceKm: -1}, true},
		{"unknown vehicle", SearchQuery{Origin: origin, VehicleType: "Bus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.WithDefaults(2).Validate(50)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidQuery))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDateRange(t *testing.T) {
	r := DateRange{From: "2024-05-01", To: "2024-05-03"}
	assert.True(t, r.Contains("2024-05-01"))
	assert.True(t, r.Contains("2024-05-03"))
	assert.False(t, r.Contains("2024-05-04"))
	assert.True(t, DateRange{}.Contains("1999-01-01"))
	assert.True(t, DateRange{From: "2024-05-02", To: "2024-05-01"}.Empty())
}
