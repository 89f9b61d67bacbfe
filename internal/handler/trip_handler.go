package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/model"
	"github.com/shiva/campusride/internal/service"
)

// ─── Response DTOs ──────────────────────────────────────────

// TripListResponse is the body of GET /api/v1/trips.
type TripListResponse struct {
	Trips []model.Trip `json:"trips"`
	Count int          `json:"count"`
}

// ─── TripHandler ────────────────────────────────────────────

// TripHandler serves trip creation, lookup and search.
type TripHandler struct {
	trips  *service.TripService
	search *service.SearchService
	log    logrus.FieldLogger
}

// NewTripHandler creates a new trip handler.
func NewTripHandler(trips *service.TripService, search *service.SearchService, log logrus.FieldLogger) *TripHandler {
	return &TripHandler{trips: trips, search: search, log: log.WithField("component", "http")}
}

// CreateTrip handles POST /api/v1/trips
//
// Places may carry a label, coordinates or both; the missing half is
// geocoded.
//
//	Request body:
//	{
//	  "driver_id": "u-123", "driver_name": "Laura",
//	  "origin": {"label": "Universidad Nacional", "lat": 4.6381, "lon": -74.0840},
//	  "destination": {"label": "Suba"},
//	  "departure_date": "2024-05-01", "departure_time": "17:30",
//	  "vehicle_type": "Standard", "seats_available": 3, "fare": 8000
//	}
func (h *TripHandler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var body service.CreateTripInput
	if !decodeJSON(w, r, &body) {
		return
	}

	trip, err := h.trips.Create(r.Context(), body)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, trip)
}

// GetTrip handles GET /api/v1/trips/{id}
func (h *TripHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "trip id must be a positive integer"})
		return
	}

	trip, err := h.trips.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, trip)
}

// ListTrips handles GET /api/v1/trips?driver_id=&limit=&offset=
func (h *TripHandler) ListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.TripFilter{DriverID: q.Get("driver_id")}

	verr := model.NewValidationError(model.ErrInvalidQuery)
	filter.Limit = intParam(verr, q.Get("limit"), "limit")
	filter.Offset = intParam(verr, q.Get("offset"), "offset")
	if err := verr.Err(); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	trips, err := h.trips.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if trips == nil {
		trips = []model.Trip{}
	}

	writeJSON(w, http.StatusOK, TripListResponse{Trips: trips, Count: len(trips)})
}

// SearchTrips handles POST /api/v1/trips/search
//
// Returns matching trips ranked by combined distance. A free-text place
// that cannot be geocoded yields an empty list naming the field in
// "unresolved".
//
//	Request body:
//	{
//	  "origin_text": "Universidad Nacional",
//	  "destination_lat": 4.7410, "destination_lon": -74.0840,
//	  "date": "2024-05-01", "time_start": "07:00", "time_end": "09:00",
//	  "vehicle_type": "Económico", "max_origin_distance_km": 1.5
//	}
func (h *TripHandler) SearchTrips(w http.ResponseWriter, r *http.Request) {
	var body service.SearchRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	resp, err := h.search.Search(r.Context(), body)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(verr *model.ValidationError, raw, field string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		verr.Add(field, "must be a non-negative integer")
		return 0
	}
	return n
}
