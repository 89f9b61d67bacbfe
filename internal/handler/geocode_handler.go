package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/model"
)

// PlaceLookup is the geocoding surface exposed over HTTP.
type PlaceLookup interface {
	Suggest(ctx context.Context, text string, limit int) ([]model.Place, error)
	ReverseResolve(ctx context.Context, lat, lon float64) (string, error)
}

// SuggestResponse is the body of GET /api/v1/geocode/search.
type SuggestResponse struct {
	Results []model.Place `json:"results"`
	Count   int           `json:"count"`
}

// GeocodeHandler serves address autocomplete and map-pick labelling.
type GeocodeHandler struct {
	places PlaceLookup
	log    logrus.FieldLogger
}

// NewGeocodeHandler creates a new geocode handler.
func NewGeocodeHandler(places PlaceLookup, log logrus.FieldLogger) *GeocodeHandler {
	return &GeocodeHandler{places: places, log: log.WithField("component", "http")}
}

// Suggest handles GET /api/v1/geocode/search?q=&limit=
//
// Fewer than three characters return an empty list.
func (h *GeocodeHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	verr := model.NewValidationError(model.ErrInvalidQuery)
	limit := intParam(verr, r.URL.Query().Get("limit"), "limit")
	if err := verr.Err(); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	places, err := h.places.Suggest(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuggestResponse{Results: places, Count: len(places)})
}

// Reverse handles GET /api/v1/geocode/reverse?lat=&lon=
func (h *GeocodeHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	verr := model.NewValidationError(model.ErrInvalidQuery)
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	if errLat != nil {
		verr.Add("lat", "must be a number")
	}
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLon != nil {
		verr.Add("lon", "must be a number")
	}
	if err := verr.Err(); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	label, err := h.places.ReverseResolve(r.Context(), lat, lon)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, model.Place{Label: label, Lat: lat, Lon: lon})
}
