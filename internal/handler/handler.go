// Package handler contains HTTP request handlers for the trip search API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/middleware"
	"github.com/shiva/campusride/internal/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message,omitempty"`
	Fields  []model.FieldError `json:"fields,omitempty"`
}

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON reads a bounded JSON body into dst, replying 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_body",
			Message: "request body must be a JSON object: " + err.Error(),
		})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP statuses.
//
//	InvalidQuery / ValidationFailed → 400 (with field list)
//	TripNotFound / geocoding NotFound → 404
//	UpstreamUnavailable            → 503
//	GeocodingFailed                → 502
//	anything else                  → 500
func writeError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidQuery):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "invalid_query", Message: err.Error(), Fields: model.FieldsOf(err),
		})
	case errors.Is(err, model.ErrValidationFailed):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: "validation_failed", Message: err.Error(), Fields: model.FieldsOf(err),
		})
	case errors.Is(err, model.ErrTripNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Trip not found."})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "No place matches the input."})
	case errors.Is(err, model.ErrUpstreamUnavailable):
		log.WithError(err).WithField("request_id", middleware.RequestIDFrom(r.Context())).Warn("geocoder unavailable")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error: "geocoding_unavailable", Message: "The geocoding service is unavailable, try again later.",
		})
	case errors.Is(err, model.ErrGeocodingFailed):
		log.WithError(err).WithField("request_id", middleware.RequestIDFrom(r.Context())).Warn("geocoding failed")
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "geocoding_failed"})
	default:
		log.WithError(err).WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.RequestIDFrom(r.Context()),
		}).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
}
