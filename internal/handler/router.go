package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/middleware"
)

// Routes bundles everything mounted under /api/v1.
type Routes struct {
	Trips   *TripHandler
	Geocode *GeocodeHandler
	Feed    http.Handler // websocket trip feed, optional
}

// NewRouter registers the API routes and the request middleware chain.
// Callers may add more routes (health, metrics) before serving.
func NewRouter(routes Routes, log logrus.FieldLogger) *mux.Router {
	router := mux.NewRouter()
	// The logger wraps the recoverer so panics are logged and counted as 500s.
	router.Use(middleware.RequestID, middleware.RequestLogger(log), middleware.Recoverer(log))

	api := router.PathPrefix("/api/v1").Subrouter()
	// Trips
	api.HandleFunc("/trips", routes.Trips.CreateTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips", routes.Trips.ListTrips).Methods(http.MethodGet)
	api.HandleFunc("/trips/search", routes.Trips.SearchTrips).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id:[0-9]+}", routes.Trips.GetTrip).Methods(http.MethodGet)
	// Geocoding
	api.HandleFunc("/geocode/search", routes.Geocode.Suggest).Methods(http.MethodGet)
	api.HandleFunc("/geocode/reverse", routes.Geocode.Reverse).Methods(http.MethodGet)
	// Live feed
	if routes.Feed != nil {
		api.Handle("/trips/feed", routes.Feed).Methods(http.MethodGet)
	}

	return router
}
