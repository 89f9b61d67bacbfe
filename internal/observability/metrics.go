// Package observability holds the Prometheus collectors shared across the service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campusride"

var (
	// ─── Matching ───────────────────────────────────────────

	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "searches_total", Help: "Trip searches by outcome"},
		[]string{"outcome"},
	)
	SearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_latency_seconds",
		Help:      "Match engine latency, candidate fetch included",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
	SearchCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_trips",
			Help:      "Trips per search at each stage",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"stage"},
	)

	// ─── Trips ──────────────────────────────────────────────

	TripsCreated    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "trips_created_total", Help: "Trips stored"})
	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "feed_subscribers", Help: "Connected trip feed websockets"})
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Trip events by sink and outcome"},
		[]string{"sink", "outcome"},
	)

	// ─── Geocoding ──────────────────────────────────────────

	GeocodeUpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "geocode_upstream_calls_total", Help: "Geocoder HTTP attempts by operation and outcome"},
		[]string{"op", "outcome"},
	)
	GeocodeCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "geocode_cache_hits_total", Help: "Geocoding cache hits by tier"},
		[]string{"tier"},
	)

	// ─── HTTP ───────────────────────────────────────────────

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
