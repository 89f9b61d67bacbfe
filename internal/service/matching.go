// Package service contains the core business logic for campus trip search.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiva/campusride/internal/model"
	"github.com/shiva/campusride/internal/observability"
	"github.com/shiva/campusride/internal/repository"
	"github.com/shiva/campusride/pkg/geo"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// DefaultRadiusKm applies to any endpoint radius the query leaves unset.
	DefaultRadiusKm = 2.0

	// MaxRadiusKm is the widest accepted radius. The flat-earth bounding box
	// stays a safe superset of the circle well past this size.
	MaxRadiusKm = 50.0
)

// MatchOptions tunes the engine. Zero values fall back to the defaults above.
type MatchOptions struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64

	// MaxResults caps every result list; 0 leaves it unbounded.
	MaxResults int

	// Location is the timezone departure dates and times are written in.
	Location *time.Location

	// HideDeparted drops trips whose departure instant has passed.
	HideDeparted bool
}

// ─── MatchingService ────────────────────────────────────────

// MatchingService answers trip searches.
//
// Algorithm overview:
//
//  1. FETCH: bounding rectangle around the query origin (or destination)
//     plus a date range, answered by the store's coarse index.
//  2. FILTER: exact haversine distance against each requested radius, then
//     vehicle type and time window. The rectangle is only a prefilter; the
//     haversine check is authoritative.
//  3. SCORE: rank = origin distance + destination distance.
//  4. SELECT: ascending rank; ties by earlier departure, then lower id.
//
// Time Complexity:
//
//	O(F + K log K) where F is the store lookup and K the candidates in the
//	rectangle. The engine holds no state between calls.
type MatchingService struct {
	Store repository.TripStore

	opts MatchOptions
	now  func() time.Time
	log  logrus.FieldLogger
}

// NewMatchingService creates a matching service backed by the given store.
func NewMatchingService(store repository.TripStore, opts MatchOptions, log logrus.FieldLogger) *MatchingService {
	if opts.DefaultRadiusKm <= 0 {
		opts.DefaultRadiusKm = DefaultRadiusKm
	}
	if opts.MaxRadiusKm <= 0 {
		opts.MaxRadiusKm = MaxRadiusKm
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &MatchingService{
		Store: store,
		opts:  opts,
		now:   time.Now,
		log:   log.WithField("component", "match"),
	}
}

// Search returns the trips matching q, best first. An empty slice is a
// valid answer. Malformed queries fail with model.ErrInvalidQuery; store
// errors propagate wrapped.
func (s *MatchingService) Search(ctx context.Context, q model.SearchQuery) ([]model.MatchResult, error) {
	start := time.Now()
	results, err := s.search(ctx, q)
	observability.SearchLatency.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, model.ErrInvalidQuery):
		observability.SearchesTotal.WithLabelValues("invalid").Inc()
	case err != nil:
		observability.SearchesTotal.WithLabelValues("error").Inc()
	case len(results) == 0:
		observability.SearchesTotal.WithLabelValues("empty").Inc()
	default:
		observability.SearchesTotal.WithLabelValues("ok").Inc()
	}
	return results, err
}

// CheckFilters validates the non-endpoint fields of q as Search would,
// after applying the default radius.
func (s *MatchingService) CheckFilters(q model.SearchQuery) error {
	return q.WithDefaults(s.opts.DefaultRadiusKm).ValidateFilters(s.opts.MaxRadiusKm)
}

func (s *MatchingService) search(ctx context.Context, q model.SearchQuery) ([]model.MatchResult, error) {
	// ── Step 0: Defaults & validation ───────────────────
	q = q.WithDefaults(s.opts.DefaultRadiusKm)
	if err := q.Validate(s.opts.MaxRadiusKm); err != nil {
		return nil, err
	}
	q = canonicalQuery(q)

	// ── Step 1: FETCH candidates ────────────────────────
	var region model.BoundingRegion
	if q.Origin != nil {
		region = geo.BoundingBox(*q.Origin, q.MaxOriginDistanceKm, model.EndpointOrigin)
	} else {
		region = geo.BoundingBox(*q.Destination, q.MaxDestinationDistanceKm, model.EndpointDestination)
	}

	now := s.now().In(s.opts.Location)
	dates := s.dateRange(q.Date, now)
	if dates.Empty() {
		s.log.WithField("date", q.Date).Debug("query date already past, nothing to fetch")
		return []model.MatchResult{}, nil
	}

	candidates, err := s.Store.FindCandidates(ctx, region, dates)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	observability.SearchCandidates.WithLabelValues("candidates").Observe(float64(len(candidates)))

	// ── Step 2 + 3: FILTER & SCORE ──────────────────────
	results := make([]model.MatchResult, 0, len(candidates))
	for i := range candidates {
		t := &candidates[i]
		r := model.MatchResult{Trip: *t}

		if q.Origin != nil {
			r.OriginDistanceKm = geo.HaversineKm(*q.Origin, t.Origin.Coordinate())
			if r.OriginDistanceKm > q.MaxOriginDistanceKm {
				continue
			}
		}
		if q.Destination != nil {
			r.DestinationDistanceKm = geo.HaversineKm(*q.Destination, t.Destination.Coordinate())
			if r.DestinationDistanceKm > q.MaxDestinationDistanceKm {
				continue
			}
		}
		if q.VehicleType != "" && t.VehicleType != q.VehicleType {
			continue
		}
		if q.TimeWindow != nil && !q.TimeWindow.Contains(t.DepartureTime) {
			continue
		}
		if s.opts.HideDeparted && s.departed(t, now) {
			continue
		}

		r.RankScore = r.OriginDistanceKm + r.DestinationDistanceKm
		results = append(results, r)
	}

	// ── Step 4: SELECT ──────────────────────────────────
	sort.SliceStable(results, func(i, j int) bool {
		return ranksBefore(&results[i], &results[j])
	})

	if limit := s.limit(q); limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	observability.SearchCandidates.WithLabelValues("returned").Observe(float64(len(results)))

	s.log.WithFields(logrus.Fields{
		"region_endpoint": region.Endpoint.String(),
		"candidates":      len(candidates),
		"returned":        len(results),
	}).Debug("search complete")

	return results, nil
}

// ranksBefore orders by rank score, then earlier departure, then lower id.
func ranksBefore(a, b *model.MatchResult) bool {
	if a.RankScore != b.RankScore {
		return a.RankScore < b.RankScore
	}
	if a.Trip.DepartureDate != b.Trip.DepartureDate || a.Trip.DepartureTime != b.Trip.DepartureTime {
		return a.Trip.DepartsBefore(&b.Trip)
	}
	return a.Trip.ID < b.Trip.ID
}

// dateRange is the single query date, or unbounded. With HideDeparted the
// lower bound never precedes today.
func (s *MatchingService) dateRange(date string, now time.Time) model.DateRange {
	r := model.DateRange{}
	if date != "" {
		r = model.SingleDay(date)
	}
	if s.opts.HideDeparted {
		if today := now.Format(model.DateLayout); r.From == "" || r.From < today {
			r.From = today
		}
	}
	return r
}

func (s *MatchingService) departed(t *model.Trip, now time.Time) bool {
	at, err := t.DepartureAt(s.opts.Location)
	if err != nil {
		s.log.WithError(err).WithField("trip_id", t.ID).Warn("unparsable departure, keeping trip")
		return false
	}
	return at.Before(now)
}

func (s *MatchingService) limit(q model.SearchQuery) int {
	switch {
	case q.Limit > 0 && s.opts.MaxResults > 0:
		return min(q.Limit, s.opts.MaxResults)
	case q.Limit > 0:
		return q.Limit
	default:
		return s.opts.MaxResults
	}
}

// canonicalQuery rewrites date and clock fields to their fixed-width form
// so they compare correctly against stored trips. q must be valid.
func canonicalQuery(q model.SearchQuery) model.SearchQuery {
	if q.Date != "" {
		q.Date, _ = model.ParseDate(q.Date)
	}
	if q.TimeWindow != nil {
		start, _ := model.ParseClock(q.TimeWindow.Start)
		end, _ := model.ParseClock(q.TimeWindow.End)
		q.TimeWindow = &model.TimeWindow{Start: start, End: end}
	}
	return q
}
