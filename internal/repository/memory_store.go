package repository

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/shiva/campusride/internal/model"
)

const (
	// geohashPrecision 5 gives ~4.9km × 4.9km cells, a good fit for
	// campus-scale radii of a few kilometers.
	geohashPrecision = 5

	// maxCoverCells bounds how many buckets a single lookup may visit.
	// Wider regions fall back to a full scan.
	maxCoverCells = 4096
)

// MemoryStore keeps trips in process, indexed by geohash bucket for each
// endpoint. Inserts serialize on the write lock; lookups share the read lock.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	trips    map[int64]model.Trip
	order    []int64
	byOrigin map[string][]int64
	byDest   map[string][]int64
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:    make(map[int64]model.Trip),
		byOrigin: make(map[string][]int64),
		byDest:   make(map[string][]int64),
		now:      time.Now,
	}
}

// Insert validates t and stores a copy of it.
func (s *MemoryStore) Insert(ctx context.Context, t *model.Trip) (int64, error) {
	if err := t.Normalize(); err != nil {
		return 0, fmt.Errorf("insert trip: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t.ID = s.nextID
	t.CreatedAt = s.now().UTC()

	s.trips[t.ID] = *t
	s.order = append(s.order, t.ID)

	oh := cellOf(t.Origin.Coordinate())
	dh := cellOf(t.Destination.Coordinate())
	s.byOrigin[oh] = append(s.byOrigin[oh], t.ID)
	s.byDest[dh] = append(s.byDest[dh], t.ID)

	return t.ID, nil
}

// FindCandidates visits only the geohash buckets overlapping region.
//
// Complexity: O(C + K) for C covering cells and K trips in them; O(N) when
// the region is too wide to cover.
func (s *MemoryStore) FindCandidates(
	ctx context.Context,
	region model.BoundingRegion,
	dates model.DateRange,
) ([]model.Trip, error) {
	if dates.Empty() {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trip
	match := func(id int64) {
		t := s.trips[id]
		if dates.Contains(t.DepartureDate) && region.Contains(region.Pick(&t)) {
			out = append(out, t)
		}
	}

	cells := coveringCells(region)
	if cells == nil {
		for _, id := range s.order {
			match(id)
		}
		return out, nil
	}

	index := s.byOrigin
	if region.Endpoint == model.EndpointDestination {
		index = s.byDest
	}
	for _, cell := range cells {
		for _, id := range index[cell] {
			match(id)
		}
	}
	return out, nil
}

// Get returns a copy of the trip with the given id.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*model.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trips[id]
	if !ok {
		return nil, fmt.Errorf("get trip %d: %w", id, model.ErrTripNotFound)
	}
	return &t, nil
}

// List returns trips in insertion order.
func (s *MemoryStore) List(ctx context.Context, filter model.TripFilter) ([]model.Trip, error) {
	limit, offset := listWindow(filter)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Trip, 0, min(limit, len(s.order)))
	skipped := 0
	for _, id := range s.order {
		t := s.trips[id]
		if filter.DriverID != "" && t.DriverID != filter.DriverID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// ─── Geohash Cells ──────────────────────────────────────────

func cellOf(c model.Coordinate) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lon, geohashPrecision)
}

// coveringCells returns the set of cells overlapping region, or nil when
// more than maxCoverCells would be needed.
//
// Sample points are spaced at most one cell apart in each axis and include
// the far edges, so every cell intersecting the rectangle is hit.
func coveringCells(r model.BoundingRegion) []string {
	cell := geohash.BoundingBox(cellOf(model.Coordinate{Lat: r.MinLat, Lon: r.MinLon}))
	h := cell.MaxLat - cell.MinLat
	w := cell.MaxLng - cell.MinLng

	rows := int(math.Ceil((r.MaxLat-r.MinLat)/h)) + 1
	cols := int(math.Ceil((r.MaxLon-r.MinLon)/w)) + 1
	if rows*cols > maxCoverCells {
		return nil
	}

	seen := make(map[string]struct{}, rows*cols)
	cells := make([]string, 0, rows*cols)
	for i := 0; i <= rows; i++ {
		lat := math.Min(r.MinLat+float64(i)*h, r.MaxLat)
		for j := 0; j <= cols; j++ {
			lon := math.Min(r.MinLon+float64(j)*w, r.MaxLon)
			hash := cellOf(model.Coordinate{Lat: lat, Lon: lon})
			if _, ok := seen[hash]; ok {
				continue
			}
			seen[hash] = struct{}{}
			cells = append(cells, hash)
		}
	}
	return cells
}
