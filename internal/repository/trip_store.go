// Package repository provides trip storage for the matching service.
//
// Every backend answers FindCandidates with a coarse rectangle + date range
// filter only. Exact distance filtering and ranking belong to the matching
// service, so the index layout here can change without affecting results.
package repository

import (
	"context"

	"github.com/shiva/campusride/internal/model"
)

// TripStore is the single writer path for trips and the read path used by
// the matching service.
type TripStore interface {
	// Insert validates and stores t, assigning t.ID and t.CreatedAt.
	// The trip is visible to FindCandidates as soon as Insert returns.
	Insert(ctx context.Context, t *model.Trip) (int64, error)

	// FindCandidates returns every trip whose region.Endpoint lies inside
	// region and whose departure date lies inside dates. Order is unspecified.
	FindCandidates(ctx context.Context, region model.BoundingRegion, dates model.DateRange) ([]model.Trip, error)

	// Get returns model.ErrTripNotFound when id does not exist.
	Get(ctx context.Context, id int64) (*model.Trip, error)

	// List returns trips ordered by id.
	List(ctx context.Context, filter model.TripFilter) ([]model.Trip, error)

	Ping(ctx context.Context) error
	Close() error
}

// DefaultListLimit caps List when the filter leaves Limit unset.
const DefaultListLimit = 100

func listWindow(f model.TripFilter) (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
