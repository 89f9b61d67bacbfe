package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shiva/campusride/internal/model"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS trips (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		driver_id         TEXT    NOT NULL CHECK (driver_id <> ''),
		driver_name       TEXT    NOT NULL DEFAULT '',
		origin_label      TEXT    NOT NULL,
		origin_lat        REAL    NOT NULL CHECK (origin_lat BETWEEN -90 AND 90),
		origin_lon        REAL    NOT NULL CHECK (origin_lon BETWEEN -180 AND 180),
		destination_label TEXT    NOT NULL,
		destination_lat   REAL    NOT NULL CHECK (destination_lat BETWEEN -90 AND 90),
		destination_lon   REAL    NOT NULL CHECK (destination_lon BETWEEN -180 AND 180),
		departure_date    TEXT    NOT NULL,
		departure_time    TEXT    NOT NULL,
		vehicle_type      TEXT    NOT NULL CHECK (vehicle_type IN ('Economic', 'Standard', 'Luxury')),
		seats_available   INTEGER NOT NULL CHECK (seats_available >= 0),
		fare              INTEGER NOT NULL CHECK (fare >= 0),
		created_at        TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trips_origin_date
		ON trips (departure_date, origin_lat, origin_lon);
	CREATE INDEX IF NOT EXISTS idx_trips_destination_date
		ON trips (departure_date, destination_lat, destination_lon);
	CREATE INDEX IF NOT EXISTS idx_trips_driver
		ON trips (driver_id, id);
`

const sqliteTripColumns = `
	id, driver_id, driver_name,
	origin_label, origin_lat, origin_lon,
	destination_label, destination_lat, destination_lon,
	departure_date, departure_time,
	vehicle_type, seats_available, fare, created_at`

// SQLiteTripRepository is the TripStore for single-node deployments.
type SQLiteTripRepository struct {
	db *sql.DB
	// writeMu serializes inserts; SQLite allows one writer at a time and
	// queuing here avoids busy-timeout churn.
	writeMu sync.Mutex
	now     func() time.Time
}

// NewSQLiteTripRepository wraps an open database.
func NewSQLiteTripRepository(db *sql.DB) *SQLiteTripRepository {
	return &SQLiteTripRepository{db: db, now: time.Now}
}

// EnsureSchema creates the trips table and its indexes if missing.
func (r *SQLiteTripRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ensure trips schema: %w", err)
	}
	return nil
}

// Insert validates t and stores it.
func (r *SQLiteTripRepository) Insert(ctx context.Context, t *model.Trip) (int64, error) {
	if err := t.Normalize(); err != nil {
		return 0, fmt.Errorf("insert trip: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	createdAt := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO trips (
			driver_id, driver_name,
			origin_label, origin_lat, origin_lon,
			destination_label, destination_lat, destination_lon,
			departure_date, departure_time,
			vehicle_type, seats_available, fare, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.DriverID, t.DriverName,
		t.Origin.Label, t.Origin.Lat, t.Origin.Lon,
		t.Destination.Label, t.Destination.Lat, t.Destination.Lon,
		t.DepartureDate, t.DepartureTime,
		string(t.VehicleType), t.SeatsAvailable, t.Fare,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert trip: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert trip: last id: %w", err)
	}

	t.ID = id
	t.CreatedAt = createdAt
	return id, nil
}

// FindCandidates runs a range query on (date, lat, lon) for the region's endpoint.
func (r *SQLiteTripRepository) FindCandidates(
	ctx context.Context,
	region model.BoundingRegion,
	dates model.DateRange,
) ([]model.Trip, error) {
	if dates.Empty() {
		return nil, nil
	}

	prefix := "origin"
	if region.Endpoint == model.EndpointDestination {
		prefix = "destination"
	}

	where := []string{
		prefix + "_lat BETWEEN ? AND ?",
		prefix + "_lon BETWEEN ? AND ?",
	}
	args := []any{region.MinLat, region.MaxLat, region.MinLon, region.MaxLon}
	if dates.From != "" {
		where = append(where, "departure_date >= ?")
		args = append(args, dates.From)
	}
	if dates.To != "" {
		where = append(where, "departure_date <= ?")
		args = append(args, dates.To)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+sqliteTripColumns+" FROM trips WHERE "+strings.Join(where, " AND "),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("find candidate trips: %w", err)
	}
	defer rows.Close()

	return collectSQLiteTrips(rows)
}

// Get fetches a single trip by ID.
func (r *SQLiteTripRepository) Get(ctx context.Context, id int64) (*model.Trip, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+sqliteTripColumns+" FROM trips WHERE id = ?", id)

	t, err := scanSQLiteTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get trip %d: %w", id, model.ErrTripNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip %d: %w", id, err)
	}
	return t, nil
}

// List returns trips ordered by id, optionally for one driver.
func (r *SQLiteTripRepository) List(ctx context.Context, filter model.TripFilter) ([]model.Trip, error) {
	limit, offset := listWindow(filter)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteTripColumns+`
		FROM trips
		WHERE (? = '' OR driver_id = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?`,
		filter.DriverID, filter.DriverID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	return collectSQLiteTrips(rows)
}

func (r *SQLiteTripRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteTripRepository) Close() error {
	return r.db.Close()
}

// ─── Scanning ───────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTrip(row rowScanner) (*model.Trip, error) {
	var t model.Trip
	var vehicle, createdAt string
	err := row.Scan(
		&t.ID, &t.DriverID, &t.DriverName,
		&t.Origin.Label, &t.Origin.Lat, &t.Origin.Lon,
		&t.Destination.Label, &t.Destination.Lat, &t.Destination.Lon,
		&t.DepartureDate, &t.DepartureTime,
		&vehicle, &t.SeatsAvailable, &t.Fare, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	t.VehicleType = model.VehicleType(vehicle)
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	return &t, nil
}

func collectSQLiteTrips(rows *sql.Rows) ([]model.Trip, error) {
	var trips []model.Trip
	for rows.Next() {
		t, err := scanSQLiteTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}
