package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shiva/campusride/internal/model"
)

// postgresSchema is applied at startup. The composite btree indexes lead
// with the date so a single-day search is a narrow range scan on
// (date, lat, lon); the lon predicate is then checked inside the index.
const postgresSchema = `
	CREATE TABLE IF NOT EXISTS trips (
		id                BIGSERIAL PRIMARY KEY,
		driver_id         TEXT             NOT NULL CHECK (driver_id <> ''),
		driver_name       TEXT             NOT NULL DEFAULT '',
		origin_label      TEXT             NOT NULL,
		origin_lat        DOUBLE PRECISION NOT NULL CHECK (origin_lat BETWEEN -90 AND 90),
		origin_lon        DOUBLE PRECISION NOT NULL CHECK (origin_lon BETWEEN -180 AND 180),
		destination_label TEXT             NOT NULL,
		destination_lat   DOUBLE PRECISION NOT NULL CHECK (destination_lat BETWEEN -90 AND 90),
		destination_lon   DOUBLE PRECISION NOT NULL CHECK (destination_lon BETWEEN -180 AND 180),
		departure_date    DATE             NOT NULL,
		departure_time    CHAR(5)          NOT NULL,
		vehicle_type      TEXT             NOT NULL CHECK (vehicle_type IN ('Economic', 'Standard', 'Luxury')),
		seats_available   INT              NOT NULL CHECK (seats_available >= 0),
		fare              BIGINT           NOT NULL CHECK (fare >= 0),
		created_at        TIMESTAMPTZ      NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_trips_origin_date
		ON trips (departure_date, origin_lat, origin_lon);
	CREATE INDEX IF NOT EXISTS idx_trips_destination_date
		ON trips (departure_date, destination_lat, destination_lon);
	CREATE INDEX IF NOT EXISTS idx_trips_driver
		ON trips (driver_id, id);
`

const tripColumns = `
	id, driver_id, driver_name,
	origin_label, origin_lat, origin_lon,
	destination_label, destination_lat, destination_lon,
	to_char(departure_date, 'YYYY-MM-DD'), departure_time,
	vehicle_type, seats_available, fare, created_at`

// TripRepository is the PostgreSQL TripStore.
type TripRepository struct {
	pool *pgxpool.Pool
}

// NewTripRepository creates a new repository backed by the given PG pool.
func NewTripRepository(pool *pgxpool.Pool) *TripRepository {
	return &TripRepository{pool: pool}
}

// EnsureSchema creates the trips table and its indexes if missing.
func (r *TripRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure trips schema: %w", err)
	}
	return nil
}

// Insert validates t and writes it in a single statement.
func (r *TripRepository) Insert(ctx context.Context, t *model.Trip) (int64, error) {
	if err := t.Normalize(); err != nil {
		return 0, fmt.Errorf("insert trip: %w", err)
	}
	date, err := time.Parse(model.DateLayout, t.DepartureDate)
	if err != nil {
		return 0, fmt.Errorf("insert trip: %w", err)
	}

	query := `
		INSERT INTO trips (
			driver_id, driver_name,
			origin_label, origin_lat, origin_lon,
			destination_label, destination_lat, destination_lon,
			departure_date, departure_time,
			vehicle_type, seats_available, fare
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`
	err = r.pool.QueryRow(ctx, query,
		t.DriverID, t.DriverName,
		t.Origin.Label, t.Origin.Lat, t.Origin.Lon,
		t.Destination.Label, t.Destination.Lat, t.Destination.Lon,
		date, t.DepartureTime,
		string(t.VehicleType), t.SeatsAvailable, t.Fare,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert trip: %w", err)
	}
	return t.ID, nil
}

// FindCandidates runs a range query on (date, lat, lon) for the region's endpoint.
func (r *TripRepository) FindCandidates(
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

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where,
		fmt.Sprintf("%s_lat BETWEEN %s AND %s", prefix, arg(region.MinLat), arg(region.MaxLat)),
		fmt.Sprintf("%s_lon BETWEEN %s AND %s", prefix, arg(region.MinLon), arg(region.MaxLon)),
	)
	for _, bound := range []struct{ op, date string }{{">=", dates.From}, {"<=", dates.To}} {
		if bound.date == "" {
			continue
		}
		d, err := time.Parse(model.DateLayout, bound.date)
		if err != nil {
			return nil, fmt.Errorf("find candidate trips: %w", err)
		}
		where = append(where, "departure_date "+bound.op+" "+arg(d))
	}

	query := "SELECT " + tripColumns + " FROM trips WHERE " + strings.Join(where, " AND ")

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find candidate trips: %w", err)
	}
	defer rows.Close()

	return collectTrips(rows)
}

// Get fetches a single trip by ID.
func (r *TripRepository) Get(ctx context.Context, id int64) (*model.Trip, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+tripColumns+" FROM trips WHERE id = $1", id)

	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get trip %d: %w", id, model.ErrTripNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip %d: %w", id, err)
	}
	return t, nil
}

// List returns trips ordered by id, optionally for one driver.
func (r *TripRepository) List(ctx context.Context, filter model.TripFilter) ([]model.Trip, error) {
	limit, offset := listWindow(filter)

	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE ($1 = '' OR driver_id = $1)
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, filter.DriverID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	return collectTrips(rows)
}

// Ping checks pool connectivity.
func (r *TripRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *TripRepository) Close() error {
	r.pool.Close()
	return nil
}

// ─── Scanning ───────────────────────────────────────────────

func scanTrip(row pgx.Row) (*model.Trip, error) {
	var t model.Trip
	var vehicle string
	err := row.Scan(
		&t.ID, &t.DriverID, &t.DriverName,
		&t.Origin.Label, &t.Origin.Lat, &t.Origin.Lon,
		&t.Destination.Label, &t.Destination.Lat, &t.Destination.Lon,
		&t.DepartureDate, &t.DepartureTime,
		&vehicle, &t.SeatsAvailable, &t.Fare, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.VehicleType = model.VehicleType(vehicle)
	return &t, nil
}

func collectTrips(rows pgx.Rows) ([]model.Trip, error) {
	var trips []model.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}
