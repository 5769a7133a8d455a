package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
// The stop sequence is stored as JSONB; route rewrites are guarded by an
// integer version column so two concurrent insertions cannot interleave.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

const tripColumns = `
	id, driver_id, status, stops, cursor, booking_ids, version, created_at, ended_at
`

// Create persists a new pooled trip.
func (r *TripRepository) Create(ctx context.Context, t *domain.PooledTrip) error {
	stops, err := json.Marshal(t.Stops)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.q.ExecContext(ctx, query,
		t.ID, t.DriverID, t.Status, stops, t.Cursor,
		pq.Array(t.BookingIDs), t.Version, t.CreatedAt, nullTime(t.EndedAt),
	)
	return err
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.PooledTrip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`
	return r.get(ctx, query, id)
}

// GetActiveByDriver returns the driver's active trip.
func (r *TripRepository) GetActiveByDriver(ctx context.Context, driverID string) (*domain.PooledTrip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE driver_id = $1 AND status = $2`
	return r.get(ctx, query, driverID, domain.TripStatusActive)
}

// UpdateRoute replaces the stop sequence if the stored version matches.
func (r *TripRepository) UpdateRoute(ctx context.Context, t *domain.PooledTrip) (bool, error) {
	stops, err := json.Marshal(t.Stops)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE trips
		SET stops = $2, cursor = $3, booking_ids = $4, version = version + 1
		WHERE id = $1 AND status = $5 AND version = $6
	`
	result, err := r.q.ExecContext(ctx, query,
		t.ID, stops, t.Cursor, pq.Array(t.BookingIDs), domain.TripStatusActive, t.Version,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		t.Version++
	}
	return rows > 0, nil
}

// Complete marks an active trip completed.
func (r *TripRepository) Complete(ctx context.Context, tripID string, at time.Time) (bool, error) {
	query := `
		UPDATE trips
		SET status = $2, ended_at = $3
		WHERE id = $1 AND status = $4
	`
	result, err := r.q.ExecContext(ctx, query, tripID, domain.TripStatusCompleted, at, domain.TripStatusActive)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *TripRepository) get(ctx context.Context, query string, args ...any) (*domain.PooledTrip, error) {
	var t domain.PooledTrip
	var stops []byte
	var bookingIDs pq.StringArray
	var endedAt sql.NullTime

	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&t.ID, &t.DriverID, &t.Status, &stops, &t.Cursor,
		&bookingIDs, &t.Version, &t.CreatedAt, &endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(stops, &t.Stops); err != nil {
		return nil, err
	}
	t.BookingIDs = bookingIDs
	if endedAt.Valid {
		t.EndedAt = endedAt.Time
	}
	return &t, nil
}
