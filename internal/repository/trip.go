package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// TripRepository defines the persistence operations for pooled trips.
type TripRepository interface {
	// Create persists a new pooled trip.
	Create(ctx context.Context, trip *domain.PooledTrip) error

	// GetByID retrieves a trip by ID.
	GetByID(ctx context.Context, id string) (*domain.PooledTrip, error)

	// GetActiveByDriver returns the driver's active trip, or ErrNotFound.
	GetActiveByDriver(ctx context.Context, driverID string) (*domain.PooledTrip, error)

	// UpdateRoute replaces the stop sequence, cursor and booking set, only
	// if the stored version still matches. Returns false on a lost race.
	UpdateRoute(ctx context.Context, trip *domain.PooledTrip) (bool, error)

	// Complete marks an active trip completed.
	Complete(ctx context.Context, tripID string, at time.Time) (bool, error)
}
