package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// BookingRepository defines the persistence operations for bookings.
//
// The conditional methods return (false, nil) when the precondition does not
// hold against current state. Guard failures are business outcomes, not
// errors; callers decide how to report them. Each conditional method is a
// single atomic statement at the storage layer, which is what makes
// concurrent acceptance safe without application-level locking.
type BookingRepository interface {
	// Create persists a new booking.
	Create(ctx context.Context, booking *domain.Booking) error

	// GetByID retrieves a booking by ID.
	GetByID(ctx context.Context, id string) (*domain.Booking, error)

	// GetAll retrieves recent bookings.
	GetAll(ctx context.Context) ([]*domain.Booking, error)

	// ListUnmatchedImmediate returns immediate bookings still awaiting a
	// driver. Used by the expiry recovery scan on startup.
	ListUnmatchedImmediate(ctx context.Context) ([]*domain.Booking, error)

	// ListOpenScheduled returns scheduled bookings without a driver,
	// ordered by pickup time.
	ListOpenScheduled(ctx context.Context) ([]*domain.Booking, error)

	// ListScheduledByDriver returns the driver's upcoming scheduled
	// commitments, for conflict checking.
	ListScheduledByDriver(ctx context.Context, driverID string) ([]*domain.Booking, error)

	// AddOffer appends the driver to offered_drivers if the booking is
	// still unmatched and the driver has not offered yet.
	AddOffer(ctx context.Context, bookingID, driverID string) (bool, error)

	// Assign sets the driver and moves status from `from` to `to`, only if
	// the booking is currently in `from`, has no driver, and the driver is
	// in offered_drivers. At most one concurrent caller wins.
	Assign(ctx context.Context, bookingID, driverID string, from, to domain.BookingStatus) (bool, error)

	// CancelIfUnmatched cancels a booking that has no driver yet.
	CancelIfUnmatched(ctx context.Context, bookingID string, at time.Time) (bool, error)

	// DeleteIfUnmatched removes an unmatched booking. Used by expiry and
	// auto-cancel; a second fire finds nothing to delete.
	DeleteIfUnmatched(ctx context.Context, bookingID string) (bool, error)

	// Unassign clears the driver from a SCHEDULED booking, reverts it to
	// PENDING and drops the driver from offered_drivers.
	Unassign(ctx context.Context, bookingID, driverID string) (bool, error)

	// Activate moves a SCHEDULED booking with a driver to ACTIVE. Used when
	// a pooled pickup completes or a scheduled pickup starts.
	Activate(ctx context.Context, bookingID string) (bool, error)

	// CompleteIfActive moves an ACTIVE booking to COMPLETED.
	CompleteIfActive(ctx context.Context, bookingID string, at time.Time) (bool, error)

	// UpdateSearchState records the current search radius and step for an
	// immediate booking.
	UpdateSearchState(ctx context.Context, bookingID string, radiusKm float64, step int) error

	// MarkChooseReminderSent flips the T-4h reminder flag once.
	MarkChooseReminderSent(ctx context.Context, bookingID string) (bool, error)

	// MarkAutoAssignWarned flips the T-2h warning flag once.
	MarkAutoAssignWarned(ctx context.Context, bookingID string) (bool, error)
}
