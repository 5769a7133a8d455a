package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

// NewBookingRepositoryWithTx creates a booking repository using a transaction.
func NewBookingRepositoryWithTx(tx *sql.Tx) *BookingRepository {
	return &BookingRepository{q: tx}
}

const bookingColumns = `
	id, reference, customer_id,
	pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng,
	vehicle_class, load_variant,
	distance_km, duration_min,
	price_base, price_distance, price_services, price_total, currency,
	payment_method, services, note,
	mode, pickup_at,
	status, driver_id, offered_drivers,
	choose_reminder_sent, auto_assign_warned,
	search_radius_km, search_step,
	created_at, cancelled_at, completed_at
`

// Create persists a new booking.
func (r *BookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
		        $29, $30, $31, $32, $33)
	`

	_, err := r.q.ExecContext(ctx, query,
		b.ID, b.Reference, b.CustomerID,
		b.Pickup.Address, b.Pickup.Coord.Lat, b.Pickup.Coord.Lng,
		b.Dropoff.Address, b.Dropoff.Coord.Lat, b.Dropoff.Coord.Lng,
		b.VehicleClass, b.LoadVariant,
		b.DistanceKm, b.DurationMin,
		b.Price.Base, b.Price.Distance, b.Price.Services, b.Price.Total, b.Price.Currency,
		b.PaymentMethod, pq.Array(b.Services), b.Note,
		b.Mode, nullTime(b.PickupAt),
		b.Status, nullString(b.DriverID), pq.Array(b.OfferedDrivers),
		b.ChooseReminderSent, b.AutoAssignWarned,
		b.SearchRadiusKm, b.SearchStep,
		b.CreatedAt, nullTime(b.CancelledAt), nullTime(b.CompletedAt),
	)
	return err
}

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	b, err := scanBooking(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// GetAll retrieves recent bookings.
func (r *BookingRepository) GetAll(ctx context.Context) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings ORDER BY created_at DESC LIMIT 100`
	return r.list(ctx, query)
}

// ListUnmatchedImmediate returns immediate bookings still awaiting a driver.
func (r *BookingRepository) ListUnmatchedImmediate(ctx context.Context) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE mode = $1 AND driver_id IS NULL AND status IN ($2, $3)
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, domain.ModeImmediate, domain.BookingStatusPending, domain.BookingStatusSearching)
}

// ListOpenScheduled returns scheduled bookings without a driver.
func (r *BookingRepository) ListOpenScheduled(ctx context.Context) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE mode IN ($1, $2) AND driver_id IS NULL AND status = $3
		ORDER BY pickup_at ASC
	`
	return r.list(ctx, query, domain.ModeScheduled, domain.ModePooled, domain.BookingStatusPending)
}

// ListScheduledByDriver returns the driver's upcoming scheduled commitments.
func (r *BookingRepository) ListScheduledByDriver(ctx context.Context, driverID string) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + ` FROM bookings
		WHERE driver_id = $1 AND status = $2
		ORDER BY pickup_at ASC
	`
	return r.list(ctx, query, driverID, domain.BookingStatusScheduled)
}

// AddOffer appends the driver to offered_drivers if the booking is still
// open to offers. Duplicate offers affect no rows.
func (r *BookingRepository) AddOffer(ctx context.Context, bookingID, driverID string) (bool, error) {
	query := `
		UPDATE bookings
		SET offered_drivers = array_append(offered_drivers, $2)
		WHERE id = $1
		  AND driver_id IS NULL
		  AND status IN ($3, $4)
		  AND NOT ($2 = ANY(offered_drivers))
	`
	return r.condExec(ctx, query, bookingID, driverID,
		domain.BookingStatusPending, domain.BookingStatusSearching)
}

// Assign binds the driver to the booking in a single conditional update.
// The status precondition, the driver_id IS NULL guard and the offer-list
// membership check all live in one statement, so concurrent acceptances
// resolve to exactly one winner.
func (r *BookingRepository) Assign(ctx context.Context, bookingID, driverID string, from, to domain.BookingStatus) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $4, driver_id = $2
		WHERE id = $1
		  AND status = $3
		  AND driver_id IS NULL
		  AND $2 = ANY(offered_drivers)
	`
	return r.condExec(ctx, query, bookingID, driverID, from, to)
}

// CancelIfUnmatched cancels a booking that has no driver yet.
func (r *BookingRepository) CancelIfUnmatched(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2, cancelled_at = $3
		WHERE id = $1
		  AND driver_id IS NULL
		  AND status IN ($4, $5)
	`
	return r.condExec(ctx, query, bookingID, domain.BookingStatusCancelled, at,
		domain.BookingStatusPending, domain.BookingStatusSearching)
}

// DeleteIfUnmatched removes an unmatched booking.
func (r *BookingRepository) DeleteIfUnmatched(ctx context.Context, bookingID string) (bool, error) {
	query := `
		DELETE FROM bookings
		WHERE id = $1
		  AND driver_id IS NULL
		  AND status IN ($2, $3)
	`
	return r.condExec(ctx, query, bookingID,
		domain.BookingStatusPending, domain.BookingStatusSearching)
}

// Unassign clears the driver from a SCHEDULED booking and reverts it to
// PENDING, removing the driver from the offer list.
func (r *BookingRepository) Unassign(ctx context.Context, bookingID, driverID string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $3, driver_id = NULL, offered_drivers = array_remove(offered_drivers, $2)
		WHERE id = $1
		  AND status = $4
		  AND driver_id = $2
	`
	return r.condExec(ctx, query, bookingID, driverID,
		domain.BookingStatusPending, domain.BookingStatusScheduled)
}

// Activate moves a SCHEDULED booking with a driver to ACTIVE.
func (r *BookingRepository) Activate(ctx context.Context, bookingID string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2
		WHERE id = $1
		  AND status = $3
		  AND driver_id IS NOT NULL
	`
	return r.condExec(ctx, query, bookingID, domain.BookingStatusActive, domain.BookingStatusScheduled)
}

// CompleteIfActive moves an ACTIVE booking to COMPLETED.
func (r *BookingRepository) CompleteIfActive(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status = $4
	`
	return r.condExec(ctx, query, bookingID, domain.BookingStatusCompleted, at, domain.BookingStatusActive)
}

// UpdateSearchState records the current search radius and step.
func (r *BookingRepository) UpdateSearchState(ctx context.Context, bookingID string, radiusKm float64, step int) error {
	query := `UPDATE bookings SET search_radius_km = $2, search_step = $3 WHERE id = $1`
	_, err := r.q.ExecContext(ctx, query, bookingID, radiusKm, step)
	return err
}

// MarkChooseReminderSent flips the T-4h reminder flag once.
func (r *BookingRepository) MarkChooseReminderSent(ctx context.Context, bookingID string) (bool, error) {
	query := `UPDATE bookings SET choose_reminder_sent = TRUE WHERE id = $1 AND choose_reminder_sent = FALSE`
	return r.condExec(ctx, query, bookingID)
}

// MarkAutoAssignWarned flips the T-2h warning flag once.
func (r *BookingRepository) MarkAutoAssignWarned(ctx context.Context, bookingID string) (bool, error) {
	query := `UPDATE bookings SET auto_assign_warned = TRUE WHERE id = $1 AND auto_assign_warned = FALSE`
	return r.condExec(ctx, query, bookingID)
}

// condExec runs a conditional statement and reports whether a row changed.
func (r *BookingRepository) condExec(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Booking, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var pickupAt, cancelledAt, completedAt sql.NullTime
	var driverID, note sql.NullString
	var services, offered pq.StringArray

	err := row.Scan(
		&b.ID, &b.Reference, &b.CustomerID,
		&b.Pickup.Address, &b.Pickup.Coord.Lat, &b.Pickup.Coord.Lng,
		&b.Dropoff.Address, &b.Dropoff.Coord.Lat, &b.Dropoff.Coord.Lng,
		&b.VehicleClass, &b.LoadVariant,
		&b.DistanceKm, &b.DurationMin,
		&b.Price.Base, &b.Price.Distance, &b.Price.Services, &b.Price.Total, &b.Price.Currency,
		&b.PaymentMethod, &services, &note,
		&b.Mode, &pickupAt,
		&b.Status, &driverID, &offered,
		&b.ChooseReminderSent, &b.AutoAssignWarned,
		&b.SearchRadiusKm, &b.SearchStep,
		&b.CreatedAt, &cancelledAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Services = services
	b.OfferedDrivers = offered
	if note.Valid {
		b.Note = note.String
	}
	if driverID.Valid {
		b.DriverID = driverID.String
	}
	if pickupAt.Valid {
		b.PickupAt = pickupAt.Time
	}
	if cancelledAt.Valid {
		b.CancelledAt = cancelledAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = completedAt.Time
	}
	return &b, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
