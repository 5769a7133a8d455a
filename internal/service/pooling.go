package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/repository"
	"dispatch/internal/routing"
)

// routeRetries bounds the optimistic retry loop on a route rewrite.
const routeRetries = 3

// PoolingCoordinator maintains multi-stop trips for pooled bookings. Route
// rewrites go through a version-guarded update, retried with fresh state
// when a concurrent rewrite wins.
type PoolingCoordinator struct {
	tripRepo    repository.TripRepository
	bookingRepo repository.BookingRepository
	registry    *PresenceRegistry
	notifier    *NotificationService
	events      *events.Publisher
	maxPoolSize int

	now func() time.Time
}

// NewPoolingCoordinator creates a new PoolingCoordinator.
func NewPoolingCoordinator(
	tripRepo repository.TripRepository,
	bookingRepo repository.BookingRepository,
	registry *PresenceRegistry,
	notifier *NotificationService,
	publisher *events.Publisher,
	maxPoolSize int,
) *PoolingCoordinator {
	return &PoolingCoordinator{
		tripRepo:    tripRepo,
		bookingRepo: bookingRepo,
		registry:    registry,
		notifier:    notifier,
		events:      publisher,
		maxPoolSize: maxPoolSize,
		now:         time.Now,
	}
}

// StartTrip opens a new trip for a driver around their first pooled
// booking. The booking must already be assigned to the driver. A driver
// carries at most one active trip.
func (p *PoolingCoordinator) StartTrip(ctx context.Context, driverID, bookingID string) (*domain.PooledTrip, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}

	if _, err := p.tripRepo.GetActiveByDriver(ctx, driverID); err == nil {
		return nil, ErrTripConflict
	} else if err != repository.ErrNotFound {
		return nil, err
	}

	booking, err := p.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrBookingUnavailable
		}
		return nil, err
	}
	if booking.Mode != domain.ModePooled {
		return nil, ErrNotPooled
	}
	if booking.DriverID != driverID || booking.Status != domain.BookingStatusScheduled {
		return nil, ErrBookingUnavailable
	}

	trip := &domain.PooledTrip{
		ID:       uuid.New().String(),
		DriverID: driverID,
		Status:   domain.TripStatusActive,
		Stops: []domain.Stop{
			{Seq: 0, BookingID: booking.ID, Kind: domain.StopPickup, Address: booking.Pickup.Address, Coord: booking.Pickup.Coord},
			{Seq: 1, BookingID: booking.ID, Kind: domain.StopDropoff, Address: booking.Dropoff.Address, Coord: booking.Dropoff.Coord},
		},
		BookingIDs: []string{booking.ID},
		CreatedAt:  p.now(),
	}
	if err := p.tripRepo.Create(ctx, trip); err != nil {
		return nil, err
	}

	log.Printf("pooling: trip %s started for driver %s with booking %s", trip.ID, driverID, booking.ID)
	return trip, nil
}

// AddBooking folds another pooled booking into an active trip at the
// cheapest insertion position. Completed stops are never reordered; the
// insertion runs over the remaining tail with the driver's live position
// as the route head.
func (p *PoolingCoordinator) AddBooking(ctx context.Context, tripID, bookingID string) (*domain.PooledTrip, float64, error) {
	if tripID == "" {
		return nil, 0, ErrInvalidTripID
	}
	if bookingID == "" {
		return nil, 0, ErrInvalidBookingID
	}

	booking, err := p.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, 0, ErrBookingUnavailable
		}
		return nil, 0, err
	}
	if booking.Mode != domain.ModePooled {
		return nil, 0, ErrNotPooled
	}

	for attempt := 0; attempt < routeRetries; attempt++ {
		trip, err := p.tripRepo.GetByID(ctx, tripID)
		if err != nil {
			if err == repository.ErrNotFound {
				return nil, 0, ErrTripNotActive
			}
			return nil, 0, err
		}
		if trip.Status != domain.TripStatusActive {
			return nil, 0, ErrTripNotActive
		}
		if trip.HasBooking(bookingID) {
			return nil, 0, ErrBookingAlreadyPooled
		}
		if len(trip.BookingIDs) >= p.maxPoolSize {
			return nil, 0, ErrTripFull
		}
		if booking.DriverID != trip.DriverID {
			return nil, 0, ErrBookingUnavailable
		}

		head := p.routeHead(ctx, trip, booking)
		pickup := domain.Stop{BookingID: booking.ID, Kind: domain.StopPickup, Address: booking.Pickup.Address, Coord: booking.Pickup.Coord}
		dropoff := domain.Stop{BookingID: booking.ID, Kind: domain.StopDropoff, Address: booking.Dropoff.Address, Coord: booking.Dropoff.Coord}

		tail, addedKm, err := routing.Insert(trip.Stops[trip.Cursor:], head, pickup, dropoff)
		if err != nil {
			return nil, 0, err
		}

		stops := make([]domain.Stop, 0, len(trip.Stops)+2)
		stops = append(stops, trip.Stops[:trip.Cursor]...)
		stops = append(stops, tail...)
		for i := range stops {
			stops[i].Seq = i
		}
		trip.Stops = stops
		trip.BookingIDs = append(trip.BookingIDs, bookingID)

		ok, err := p.tripRepo.UpdateRoute(ctx, trip)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			continue
		}

		log.Printf("pooling: booking %s added to trip %s (+%.2f km)", bookingID, tripID, addedKm)
		return trip, addedKm, nil
	}

	return nil, 0, ErrTripConflict
}

// routeHead picks the coordinate the remaining route starts from: the
// driver's live position when present, otherwise the next pending stop.
func (p *PoolingCoordinator) routeHead(ctx context.Context, trip *domain.PooledTrip, booking *domain.Booking) domain.Coordinate {
	if presence, err := p.registry.Get(ctx, trip.DriverID); err == nil && presence != nil {
		return presence.Coord
	}
	if trip.Cursor < len(trip.Stops) {
		return trip.Stops[trip.Cursor].Coord
	}
	return booking.Pickup.Coord
}

// CompleteStop marks the trip's current stop done and advances the cursor.
// A completed pickup activates its booking; a completed dropoff completes
// it. When the last stop is done the trip itself completes.
func (p *PoolingCoordinator) CompleteStop(ctx context.Context, tripID string) (*domain.PooledTrip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}

	for attempt := 0; attempt < routeRetries; attempt++ {
		trip, err := p.tripRepo.GetByID(ctx, tripID)
		if err != nil {
			if err == repository.ErrNotFound {
				return nil, ErrTripNotActive
			}
			return nil, err
		}
		if trip.Status != domain.TripStatusActive || trip.Cursor >= len(trip.Stops) {
			return nil, ErrTripNotActive
		}

		stop := trip.Stops[trip.Cursor]
		trip.Stops[trip.Cursor].Done = true
		trip.Cursor++

		ok, err := p.tripRepo.UpdateRoute(ctx, trip)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		p.settleStop(ctx, trip, stop)
		if trip.Cursor >= len(trip.Stops) {
			if err := p.finishTrip(ctx, trip); err != nil {
				return nil, err
			}
		}
		return trip, nil
	}

	return nil, ErrTripConflict
}

// settleStop applies the booking-side effect of a completed stop.
func (p *PoolingCoordinator) settleStop(ctx context.Context, trip *domain.PooledTrip, stop domain.Stop) {
	booking, err := p.bookingRepo.GetByID(ctx, stop.BookingID)
	if err != nil {
		log.Printf("pooling: booking %s read failed after stop: %v", stop.BookingID, err)
		return
	}

	switch stop.Kind {
	case domain.StopPickup:
		if _, err := p.bookingRepo.Activate(ctx, stop.BookingID); err != nil {
			log.Printf("pooling: booking %s activate failed: %v", stop.BookingID, err)
		}
	case domain.StopDropoff:
		if _, err := p.bookingRepo.CompleteIfActive(ctx, stop.BookingID, p.now()); err != nil {
			log.Printf("pooling: booking %s complete failed: %v", stop.BookingID, err)
		}
		p.events.Publish(events.Event{
			Type: events.BookingCompleted, BookingID: stop.BookingID,
			CustomerID: booking.CustomerID, DriverID: trip.DriverID,
		})
	}
	_ = p.notifier.NotifyStopCompleted(ctx, booking.CustomerID, stop.BookingID, stop)
}

// finishTrip closes a trip whose stops are all done.
func (p *PoolingCoordinator) finishTrip(ctx context.Context, trip *domain.PooledTrip) error {
	ok, err := p.tripRepo.Complete(ctx, trip.ID, p.now())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	trip.Status = domain.TripStatusCompleted

	for _, bookingID := range trip.BookingIDs {
		booking, err := p.bookingRepo.GetByID(ctx, bookingID)
		if err != nil {
			continue
		}
		_ = p.notifier.NotifyTripCompleted(ctx, booking.CustomerID, bookingID, trip.ID)
	}
	log.Printf("pooling: trip %s completed", trip.ID)
	return nil
}

// GetTrip returns a trip by ID.
func (p *PoolingCoordinator) GetTrip(ctx context.Context, tripID string) (*domain.PooledTrip, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}
	trip, err := p.tripRepo.GetByID(ctx, tripID)
	if err == repository.ErrNotFound {
		return nil, err
	}
	return trip, err
}

// GetActiveTrip returns the driver's active trip, if any.
func (p *PoolingCoordinator) GetActiveTrip(ctx context.Context, driverID string) (*domain.PooledTrip, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	return p.tripRepo.GetActiveByDriver(ctx, driverID)
}
