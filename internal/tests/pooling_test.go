package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// poolingFixture wires the pooling coordinator against in-memory mocks.
type poolingFixture struct {
	tripRepo    *MockTripRepository
	bookingRepo *MockBookingRepository
	driverRepo  *MockDriverRepository
	store       *MockPresenceStore
	broadcaster *MockBroadcaster
	pooling     *service.PoolingCoordinator
}

func newPoolingFixture(t *testing.T, maxPoolSize int) *poolingFixture {
	t.Helper()

	f := &poolingFixture{
		tripRepo:    NewMockTripRepository(),
		bookingRepo: NewMockBookingRepository(),
		driverRepo:  NewMockDriverRepository(),
		store:       NewMockPresenceStore(),
		broadcaster: NewMockBroadcaster(),
	}
	registry := service.NewPresenceRegistry(f.store, f.driverRepo, 5*time.Minute, time.Minute)
	notifier := service.NewNotificationService(f.broadcaster)
	f.pooling = service.NewPoolingCoordinator(f.tripRepo, f.bookingRepo, registry, notifier, nil, maxPoolSize)
	return f
}

// pooledBooking builds a POOLED booking assigned to the driver, with the
// pickup and dropoff on a north-south line for easy distance reasoning.
func pooledBooking(id, driverID string, pickupLat, dropoffLat float64) *domain.Booking {
	return &domain.Booking{
		ID:         id,
		Reference:  "BK-" + id,
		CustomerID: "customer-" + id,
		Pickup: domain.Location{
			Address: "P-" + id, Coord: domain.Coordinate{Lat: pickupLat, Lng: 77.6},
		},
		Dropoff: domain.Location{
			Address: "D-" + id, Coord: domain.Coordinate{Lat: dropoffLat, Lng: 77.6},
		},
		VehicleClass: "VAN",
		DurationMin:  30,
		Mode:         domain.ModePooled,
		PickupAt:     time.Now().Add(2 * time.Hour),
		Status:       domain.BookingStatusScheduled,
		DriverID:     driverID,
		CreatedAt:    time.Now(),
	}
}

func TestStartTrip_BuildsInitialRoute(t *testing.T) {
	ctx := context.Background()
	f := newPoolingFixture(t, 4)
	f.bookingRepo.AddBooking(pooledBooking("b1", "d1", 12.90, 12.94))

	trip, err := f.pooling.StartTrip(ctx, "d1", "b1")
	if err != nil {
		t.Fatalf("start trip failed: %v", err)
	}
	if len(trip.Stops) != 2 {
		t.Fatalf("stops = %d, want 2", len(trip.Stops))
	}
	if trip.Stops[0].Kind != domain.StopPickup || trip.Stops[1].Kind != domain.StopDropoff {
		t.Errorf("stop order = %s,%s, want PICKUP,DROPOFF", trip.Stops[0].Kind, trip.Stops[1].Kind)
	}

	// One active trip per driver.
	f.bookingRepo.AddBooking(pooledBooking("b2", "d1", 12.91, 12.93))
	if _, err := f.pooling.StartTrip(ctx, "d1", "b2"); !errors.Is(err, service.ErrTripConflict) {
		t.Fatalf("second trip err = %v, want ErrTripConflict", err)
	}
}

func TestStartTrip_RejectsUnassignedOrUnpooled(t *testing.T) {
	ctx := context.Background()
	f := newPoolingFixture(t, 4)

	other := pooledBooking("b1", "d-other", 12.90, 12.94)
	f.bookingRepo.AddBooking(other)
	if _, err := f.pooling.StartTrip(ctx, "d1", "b1"); !errors.Is(err, service.ErrBookingUnavailable) {
		t.Fatalf("err = %v, want ErrBookingUnavailable", err)
	}

	scheduled := pooledBooking("b2", "d1", 12.90, 12.94)
	scheduled.Mode = domain.ModeScheduled
	f.bookingRepo.AddBooking(scheduled)
	if _, err := f.pooling.StartTrip(ctx, "d1", "b2"); !errors.Is(err, service.ErrNotPooled) {
		t.Fatalf("err = %v, want ErrNotPooled", err)
	}
}

func TestAddBooking_InsertsAtCheapestPosition(t *testing.T) {
	ctx := context.Background()
	f := newPoolingFixture(t, 4)

	// Route along one meridian: b1 pickup at 12.90, dropoff at 12.94.
	// b2's stops (12.91, 12.93) nest inside, so the cheapest route is
	// p1, p2, d2, d1.
	f.bookingRepo.AddBooking(pooledBooking("b1", "d1", 12.90, 12.94))
	f.bookingRepo.AddBooking(pooledBooking("b2", "d1", 12.91, 12.93))

	trip, err := f.pooling.StartTrip(ctx, "d1", "b1")
	if err != nil {
		t.Fatalf("start trip failed: %v", err)
	}

	got, addedKm, err := f.pooling.AddBooking(ctx, trip.ID, "b2")
	if err != nil {
		t.Fatalf("add booking failed: %v", err)
	}
	// Nested collinear stops ride the existing leg, so the detour is
	// (numerically) zero.
	if addedKm < -0.001 || addedKm > 0.1 {
		t.Errorf("added km = %f, want ~0 for nested collinear stops", addedKm)
	}

	order := make([]string, 0, len(got.Stops))
	for i, s := range got.Stops {
		if s.Seq != i {
			t.Errorf("stop %d has seq %d", i, s.Seq)
		}
		order = append(order, s.BookingID+":"+string(s.Kind))
	}
	want := []string{"b1:PICKUP", "b2:PICKUP", "b2:DROPOFF", "b1:DROPOFF"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("route order = %v, want %v", order, want)
		}
	}
}

func TestAddBooking_EnforcesCapacityAndUniqueness(t *testing.T) {
	ctx := context.Background()
	f := newPoolingFixture(t, 2)

	f.bookingRepo.AddBooking(pooledBooking("b1", "d1", 12.90, 12.94))
	f.bookingRepo.AddBooking(pooledBooking("b2", "d1", 12.91, 12.93))
	f.bookingRepo.AddBooking(pooledBooking("b3", "d1", 12.92, 12.95))

	trip, err := f.pooling.StartTrip(ctx, "d1", "b1")
	if err != nil {
		t.Fatalf("start trip failed: %v", err)
	}
	if _, _, err := f.pooling.AddBooking(ctx, trip.ID, "b2"); err != nil {
		t.Fatalf("add booking failed: %v", err)
	}

	if _, _, err := f.pooling.AddBooking(ctx, trip.ID, "b2"); !errors.Is(err, service.ErrBookingAlreadyPooled) {
		t.Errorf("duplicate add err = %v, want ErrBookingAlreadyPooled", err)
	}
	if _, _, err := f.pooling.AddBooking(ctx, trip.ID, "b3"); !errors.Is(err, service.ErrTripFull) {
		t.Errorf("over-capacity err = %v, want ErrTripFull", err)
	}
}

func TestAddBooking_RetriesLostVersionRace(t *testing.T) {
	ctx := context.Background()
	f := newPoolingFixture(t, 4)

	f.bookingRepo.AddBooking(pooledBooking("b1", "d1", 12.90, 12.94))
	f.bookingRepo.AddBooking(pooledBooking("b2", "d1", 12.91, 12.93))

	trip, err := f.pooling.StartTrip(ctx, "d1", "b1")
	if err != nil {
		t.Fatalf("start trip failed: %v", err)
	}

	f.tripRepo.UpdateRouteFailures = 1
	if _, _, err := f.pooling.AddBooking(ctx, trip.ID, "b2"); err != nil {
		t.Fatalf("add booking should retry past one lost race, got %v", err)
	}
	if got := f.tripRepo.GetTrip(trip.ID); len(got.BookingIDs) != 2 {
		t.Errorf("trip bookings = %v, want 2 entries", got.BookingIDs)
	}
}

func TestCompleteStop_DrivesBookingsThroughLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newPoolingFixture(t, 4)

	f.bookingRepo.AddBooking(pooledBooking("b1", "d1", 12.90, 12.94))
	trip, err := f.pooling.StartTrip(ctx, "d1", "b1")
	if err != nil {
		t.Fatalf("start trip failed: %v", err)
	}

	// Pickup done: booking goes ACTIVE.
	if _, err := f.pooling.CompleteStop(ctx, trip.ID); err != nil {
		t.Fatalf("complete pickup failed: %v", err)
	}
	if b := f.bookingRepo.GetBooking("b1"); b.Status != domain.BookingStatusActive {
		t.Errorf("after pickup status = %s, want ACTIVE", b.Status)
	}

	// Dropoff done: booking completes, trip closes.
	got, err := f.pooling.CompleteStop(ctx, trip.ID)
	if err != nil {
		t.Fatalf("complete dropoff failed: %v", err)
	}
	if b := f.bookingRepo.GetBooking("b1"); b.Status != domain.BookingStatusCompleted {
		t.Errorf("after dropoff status = %s, want COMPLETED", b.Status)
	}
	if got.Status != domain.TripStatusCompleted {
		t.Errorf("trip status = %s, want COMPLETED", got.Status)
	}

	// No further stops to complete.
	if _, err := f.pooling.CompleteStop(ctx, trip.ID); !errors.Is(err, service.ErrTripNotActive) {
		t.Errorf("extra complete err = %v, want ErrTripNotActive", err)
	}
}
