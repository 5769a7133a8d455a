package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// dispatchFixture wires the dispatch stack against in-memory mocks.
type dispatchFixture struct {
	bookingRepo *MockBookingRepository
	driverRepo  *MockDriverRepository
	store       *MockPresenceStore
	queue       *MockJobQueue
	bus         *MockResolutionBus
	transport   *MockTransport
	broadcaster *MockBroadcaster

	registry  *service.PresenceRegistry
	lifecycle *service.LifecycleScheduler
	dispatch  *service.DispatchCoordinator
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		DefaultSearch: config.SearchPolicy{
			InitialRadiusKm: 3.0,
			IncrementKm:     2.0,
			MaxRadiusKm:     15.0,
			Interval:        20 * time.Millisecond,
		},
		StalenessThreshold: 5 * time.Minute,
		SweepInterval:      time.Minute,
		ConflictBuffer:     15 * time.Minute,
		MinGap:             30 * time.Minute,
		MaxPoolSize:        4,
	}
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	f := &dispatchFixture{
		bookingRepo: NewMockBookingRepository(),
		driverRepo:  NewMockDriverRepository(),
		store:       NewMockPresenceStore(),
		queue:       NewMockJobQueue(),
		bus:         NewMockResolutionBus(),
		transport:   NewMockTransport(),
		broadcaster: NewMockBroadcaster(),
	}

	cfg := testDispatchConfig()
	notifier := service.NewNotificationService(f.broadcaster)
	f.registry = service.NewPresenceRegistry(f.store, f.driverRepo, cfg.StalenessThreshold, cfg.SweepInterval)
	f.lifecycle = service.NewLifecycleScheduler(f.bookingRepo, f.driverRepo, f.queue,
		notifier, f.bus, nil, config.LifecycleConfig{ImmediateTTL: 10 * time.Minute}, cfg)
	f.dispatch = service.NewDispatchCoordinator(f.bookingRepo, f.driverRepo, f.registry,
		f.transport, notifier, f.lifecycle, f.bus, nil, cfg)
	f.registry.SetRefresher(f.dispatch)

	t.Cleanup(f.dispatch.Close)
	return f
}

func (f *dispatchFixture) addDriver(id string, rating float64) {
	f.driverRepo.AddDriver(&domain.Driver{
		ID:           id,
		Name:         "Driver " + id,
		Status:       domain.DriverStatusOnDuty,
		VehicleClass: "VAN",
		Rating:       domain.Rating{Average: rating, Count: 10},
	})
}

func immediateBooking(id string, offers ...string) *domain.Booking {
	return &domain.Booking{
		ID:         id,
		Reference:  "BK-" + id,
		CustomerID: "customer-1",
		Pickup: domain.Location{
			Address: "Pickup St", Coord: domain.Coordinate{Lat: 12.97, Lng: 77.59},
		},
		Dropoff: domain.Location{
			Address: "Dropoff Ave", Coord: domain.Coordinate{Lat: 13.00, Lng: 77.60},
		},
		VehicleClass:   "VAN",
		DurationMin:    30,
		Mode:           domain.ModeImmediate,
		Status:         domain.BookingStatusSearching,
		OfferedDrivers: offers,
		CreatedAt:      time.Now(),
	}
}

func scheduledBooking(id string, pickupAt time.Time, offers ...string) *domain.Booking {
	b := immediateBooking(id, offers...)
	b.Mode = domain.ModeScheduled
	b.Status = domain.BookingStatusPending
	b.PickupAt = pickupAt
	return b
}

func TestAccept_ExactlyOneWinnerUnderContention(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	driverIDs := []string{"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8"}
	for _, id := range driverIDs {
		f.addDriver(id, 4.5)
	}
	f.bookingRepo.AddBooking(immediateBooking("b1", driverIDs...))

	var wg sync.WaitGroup
	winners := make(chan string, len(driverIDs))
	losses := make(chan error, len(driverIDs))

	for _, id := range driverIDs {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			if _, err := f.dispatch.Accept(ctx, "b1", driverID); err != nil {
				losses <- err
			} else {
				winners <- driverID
			}
		}(id)
	}
	wg.Wait()
	close(winners)
	close(losses)

	var won []string
	for id := range winners {
		won = append(won, id)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", len(won))
	}
	for err := range losses {
		if !errors.Is(err, service.ErrBookingUnavailable) {
			t.Errorf("loser got %v, want ErrBookingUnavailable", err)
		}
	}

	b := f.bookingRepo.GetBooking("b1")
	if b.Status != domain.BookingStatusActive {
		t.Errorf("booking status = %s, want ACTIVE", b.Status)
	}
	if b.DriverID != won[0] {
		t.Errorf("booking driver = %s, want %s", b.DriverID, won[0])
	}
	if d := f.driverRepo.GetDriver(won[0]); d.Status != domain.DriverStatusOnTrip {
		t.Errorf("winner status = %s, want ON_TRIP", d.Status)
	}

	res := f.bus.Resolutions()
	if len(res) != 1 || res[0].Outcome != "matched" || res[0].DriverID != won[0] {
		t.Errorf("unexpected resolutions: %+v", res)
	}
}

func TestAccept_ClosesGroupAndNotifiesLosers(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	f.addDriver("d1", 4.0)
	f.addDriver("d2", 4.0)
	f.bookingRepo.AddBooking(immediateBooking("b1", "d1", "d2"))

	if _, err := f.dispatch.Accept(ctx, "b1", "d1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	closed := f.transport.ClosedRooms()
	if len(closed) != 1 || closed[0] != "b1" {
		t.Errorf("closed rooms = %v, want [b1]", closed)
	}

	types := f.broadcaster.SentTypes("d2")
	if len(types) != 1 || types[0] != string(service.NotificationBookingTaken) {
		t.Errorf("loser notifications = %v, want [BOOKING_TAKEN]", types)
	}
	winnerTypes := f.broadcaster.SentTypes("d1")
	if len(winnerTypes) == 0 || winnerTypes[0] != string(service.NotificationBookingConfirmed) {
		t.Errorf("winner notifications = %v, want BOOKING_CONFIRMED first", winnerTypes)
	}
}

func TestAccept_RejectsScheduleConflict(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.addDriver("d1", 4.0)

	pickupAt := time.Now().Add(6 * time.Hour)

	// Existing commitment at the same hour.
	existing := scheduledBooking("b-existing", pickupAt)
	existing.Status = domain.BookingStatusScheduled
	existing.DriverID = "d1"
	f.bookingRepo.AddBooking(existing)

	f.bookingRepo.AddBooking(scheduledBooking("b-new", pickupAt.Add(10*time.Minute), "d1"))

	_, err := f.dispatch.Accept(ctx, "b-new", "d1")
	if !errors.Is(err, service.ErrScheduleConflict) {
		t.Fatalf("accept err = %v, want ErrScheduleConflict", err)
	}
	if b := f.bookingRepo.GetBooking("b-new"); b.DriverID != "" {
		t.Errorf("booking should remain unassigned, got driver %s", b.DriverID)
	}
}

func TestAccept_ScheduledArmsDriverTrack(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.addDriver("d1", 4.0)

	b := scheduledBooking("b1", time.Now().Add(8*time.Hour), "d1")
	f.bookingRepo.AddBooking(b)

	won, err := f.dispatch.Accept(ctx, "b1", "d1")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if won.Status != domain.BookingStatusScheduled {
		t.Errorf("status = %s, want SCHEDULED", won.Status)
	}

	for _, label := range []domain.CheckpointLabel{
		domain.CheckpointDriverT5H, domain.CheckpointDriverT2H, domain.CheckpointDriverT20M,
	} {
		key := domain.CheckpointJob{BookingID: "b1", Label: label}.Key()
		job, ok := f.queue.Job(key)
		if !ok {
			t.Errorf("driver checkpoint %s not armed", label)
			continue
		}
		if job.DriverID != "d1" {
			t.Errorf("checkpoint %s driver = %s, want d1", label, job.DriverID)
		}
	}
}

func TestOffer_IdempotentAndMembershipChecked(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.addDriver("d1", 4.0)

	// Scheduled bookings accept offers from any driver.
	f.bookingRepo.AddBooking(scheduledBooking("b-sched", time.Now().Add(8*time.Hour)))
	if err := f.dispatch.Offer(ctx, "b-sched", "d1"); err != nil {
		t.Fatalf("first offer failed: %v", err)
	}
	if err := f.dispatch.Offer(ctx, "b-sched", "d1"); err != nil {
		t.Fatalf("repeat offer should be a no-op, got %v", err)
	}
	if b := f.bookingRepo.GetBooking("b-sched"); len(b.OfferedDrivers) != 1 {
		t.Errorf("offered drivers = %v, want one entry", b.OfferedDrivers)
	}

	// Immediate bookings require group membership.
	b := immediateBooking("b-imm")
	f.bookingRepo.AddBooking(b)
	if err := f.dispatch.StartSearch(ctx, b); err != nil {
		t.Fatalf("start search failed: %v", err)
	}
	if err := f.dispatch.Offer(ctx, "b-imm", "d1"); !errors.Is(err, service.ErrNotInGroup) {
		t.Fatalf("outsider offer err = %v, want ErrNotInGroup", err)
	}
}

func TestStartSearch_FansOutToDriversInRadius(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	f.addDriver("d-near", 4.0)
	f.addDriver("d-far", 4.0)

	// d-near ~1.6km from pickup, d-far ~55km away.
	if _, err := f.registry.GoOnDuty(ctx, "d-near", domain.Coordinate{Lat: 12.985, Lng: 77.59}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}
	if _, err := f.registry.GoOnDuty(ctx, "d-far", domain.Coordinate{Lat: 13.47, Lng: 77.59}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}

	b := immediateBooking("b1")
	f.bookingRepo.AddBooking(b)
	if err := f.dispatch.StartSearch(ctx, b); err != nil {
		t.Fatalf("start search failed: %v", err)
	}

	members := f.transport.RoomMembers("b1")
	if len(members) != 1 || members[0] != "d-near" {
		t.Fatalf("group members = %v, want [d-near]", members)
	}

	offerTypes := f.broadcaster.SentTypes("d-near")
	if len(offerTypes) != 1 || offerTypes[0] != string(service.NotificationBookingOffer) {
		t.Errorf("near driver pushes = %v, want [BOOKING_OFFER]", offerTypes)
	}
	if got := f.broadcaster.SentTypes("d-far"); len(got) != 0 {
		t.Errorf("far driver should get nothing, got %v", got)
	}
}

func TestLocationUpdate_FoldsDriverIntoActiveSearch(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	f.addDriver("d1", 4.0)
	if _, err := f.registry.GoOnDuty(ctx, "d1", domain.Coordinate{Lat: 13.47, Lng: 77.59}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}

	b := immediateBooking("b1")
	f.bookingRepo.AddBooking(b)
	if err := f.dispatch.StartSearch(ctx, b); err != nil {
		t.Fatalf("start search failed: %v", err)
	}
	if got := f.transport.RoomMembers("b1"); len(got) != 0 {
		t.Fatalf("expected empty group, got %v", got)
	}

	// Driver moves next to the pickup point.
	if err := f.registry.UpdateLocation(ctx, "d1", domain.Coordinate{Lat: 12.975, Lng: 77.59}); err != nil {
		t.Fatalf("location update failed: %v", err)
	}

	members := f.transport.RoomMembers("b1")
	if len(members) != 1 || members[0] != "d1" {
		t.Errorf("group members = %v, want [d1]", members)
	}
}

func TestResumeSearches_RebuildsGroupsAtStoredRadius(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)

	f.addDriver("d1", 4.0)
	// ~7km from pickup: outside the 3km initial radius, inside the radius
	// the search had grown to before the restart.
	if _, err := f.registry.GoOnDuty(ctx, "d1", domain.Coordinate{Lat: 13.033, Lng: 77.59}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}

	b := immediateBooking("b1")
	b.SearchRadiusKm = 9.0
	b.SearchStep = 3
	f.bookingRepo.AddBooking(b)

	// A matched booking in the same scan must not get a group.
	matched := immediateBooking("b2", "d1")
	matched.Status = domain.BookingStatusActive
	matched.DriverID = "d1"
	f.bookingRepo.AddBooking(matched)

	if err := f.dispatch.ResumeSearches(ctx); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	members := f.transport.RoomMembers("b1")
	if len(members) != 1 || members[0] != "d1" {
		t.Fatalf("group members = %v, want [d1] at the stored radius", members)
	}
	if got := f.transport.RoomMembers("b2"); len(got) != 0 {
		t.Errorf("matched booking got a group: %v", got)
	}

	// Offers flow again right after the rebuild.
	if err := f.dispatch.Offer(ctx, "b1", "d1"); err != nil {
		t.Fatalf("offer after resume failed: %v", err)
	}
}

func TestCancel_OnlyWhileUnmatched(t *testing.T) {
	ctx := context.Background()
	f := newDispatchFixture(t)
	f.addDriver("d1", 4.0)

	f.bookingRepo.AddBooking(immediateBooking("b1", "d1"))
	if err := f.dispatch.Cancel(ctx, "b1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if b := f.bookingRepo.GetBooking("b1"); b.Status != domain.BookingStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", b.Status)
	}
	res := f.bus.Resolutions()
	if len(res) != 1 || res[0].Outcome != "cancelled" {
		t.Errorf("resolutions = %+v, want one cancelled", res)
	}

	matched := immediateBooking("b2", "d1")
	matched.Status = domain.BookingStatusActive
	matched.DriverID = "d1"
	f.bookingRepo.AddBooking(matched)
	if err := f.dispatch.Cancel(ctx, "b2"); !errors.Is(err, service.ErrBookingNotCancellable) {
		t.Fatalf("cancel err = %v, want ErrBookingNotCancellable", err)
	}
}
