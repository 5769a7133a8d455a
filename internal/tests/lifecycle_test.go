package tests

import (
	"context"
	"testing"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// lifecycleFixture wires the scheduler against in-memory mocks.
type lifecycleFixture struct {
	bookingRepo *MockBookingRepository
	driverRepo  *MockDriverRepository
	queue       *MockJobQueue
	bus         *MockResolutionBus
	broadcaster *MockBroadcaster
	lifecycle   *service.LifecycleScheduler
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	f := &lifecycleFixture{
		bookingRepo: NewMockBookingRepository(),
		driverRepo:  NewMockDriverRepository(),
		queue:       NewMockJobQueue(),
		bus:         NewMockResolutionBus(),
		broadcaster: NewMockBroadcaster(),
	}
	notifier := service.NewNotificationService(f.broadcaster)
	f.lifecycle = service.NewLifecycleScheduler(f.bookingRepo, f.driverRepo, f.queue,
		notifier, f.bus, nil,
		config.LifecycleConfig{ImmediateTTL: 10 * time.Minute}, testDispatchConfig())
	return f
}

func expiryJob(bookingID string) domain.CheckpointJob {
	return domain.CheckpointJob{BookingID: bookingID, Label: domain.CheckpointExpiry, FireAt: time.Now()}
}

func clientJob(bookingID string, label domain.CheckpointLabel) domain.CheckpointJob {
	return domain.CheckpointJob{BookingID: bookingID, Label: label, FireAt: time.Now()}
}

func TestExpiry_DeletesUnmatchedBookingOnce(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	f.bookingRepo.AddBooking(immediateBooking("b1"))

	if err := f.lifecycle.HandleJob(ctx, expiryJob("b1")); err != nil {
		t.Fatalf("expiry failed: %v", err)
	}
	if b := f.bookingRepo.GetBooking("b1"); b != nil {
		t.Errorf("booking should be deleted, got %+v", b)
	}
	if types := f.broadcaster.SentTypes("customer-1"); len(types) != 1 || types[0] != string(service.NotificationBookingExpired) {
		t.Errorf("customer pushes = %v, want [BOOKING_EXPIRED]", types)
	}

	// Duplicate delivery finds nothing to delete and stays silent.
	if err := f.lifecycle.HandleJob(ctx, expiryJob("b1")); err != nil {
		t.Fatalf("duplicate expiry errored: %v", err)
	}
	if res := f.bus.Resolutions(); len(res) != 1 || res[0].Outcome != "expired" {
		t.Errorf("resolutions = %+v, want exactly one expired", res)
	}
}

func TestExpiry_MatchedBookingSurvives(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	b := immediateBooking("b1", "d1")
	b.Status = domain.BookingStatusActive
	b.DriverID = "d1"
	f.bookingRepo.AddBooking(b)

	if err := f.lifecycle.HandleJob(ctx, expiryJob("b1")); err != nil {
		t.Fatalf("expiry failed: %v", err)
	}
	if got := f.bookingRepo.GetBooking("b1"); got == nil || got.Status != domain.BookingStatusActive {
		t.Errorf("matched booking must survive expiry, got %+v", got)
	}
	if res := f.bus.Resolutions(); len(res) != 0 {
		t.Errorf("no resolution expected, got %+v", res)
	}
}

func TestClientT4H_ReminderSentOnce(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	f.bookingRepo.AddBooking(scheduledBooking("b1", time.Now().Add(4*time.Hour), "d1"))

	if err := f.lifecycle.HandleJob(ctx, clientJob("b1", domain.CheckpointClientT4H)); err != nil {
		t.Fatalf("T-4h failed: %v", err)
	}
	if err := f.lifecycle.HandleJob(ctx, clientJob("b1", domain.CheckpointClientT4H)); err != nil {
		t.Fatalf("duplicate T-4h errored: %v", err)
	}

	types := f.broadcaster.SentTypes("customer-1")
	if len(types) != 1 || types[0] != string(service.NotificationChooseDriver) {
		t.Errorf("customer pushes = %v, want [CHOOSE_DRIVER]", types)
	}
	if b := f.bookingRepo.GetBooking("b1"); !b.ChooseReminderSent {
		t.Error("choose reminder flag not set")
	}
}

func TestClientT2H_WarnsOnlyWithOffers(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	f.bookingRepo.AddBooking(scheduledBooking("b-none", time.Now().Add(2*time.Hour)))
	f.bookingRepo.AddBooking(scheduledBooking("b-offers", time.Now().Add(2*time.Hour), "d1"))

	if err := f.lifecycle.HandleJob(ctx, clientJob("b-none", domain.CheckpointClientT2H)); err != nil {
		t.Fatalf("T-2h failed: %v", err)
	}
	if err := f.lifecycle.HandleJob(ctx, clientJob("b-offers", domain.CheckpointClientT2H)); err != nil {
		t.Fatalf("T-2h failed: %v", err)
	}

	types := f.broadcaster.SentTypes("customer-1")
	if len(types) != 1 || types[0] != string(service.NotificationAutoAssignWarning) {
		t.Errorf("customer pushes = %v, want one AUTO_ASSIGN_WARNING", types)
	}
	if b := f.bookingRepo.GetBooking("b-none"); b.AutoAssignWarned {
		t.Error("offerless booking must not be marked warned")
	}
}

func TestClientT1H_AutoAssignsHighestRatedOffer(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	f.driverRepo.AddDriver(&domain.Driver{ID: "d-low", Rating: domain.Rating{Average: 4.2}})
	f.driverRepo.AddDriver(&domain.Driver{ID: "d-high", Rating: domain.Rating{Average: 4.9}})
	f.bookingRepo.AddBooking(scheduledBooking("b1", time.Now().Add(time.Hour), "d-low", "d-high"))

	if err := f.lifecycle.HandleJob(ctx, clientJob("b1", domain.CheckpointClientT1H)); err != nil {
		t.Fatalf("T-1h failed: %v", err)
	}

	b := f.bookingRepo.GetBooking("b1")
	if b.DriverID != "d-high" || b.Status != domain.BookingStatusScheduled {
		t.Fatalf("booking = driver %s status %s, want d-high SCHEDULED", b.DriverID, b.Status)
	}

	if types := f.broadcaster.SentTypes("d-low"); len(types) != 1 || types[0] != string(service.NotificationBookingTaken) {
		t.Errorf("losing driver pushes = %v, want [BOOKING_TAKEN]", types)
	}

	// Driver track armed for the auto-assigned driver.
	key := domain.CheckpointJob{BookingID: "b1", Label: domain.CheckpointDriverT20M}.Key()
	if job, ok := f.queue.Job(key); !ok || job.DriverID != "d-high" {
		t.Errorf("driver deadline checkpoint = %+v ok=%t, want armed for d-high", job, ok)
	}

	res := f.bus.Resolutions()
	if len(res) != 1 || res[0].Outcome != "matched" || res[0].DriverID != "d-high" {
		t.Errorf("resolutions = %+v, want matched by d-high", res)
	}
}

func TestClientT1H_RatingTieBreaksOnSmallestID(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	f.driverRepo.AddDriver(&domain.Driver{ID: "d-bbb", Rating: domain.Rating{Average: 4.7}})
	f.driverRepo.AddDriver(&domain.Driver{ID: "d-aaa", Rating: domain.Rating{Average: 4.7}})
	f.bookingRepo.AddBooking(scheduledBooking("b1", time.Now().Add(time.Hour), "d-bbb", "d-aaa"))

	if err := f.lifecycle.HandleJob(ctx, clientJob("b1", domain.CheckpointClientT1H)); err != nil {
		t.Fatalf("T-1h failed: %v", err)
	}
	if b := f.bookingRepo.GetBooking("b1"); b.DriverID != "d-aaa" {
		t.Errorf("assigned driver = %s, want d-aaa", b.DriverID)
	}
}

func TestClientT1H_SkipsConflictedOffers(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	pickupAt := time.Now().Add(time.Hour)
	f.driverRepo.AddDriver(&domain.Driver{ID: "d-busy", Rating: domain.Rating{Average: 5.0}})
	f.driverRepo.AddDriver(&domain.Driver{ID: "d-free", Rating: domain.Rating{Average: 4.0}})

	// d-busy already holds a commitment in the same window.
	held := scheduledBooking("b-held", pickupAt.Add(5*time.Minute))
	held.Status = domain.BookingStatusScheduled
	held.DriverID = "d-busy"
	f.bookingRepo.AddBooking(held)

	f.bookingRepo.AddBooking(scheduledBooking("b1", pickupAt, "d-busy", "d-free"))

	if err := f.lifecycle.HandleJob(ctx, clientJob("b1", domain.CheckpointClientT1H)); err != nil {
		t.Fatalf("T-1h failed: %v", err)
	}
	if b := f.bookingRepo.GetBooking("b1"); b.DriverID != "d-free" {
		t.Errorf("assigned driver = %s, want d-free (d-busy has a conflict)", b.DriverID)
	}
}

func TestClientT1H_NoOffersAutoCancels(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)
	f.bookingRepo.AddBooking(scheduledBooking("b1", time.Now().Add(time.Hour)))

	if err := f.lifecycle.HandleJob(ctx, clientJob("b1", domain.CheckpointClientT1H)); err != nil {
		t.Fatalf("T-1h failed: %v", err)
	}

	if b := f.bookingRepo.GetBooking("b1"); b.Status != domain.BookingStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", b.Status)
	}
	if types := f.broadcaster.SentTypes("customer-1"); len(types) != 1 || types[0] != string(service.NotificationAutoCancelled) {
		t.Errorf("customer pushes = %v, want [AUTO_CANCELLED]", types)
	}
	if res := f.bus.Resolutions(); len(res) != 1 || res[0].Outcome != "cancelled" {
		t.Errorf("resolutions = %+v, want one cancelled", res)
	}
}

func TestDriverT20M_ReleasesDriverAndReopensBooking(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	b := scheduledBooking("b1", time.Now().Add(20*time.Minute), "d1")
	b.Status = domain.BookingStatusScheduled
	b.DriverID = "d1"
	f.bookingRepo.AddBooking(b)

	job := domain.CheckpointJob{
		BookingID: "b1", Label: domain.CheckpointDriverT20M, DriverID: "d1", FireAt: time.Now(),
	}
	if err := f.lifecycle.HandleJob(ctx, job); err != nil {
		t.Fatalf("T-20m failed: %v", err)
	}

	got := f.bookingRepo.GetBooking("b1")
	if got.Status != domain.BookingStatusPending || got.DriverID != "" {
		t.Errorf("booking = status %s driver %q, want PENDING with no driver", got.Status, got.DriverID)
	}
	if got.HasOffer("d1") {
		t.Error("released driver must be dropped from offered drivers")
	}
	if types := f.broadcaster.SentTypes("customer-1"); len(types) != 1 || types[0] != string(service.NotificationNeedsReplacement) {
		t.Errorf("customer pushes = %v, want [NEEDS_REPLACEMENT]", types)
	}
}

func TestDriverReminder_SkipsWhenDriverChanged(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	b := scheduledBooking("b1", time.Now().Add(5*time.Hour))
	b.Status = domain.BookingStatusScheduled
	b.DriverID = "d-other"
	f.bookingRepo.AddBooking(b)

	job := domain.CheckpointJob{
		BookingID: "b1", Label: domain.CheckpointDriverT5H, DriverID: "d-original", FireAt: time.Now(),
	}
	if err := f.lifecycle.HandleJob(ctx, job); err != nil {
		t.Fatalf("reminder failed: %v", err)
	}
	if types := f.broadcaster.SentTypes("d-original"); len(types) != 0 {
		t.Errorf("stale reminder must not notify, got %v", types)
	}
}

func TestRestore_FiresOverdueAndRearmsPending(t *testing.T) {
	ctx := context.Background()
	f := newLifecycleFixture(t)

	overdue := immediateBooking("b-overdue")
	overdue.CreatedAt = time.Now().Add(-time.Hour)
	f.bookingRepo.AddBooking(overdue)

	fresh := immediateBooking("b-fresh")
	fresh.CreatedAt = time.Now()
	f.bookingRepo.AddBooking(fresh)

	if err := f.lifecycle.Restore(ctx); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if b := f.bookingRepo.GetBooking("b-overdue"); b != nil {
		t.Errorf("overdue booking should be expired on restore, got %+v", b)
	}
	if b := f.bookingRepo.GetBooking("b-fresh"); b == nil {
		t.Error("fresh booking must survive restore")
	}
	key := domain.CheckpointJob{BookingID: "b-fresh", Label: domain.CheckpointExpiry}.Key()
	if _, ok := f.queue.Job(key); !ok {
		t.Error("fresh booking expiry must be re-armed")
	}
}
