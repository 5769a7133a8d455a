package service

import (
	"context"
	"log"
	"sort"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/observability"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/schedule"
)

// clientOffsets is the reminder track for the customer of a scheduled
// booking, as time before pickup.
var clientOffsets = []struct {
	label  domain.CheckpointLabel
	offset time.Duration
}{
	{domain.CheckpointClientT4H, 4 * time.Hour},
	{domain.CheckpointClientT2H, 2 * time.Hour},
	{domain.CheckpointClientT1H, time.Hour},
}

// driverOffsets is the reminder track for the assigned driver.
var driverOffsets = []struct {
	label  domain.CheckpointLabel
	offset time.Duration
}{
	{domain.CheckpointDriverT5H, 5 * time.Hour},
	{domain.CheckpointDriverT2H, 2 * time.Hour},
	{domain.CheckpointDriverT20M, 20 * time.Minute},
}

// allLabels covers every checkpoint a booking can have pending.
var allLabels = []domain.CheckpointLabel{
	domain.CheckpointExpiry,
	domain.CheckpointClientT4H, domain.CheckpointClientT2H, domain.CheckpointClientT1H,
	domain.CheckpointDriverT5H, domain.CheckpointDriverT2H, domain.CheckpointDriverT20M,
}

// Ensure LifecycleScheduler satisfies the dispatch coordinator's contract.
var _ CheckpointArmer = (*LifecycleScheduler)(nil)

// LifecycleScheduler arms and handles the delayed checkpoints that move
// bookings through their lifecycle: the expiry TTL for immediate bookings
// and the client and driver reminder tracks for scheduled ones.
//
// Jobs are delivered at least once, so every handler re-reads booking
// state and acts through a conditional update; a duplicate or late fire
// finds its precondition gone and no-ops.
type LifecycleScheduler struct {
	bookingRepo repository.BookingRepository
	driverRepo  repository.DriverRepository
	queue       redis.JobQueueInterface
	notifier    *NotificationService
	bus         redis.ResolutionPublisher
	events      *events.Publisher

	immediateTTL   time.Duration
	conflictBuffer time.Duration
	minGap         time.Duration

	now func() time.Time
}

// NewLifecycleScheduler creates a new LifecycleScheduler.
func NewLifecycleScheduler(
	bookingRepo repository.BookingRepository,
	driverRepo repository.DriverRepository,
	queue redis.JobQueueInterface,
	notifier *NotificationService,
	bus redis.ResolutionPublisher,
	publisher *events.Publisher,
	lifecycleCfg config.LifecycleConfig,
	dispatchCfg config.DispatchConfig,
) *LifecycleScheduler {
	return &LifecycleScheduler{
		bookingRepo:    bookingRepo,
		driverRepo:     driverRepo,
		queue:          queue,
		notifier:       notifier,
		bus:            bus,
		events:         publisher,
		immediateTTL:   lifecycleCfg.ImmediateTTL,
		conflictBuffer: dispatchCfg.ConflictBuffer,
		minGap:         dispatchCfg.MinGap,
		now:            time.Now,
	}
}

// ArmImmediateExpiry schedules the unmatched-booking TTL for an immediate
// booking.
func (s *LifecycleScheduler) ArmImmediateExpiry(ctx context.Context, booking *domain.Booking) error {
	return s.queue.Enqueue(ctx, domain.CheckpointJob{
		BookingID: booking.ID,
		Label:     domain.CheckpointExpiry,
		FireAt:    booking.CreatedAt.Add(s.immediateTTL),
	})
}

// ArmClientTrack schedules the customer reminder checkpoints for a
// scheduled booking. Checkpoints already in the past fire on the worker's
// next poll.
func (s *LifecycleScheduler) ArmClientTrack(ctx context.Context, booking *domain.Booking) error {
	now := s.now()
	for _, cp := range clientOffsets {
		fireAt := booking.PickupAt.Add(-cp.offset)
		if fireAt.Before(now) {
			fireAt = now
		}
		if err := s.queue.Enqueue(ctx, domain.CheckpointJob{
			BookingID: booking.ID,
			Label:     cp.label,
			FireAt:    fireAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ArmDriverTrack schedules the assigned driver's reminder checkpoints.
// Called when a driver wins a scheduled booking; any remaining client
// checkpoints are cancelled by the caller.
func (s *LifecycleScheduler) ArmDriverTrack(ctx context.Context, booking *domain.Booking, driverID string) error {
	now := s.now()
	for _, cp := range driverOffsets {
		fireAt := booking.PickupAt.Add(-cp.offset)
		if fireAt.Before(now) {
			fireAt = now
		}
		if err := s.queue.Enqueue(ctx, domain.CheckpointJob{
			BookingID: booking.ID,
			Label:     cp.label,
			DriverID:  driverID,
			FireAt:    fireAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

// CancelAll removes every pending checkpoint for a booking. Best effort;
// a checkpoint that slips through no-ops against resolved state.
func (s *LifecycleScheduler) CancelAll(ctx context.Context, bookingID string) error {
	for _, label := range allLabels {
		job := domain.CheckpointJob{BookingID: bookingID, Label: label}
		if err := s.queue.Cancel(ctx, job.Key()); err != nil {
			return err
		}
	}
	return nil
}

// Restore re-arms expiry for unmatched immediate bookings after a restart.
// Scheduled-booking checkpoints survive in the durable queue; only the
// immediate TTL needs a scan because an overdue one must fire now.
func (s *LifecycleScheduler) Restore(ctx context.Context) error {
	bookings, err := s.bookingRepo.ListUnmatchedImmediate(ctx)
	if err != nil {
		return err
	}

	for _, b := range bookings {
		job := domain.CheckpointJob{
			BookingID: b.ID,
			Label:     domain.CheckpointExpiry,
			FireAt:    b.CreatedAt.Add(s.immediateTTL),
		}
		if !job.FireAt.After(s.now()) {
			if err := s.HandleJob(ctx, job); err != nil {
				log.Printf("lifecycle: restore expiry for %s failed: %v", b.ID, err)
			}
			continue
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// HandleJob dispatches one claimed checkpoint to its handler. A returned
// error means the job should be requeued and retried.
func (s *LifecycleScheduler) HandleJob(ctx context.Context, job domain.CheckpointJob) error {
	switch job.Label {
	case domain.CheckpointExpiry:
		return s.handleExpiry(ctx, job)
	case domain.CheckpointClientT4H:
		return s.handleChooseReminder(ctx, job)
	case domain.CheckpointClientT2H:
		return s.handleAutoAssignWarning(ctx, job)
	case domain.CheckpointClientT1H:
		return s.handleFinalHour(ctx, job)
	case domain.CheckpointDriverT5H, domain.CheckpointDriverT2H:
		return s.handleDriverReminder(ctx, job)
	case domain.CheckpointDriverT20M:
		return s.handleDriverDeadline(ctx, job)
	default:
		log.Printf("lifecycle: unknown checkpoint label %q for %s", job.Label, job.BookingID)
		return nil
	}
}

// handleExpiry deletes an immediate booking that is still unmatched when
// its TTL fires. The delete is conditional, so a booking matched in the
// meantime survives and a duplicate fire finds nothing.
func (s *LifecycleScheduler) handleExpiry(ctx context.Context, job domain.CheckpointJob) error {
	booking, err := s.bookingRepo.GetByID(ctx, job.BookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			s.skip(job)
			return nil
		}
		return err
	}

	ok, err := s.bookingRepo.DeleteIfUnmatched(ctx, job.BookingID)
	if err != nil {
		return err
	}
	if !ok {
		s.skip(job)
		return nil
	}

	s.fired(job)
	observability.ExpiriesTotal.Inc()
	_ = s.notifier.NotifyBookingExpired(ctx, booking)

	s.events.Publish(events.Event{
		Type: events.BookingExpired, BookingID: booking.ID, CustomerID: booking.CustomerID,
	})
	if err := s.bus.Publish(ctx, redis.Resolution{BookingID: booking.ID, Outcome: "expired"}); err != nil {
		log.Printf("lifecycle: resolution publish for %s failed: %v", booking.ID, err)
	}
	return nil
}

// handleChooseReminder (T-4h) nudges the customer to review offers. The
// reminder flag flips through a conditional update so a redelivered job
// never sends twice.
func (s *LifecycleScheduler) handleChooseReminder(ctx context.Context, job domain.CheckpointJob) error {
	booking, err := s.bookingRepo.GetByID(ctx, job.BookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			s.skip(job)
			return nil
		}
		return err
	}
	if !booking.Unmatched() {
		s.skip(job)
		return nil
	}

	ok, err := s.bookingRepo.MarkChooseReminderSent(ctx, job.BookingID)
	if err != nil {
		return err
	}
	if !ok {
		s.skip(job)
		return nil
	}

	s.fired(job)
	return s.notifier.NotifyChooseDriver(ctx, booking, len(booking.OfferedDrivers) > 0)
}

// handleAutoAssignWarning (T-2h) warns the customer that auto-assignment
// is coming. With no offers there is nothing to auto-assign, so nothing is
// sent.
func (s *LifecycleScheduler) handleAutoAssignWarning(ctx context.Context, job domain.CheckpointJob) error {
	booking, err := s.bookingRepo.GetByID(ctx, job.BookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			s.skip(job)
			return nil
		}
		return err
	}
	if !booking.Unmatched() || len(booking.OfferedDrivers) == 0 {
		s.skip(job)
		return nil
	}

	ok, err := s.bookingRepo.MarkAutoAssignWarned(ctx, job.BookingID)
	if err != nil {
		return err
	}
	if !ok {
		s.skip(job)
		return nil
	}

	s.fired(job)
	return s.notifier.NotifyAutoAssignWarning(ctx, booking)
}

// handleFinalHour (T-1h) resolves a still-unmatched scheduled booking:
// auto-assign the best offering driver, or cancel when nobody offered.
func (s *LifecycleScheduler) handleFinalHour(ctx context.Context, job domain.CheckpointJob) error {
	booking, err := s.bookingRepo.GetByID(ctx, job.BookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			s.skip(job)
			return nil
		}
		return err
	}
	if !booking.Unmatched() {
		s.skip(job)
		return nil
	}

	if len(booking.OfferedDrivers) == 0 {
		return s.autoCancel(ctx, job, booking)
	}
	return s.autoAssign(ctx, job, booking)
}

// autoAssign picks the highest-rated conflict-free offering driver, with
// the lexicographically smallest ID breaking rating ties. Candidates are
// tried in order because a driver may have picked up a conflicting
// commitment since offering; if every assignment fails the booking is
// cancelled.
func (s *LifecycleScheduler) autoAssign(ctx context.Context, job domain.CheckpointJob, booking *domain.Booking) error {
	drivers, err := s.driverRepo.GetByIDs(ctx, booking.OfferedDrivers)
	if err != nil {
		return err
	}

	candidates := make([]*domain.Driver, 0, len(drivers))
	for _, d := range drivers {
		if s.hasConflict(ctx, d.ID, booking) {
			continue
		}
		candidates = append(candidates, d)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Rating.Average != candidates[j].Rating.Average {
			return candidates[i].Rating.Average > candidates[j].Rating.Average
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, d := range candidates {
		ok, err := s.bookingRepo.Assign(ctx, booking.ID, d.ID,
			domain.BookingStatusPending, domain.BookingStatusScheduled)
		if err != nil {
			return err
		}
		if !ok {
			// Lost to a concurrent customer choice; the booking is
			// resolved either way.
			s.skip(job)
			return nil
		}

		s.fired(job)
		booking.DriverID = d.ID
		booking.Status = domain.BookingStatusScheduled

		_ = s.notifier.NotifyBookingConfirmed(ctx, d.ID, booking)
		_ = s.notifier.NotifyDriverAssigned(ctx, booking, d)
		for _, other := range booking.OfferedDrivers {
			if other != d.ID {
				_ = s.notifier.NotifyBookingTaken(ctx, other, booking.ID)
			}
		}

		if err := s.ArmDriverTrack(ctx, booking, d.ID); err != nil {
			log.Printf("lifecycle: driver track arm for %s failed: %v", booking.ID, err)
		}
		s.events.Publish(events.Event{
			Type: events.BookingMatched, BookingID: booking.ID,
			CustomerID: booking.CustomerID, DriverID: d.ID,
		})
		if err := s.bus.Publish(ctx, redis.Resolution{
			BookingID: booking.ID, Outcome: "matched", DriverID: d.ID,
		}); err != nil {
			log.Printf("lifecycle: resolution publish for %s failed: %v", booking.ID, err)
		}
		return nil
	}

	// Every offer had become invalid.
	return s.autoCancel(ctx, job, booking)
}

// autoCancel cancels a scheduled booking that reached the final hour with
// no usable offer.
func (s *LifecycleScheduler) autoCancel(ctx context.Context, job domain.CheckpointJob, booking *domain.Booking) error {
	ok, err := s.bookingRepo.CancelIfUnmatched(ctx, booking.ID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		s.skip(job)
		return nil
	}

	s.fired(job)
	_ = s.notifier.NotifyAutoCancelled(ctx, booking)
	s.events.Publish(events.Event{
		Type: events.BookingCancelled, BookingID: booking.ID, CustomerID: booking.CustomerID,
	})
	if err := s.bus.Publish(ctx, redis.Resolution{BookingID: booking.ID, Outcome: "cancelled"}); err != nil {
		log.Printf("lifecycle: resolution publish for %s failed: %v", booking.ID, err)
	}
	return nil
}

// hasConflict reports whether the booking collides with any of the
// driver's scheduled commitments.
func (s *LifecycleScheduler) hasConflict(ctx context.Context, driverID string, booking *domain.Booking) bool {
	commitments, err := s.bookingRepo.ListScheduledByDriver(ctx, driverID)
	if err != nil {
		log.Printf("lifecycle: conflict scan for %s failed: %v", driverID, err)
		return true
	}

	slot := schedule.Slot{
		Start:    booking.PickupAt,
		Duration: time.Duration(booking.DurationMin * float64(time.Minute)),
	}
	for _, other := range commitments {
		if other.ID == booking.ID {
			continue
		}
		existing := schedule.Slot{
			Start:    other.PickupAt,
			Duration: time.Duration(other.DurationMin * float64(time.Minute)),
		}
		if schedule.Classify(slot, existing, s.conflictBuffer, s.minGap) != schedule.ConflictNone {
			return true
		}
	}
	return false
}

// handleDriverReminder (T-5h, T-2h) reminds the assigned driver of the
// upcoming pickup, provided they still hold the booking.
func (s *LifecycleScheduler) handleDriverReminder(ctx context.Context, job domain.CheckpointJob) error {
	booking, err := s.bookingRepo.GetByID(ctx, job.BookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			s.skip(job)
			return nil
		}
		return err
	}
	if booking.Status != domain.BookingStatusScheduled || booking.DriverID != job.DriverID {
		s.skip(job)
		return nil
	}

	s.fired(job)
	return s.notifier.NotifyPickupReminder(ctx, job.DriverID, booking, booking.PickupAt.Sub(s.now()))
}

// handleDriverDeadline (T-20m) releases a driver who still holds the
// booking at the final checkpoint, reverting it to PENDING so the customer
// can get a replacement.
func (s *LifecycleScheduler) handleDriverDeadline(ctx context.Context, job domain.CheckpointJob) error {
	booking, err := s.bookingRepo.GetByID(ctx, job.BookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			s.skip(job)
			return nil
		}
		return err
	}

	ok, err := s.bookingRepo.Unassign(ctx, job.BookingID, job.DriverID)
	if err != nil {
		return err
	}
	if !ok {
		s.skip(job)
		return nil
	}

	s.fired(job)
	_ = s.notifier.NotifyDriverRemoved(ctx, job.DriverID, booking.ID)
	_ = s.notifier.NotifyNeedsReplacement(ctx, booking)
	s.events.Publish(events.Event{
		Type: events.DriverUnassigned, BookingID: booking.ID,
		CustomerID: booking.CustomerID, DriverID: job.DriverID,
	})
	return nil
}

func (s *LifecycleScheduler) fired(job domain.CheckpointJob) {
	observability.CheckpointsFired.WithLabelValues(string(job.Label)).Inc()
	log.Printf("lifecycle: checkpoint %s fired for %s", job.Label, job.BookingID)
}

func (s *LifecycleScheduler) skip(job domain.CheckpointJob) {
	observability.CheckpointsSkipped.WithLabelValues(string(job.Label)).Inc()
}
