package service

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/geo"
	"dispatch/internal/observability"
	"dispatch/internal/realtime"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/schedule"
)

// GroupTransport is the realtime surface for dispatch groups. A booking's
// group is the room named by its ID.
type GroupTransport interface {
	JoinRoom(room, userID string)
	CloseRoom(room string)
	BroadcastToRoom(room string, env realtime.Envelope)
}

// CheckpointArmer is the slice of the lifecycle scheduler dispatch needs:
// arming the driver reminder track on acceptance and cancelling pending
// checkpoints on resolution.
type CheckpointArmer interface {
	ArmDriverTrack(ctx context.Context, booking *domain.Booking, driverID string) error
	CancelAll(ctx context.Context, bookingID string) error
}

// searchState is the in-memory fan-out state of one immediate booking.
type searchState struct {
	bookingID    string
	customerID   string
	pickup       domain.Coordinate
	vehicleClass string
	loadVariant  string
	policy       config.SearchPolicy

	mu       sync.Mutex
	radiusKm float64
	step     int
	members  map[string]float64 // driver ID -> distance km at join

	stop     chan struct{}
	stopOnce sync.Once
}

func (st *searchState) halt() {
	st.stopOnce.Do(func() { close(st.stop) })
}

// DispatchCoordinator fans immediate bookings out to nearby drivers and
// arbitrates the acceptance race. The race itself is settled by a
// conditional update in the booking repository; the coordinator only
// manages group membership, radius growth and the surrounding
// notifications.
type DispatchCoordinator struct {
	bookingRepo repository.BookingRepository
	driverRepo  repository.DriverRepository
	registry    *PresenceRegistry
	transport   GroupTransport
	notifier    *NotificationService
	lifecycle   CheckpointArmer
	bus         redis.ResolutionPublisher
	events      *events.Publisher
	cfg         config.DispatchConfig

	mu       sync.Mutex
	searches map[string]*searchState

	now func() time.Time
}

// NewDispatchCoordinator creates a new DispatchCoordinator.
func NewDispatchCoordinator(
	bookingRepo repository.BookingRepository,
	driverRepo repository.DriverRepository,
	registry *PresenceRegistry,
	transport GroupTransport,
	notifier *NotificationService,
	lifecycle CheckpointArmer,
	bus redis.ResolutionPublisher,
	publisher *events.Publisher,
	cfg config.DispatchConfig,
) *DispatchCoordinator {
	return &DispatchCoordinator{
		bookingRepo: bookingRepo,
		driverRepo:  driverRepo,
		registry:    registry,
		transport:   transport,
		notifier:    notifier,
		lifecycle:   lifecycle,
		bus:         bus,
		events:      publisher,
		cfg:         cfg,
		searches:    make(map[string]*searchState),
		now:         time.Now,
	}
}

// StartSearch begins the growing-radius fan-out for an immediate booking.
// The initial radius is pushed out immediately; a background loop widens it
// on the class's interval until the cap, an acceptance or a resolution.
func (c *DispatchCoordinator) StartSearch(ctx context.Context, booking *domain.Booking) error {
	policy := c.cfg.PolicyFor(booking.VehicleClass)
	radius := policy.InitialRadiusKm
	if booking.SearchRadiusKm > radius {
		// A resumed search picks up at its stored radius; it never shrinks.
		radius = booking.SearchRadiusKm
	}
	st := &searchState{
		bookingID:    booking.ID,
		customerID:   booking.CustomerID,
		pickup:       booking.Pickup.Coord,
		vehicleClass: booking.VehicleClass,
		loadVariant:  booking.LoadVariant,
		policy:       policy,
		radiusKm:     radius,
		step:         booking.SearchStep,
		members:      make(map[string]float64),
		stop:         make(chan struct{}),
	}

	c.mu.Lock()
	if _, exists := c.searches[booking.ID]; exists {
		c.mu.Unlock()
		return nil
	}
	c.searches[booking.ID] = st
	c.mu.Unlock()

	observability.FanoutsTotal.Inc()
	if err := c.fanout(ctx, st, booking); err != nil {
		log.Printf("dispatch: initial fan-out for %s failed: %v", booking.ID, err)
	}

	go c.growLoop(st)
	return nil
}

// growLoop widens the search radius until the cap is reached or the search
// is halted.
func (c *DispatchCoordinator) growLoop(st *searchState) {
	ticker := time.NewTicker(st.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.mu.Lock()
			maxed := st.radiusKm >= st.policy.MaxRadiusKm
			if !maxed {
				st.radiusKm += st.policy.IncrementKm
				if st.radiusKm > st.policy.MaxRadiusKm {
					st.radiusKm = st.policy.MaxRadiusKm
				}
				st.step++
			}
			st.mu.Unlock()
			if maxed {
				return
			}

			observability.RadiusGrowthTotal.Inc()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			booking, err := c.bookingRepo.GetByID(ctx, st.bookingID)
			if err != nil {
				cancel()
				if err == repository.ErrNotFound {
					c.Teardown(st.bookingID)
					return
				}
				log.Printf("dispatch: radius grow read for %s failed: %v", st.bookingID, err)
				continue
			}
			if booking.Status != domain.BookingStatusSearching {
				cancel()
				c.Teardown(st.bookingID)
				return
			}
			if err := c.fanout(ctx, st, booking); err != nil {
				log.Printf("dispatch: fan-out for %s failed: %v", st.bookingID, err)
			}
			cancel()
		}
	}
}

// fanout recomputes the eligible set at the current radius and pushes the
// offer to every driver not already in the group.
func (c *DispatchCoordinator) fanout(ctx context.Context, st *searchState, booking *domain.Booking) error {
	fleet, err := c.registry.Snapshot(ctx, func(p *domain.Presence) bool {
		return p.Matches(st.vehicleClass, st.loadVariant)
	})
	if err != nil {
		return err
	}

	candidates := make([]geo.Candidate, 0, len(fleet))
	for _, p := range fleet {
		candidates = append(candidates, geo.Candidate{ID: p.DriverID, Coord: p.Coord})
	}

	st.mu.Lock()
	radius := st.radiusKm
	step := st.step
	st.mu.Unlock()

	matches, err := geo.WithinRadius(st.pickup, candidates, radius)
	if err != nil {
		return err
	}

	for _, m := range matches {
		st.mu.Lock()
		_, already := st.members[m.ID]
		if !already {
			st.members[m.ID] = m.DistanceKm
		}
		st.mu.Unlock()
		if already {
			continue
		}

		c.transport.JoinRoom(st.bookingID, m.ID)
		if err := c.notifier.NotifyBookingOffer(ctx, m.ID, booking, m.DistanceKm); err != nil {
			log.Printf("dispatch: offer push to %s failed: %v", m.ID, err)
		}
	}

	return c.bookingRepo.UpdateSearchState(ctx, st.bookingID, radius, step)
}

// ResumeSearches rebuilds fan-out state for bookings that were mid-search
// when the previous process stopped. Expiry restoration is separate; this
// only brings the in-memory groups back so offers work again immediately.
func (c *DispatchCoordinator) ResumeSearches(ctx context.Context) error {
	bookings, err := c.bookingRepo.ListUnmatchedImmediate(ctx)
	if err != nil {
		return err
	}
	for _, b := range bookings {
		if b.Status != domain.BookingStatusSearching {
			continue
		}
		if err := c.StartSearch(ctx, b); err != nil {
			log.Printf("dispatch: resume search for %s failed: %v", b.ID, err)
		}
	}
	return nil
}

// RefreshDriver folds a moved driver into any active search whose current
// radius now covers them. Called on every location update.
func (c *DispatchCoordinator) RefreshDriver(ctx context.Context, p *domain.Presence) {
	c.mu.Lock()
	states := make([]*searchState, 0, len(c.searches))
	for _, st := range c.searches {
		states = append(states, st)
	}
	c.mu.Unlock()

	for _, st := range states {
		if !p.Matches(st.vehicleClass, st.loadVariant) {
			continue
		}

		dist := geo.HaversineKm(st.pickup, p.Coord)
		st.mu.Lock()
		_, already := st.members[p.DriverID]
		inRange := dist <= st.radiusKm
		if !already && inRange {
			st.members[p.DriverID] = dist
		}
		st.mu.Unlock()
		if already || !inRange {
			continue
		}

		booking, err := c.bookingRepo.GetByID(ctx, st.bookingID)
		if err != nil || booking.Status != domain.BookingStatusSearching {
			continue
		}
		c.transport.JoinRoom(st.bookingID, p.DriverID)
		if err := c.notifier.NotifyBookingOffer(ctx, p.DriverID, booking, dist); err != nil {
			log.Printf("dispatch: offer push to %s failed: %v", p.DriverID, err)
		}
	}
}

// Offer records a driver's interest in a booking. For immediate bookings
// the driver must be in the dispatch group; scheduled bookings are open to
// any driver browsing them. Re-offering is a no-op.
func (c *DispatchCoordinator) Offer(ctx context.Context, bookingID, driverID string) error {
	if bookingID == "" {
		return ErrInvalidBookingID
	}
	if driverID == "" {
		return ErrInvalidDriverID
	}

	booking, err := c.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return ErrBookingUnavailable
		}
		return err
	}

	if booking.Status == domain.BookingStatusSearching {
		c.mu.Lock()
		st := c.searches[bookingID]
		c.mu.Unlock()
		if st == nil {
			return ErrBookingUnavailable
		}
		st.mu.Lock()
		_, member := st.members[driverID]
		st.mu.Unlock()
		if !member {
			return ErrNotInGroup
		}
	}

	ok, err := c.bookingRepo.AddOffer(ctx, bookingID, driverID)
	if err != nil {
		return err
	}
	if !ok {
		if booking.HasOffer(driverID) {
			return nil
		}
		return ErrBookingUnavailable
	}

	observability.OffersTotal.Inc()
	return nil
}

// Accept is the driver's attempt to win a booking. The transition is a
// single conditional update; exactly one concurrent acceptance succeeds and
// every other caller gets ErrBookingUnavailable.
func (c *DispatchCoordinator) Accept(ctx context.Context, bookingID, driverID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	booking, err := c.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrBookingUnavailable
		}
		return nil, err
	}

	var from, to domain.BookingStatus
	switch booking.Mode {
	case domain.ModeImmediate:
		from, to = domain.BookingStatusSearching, domain.BookingStatusActive
	case domain.ModeScheduled, domain.ModePooled:
		from, to = domain.BookingStatusPending, domain.BookingStatusScheduled
	default:
		return nil, ErrInvalidSchedulingMode
	}

	if err := c.checkConflicts(ctx, driverID, booking); err != nil {
		return nil, err
	}

	ok, err := c.bookingRepo.Assign(ctx, bookingID, driverID, from, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.AcceptsLostTotal.Inc()
		return nil, ErrBookingUnavailable
	}
	observability.AcceptsWonTotal.Inc()

	won, err := c.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		won = booking
		won.DriverID = driverID
		won.Status = to
	}
	c.resolveMatched(ctx, won, driverID)
	return won, nil
}

// checkConflicts rejects an acceptance that would collide with the driver's
// scheduled commitments. Immediate jobs occupy a slot starting now.
func (c *DispatchCoordinator) checkConflicts(ctx context.Context, driverID string, booking *domain.Booking) error {
	commitments, err := c.bookingRepo.ListScheduledByDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if len(commitments) == 0 {
		return nil
	}

	start := booking.PickupAt
	if booking.Mode == domain.ModeImmediate {
		start = c.now()
	}
	slot := schedule.Slot{Start: start, Duration: time.Duration(booking.DurationMin * float64(time.Minute))}

	for _, other := range commitments {
		if other.ID == booking.ID {
			continue
		}
		existing := schedule.Slot{
			Start:    other.PickupAt,
			Duration: time.Duration(other.DurationMin * float64(time.Minute)),
		}
		if schedule.Classify(slot, existing, c.cfg.ConflictBuffer, c.cfg.MinGap) != schedule.ConflictNone {
			return ErrScheduleConflict
		}
	}
	return nil
}

// resolveMatched runs the post-acceptance teardown: losers are told the
// booking is taken, the group closes, checkpoints flip from the client
// track to the driver track and the match is announced.
func (c *DispatchCoordinator) resolveMatched(ctx context.Context, booking *domain.Booking, driverID string) {
	c.mu.Lock()
	st := c.searches[booking.ID]
	delete(c.searches, booking.ID)
	c.mu.Unlock()

	losers := make(map[string]struct{})
	if st != nil {
		st.halt()
		st.mu.Lock()
		for id := range st.members {
			losers[id] = struct{}{}
		}
		st.mu.Unlock()
	}
	for _, id := range booking.OfferedDrivers {
		losers[id] = struct{}{}
	}
	delete(losers, driverID)

	loserIDs := make([]string, 0, len(losers))
	for id := range losers {
		loserIDs = append(loserIDs, id)
	}
	sort.Strings(loserIDs)
	for _, id := range loserIDs {
		_ = c.notifier.NotifyBookingTaken(ctx, id, booking.ID)
	}
	c.transport.CloseRoom(booking.ID)

	_ = c.notifier.NotifyBookingConfirmed(ctx, driverID, booking)
	if driver, err := c.driverRepo.GetByID(ctx, driverID); err == nil {
		_ = c.notifier.NotifyDriverAssigned(ctx, booking, driver)
	}

	if booking.Mode == domain.ModeImmediate {
		if err := c.driverRepo.UpdateStatus(ctx, driverID, domain.DriverStatusOnTrip); err != nil {
			log.Printf("dispatch: driver %s status update failed: %v", driverID, err)
		}
	}

	if err := c.lifecycle.CancelAll(ctx, booking.ID); err != nil {
		log.Printf("dispatch: checkpoint cancel for %s failed: %v", booking.ID, err)
	}
	if booking.Mode == domain.ModeScheduled || booking.Mode == domain.ModePooled {
		if err := c.lifecycle.ArmDriverTrack(ctx, booking, driverID); err != nil {
			log.Printf("dispatch: driver track arm for %s failed: %v", booking.ID, err)
		}
	}

	c.events.Publish(events.Event{
		Type: events.BookingMatched, BookingID: booking.ID,
		CustomerID: booking.CustomerID, DriverID: driverID,
	})
	if err := c.bus.Publish(ctx, redis.Resolution{
		BookingID: booking.ID, Outcome: "matched", DriverID: driverID,
	}); err != nil {
		log.Printf("dispatch: resolution publish for %s failed: %v", booking.ID, err)
	}
}

// Cancel withdraws an unmatched booking on the customer's behalf. A booking
// with an assigned driver can no longer be cancelled through this path.
func (c *DispatchCoordinator) Cancel(ctx context.Context, bookingID string) error {
	if bookingID == "" {
		return ErrInvalidBookingID
	}

	booking, err := c.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return ErrBookingUnavailable
		}
		return err
	}

	ok, err := c.bookingRepo.CancelIfUnmatched(ctx, bookingID, c.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookingNotCancellable
	}

	c.transport.BroadcastToRoom(bookingID, realtime.NewEnvelope(
		string(NotificationBookingCancelled),
		map[string]any{"booking_id": bookingID},
	))
	for _, id := range booking.OfferedDrivers {
		_ = c.notifier.NotifyBookingCancelled(ctx, id, bookingID)
	}
	c.Teardown(bookingID)

	if err := c.lifecycle.CancelAll(ctx, bookingID); err != nil {
		log.Printf("dispatch: checkpoint cancel for %s failed: %v", bookingID, err)
	}

	c.events.Publish(events.Event{
		Type: events.BookingCancelled, BookingID: bookingID, CustomerID: booking.CustomerID,
	})
	if err := c.bus.Publish(ctx, redis.Resolution{BookingID: bookingID, Outcome: "cancelled"}); err != nil {
		log.Printf("dispatch: resolution publish for %s failed: %v", bookingID, err)
	}
	return nil
}

// Teardown drops the search state and closes the dispatch group. Safe to
// call for bookings with no active search.
func (c *DispatchCoordinator) Teardown(bookingID string) {
	c.mu.Lock()
	st := c.searches[bookingID]
	delete(c.searches, bookingID)
	c.mu.Unlock()

	if st != nil {
		st.halt()
	}
	c.transport.CloseRoom(bookingID)
}

// HandleResolution reacts to a resolution published by another process
// (the checkpoint worker): the live fan-out for that booking is torn down.
func (c *DispatchCoordinator) HandleResolution(res redis.Resolution) {
	c.Teardown(res.BookingID)
}

// GroupSize reports the current member count of a booking's search group.
func (c *DispatchCoordinator) GroupSize(bookingID string) int {
	c.mu.Lock()
	st := c.searches[bookingID]
	c.mu.Unlock()
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.members)
}

// Close halts every active search loop.
func (c *DispatchCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, st := range c.searches {
		st.halt()
		delete(c.searches, id)
	}
}
