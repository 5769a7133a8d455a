package tests

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/realtime"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK BOOKING REPOSITORY
// ──────────────────────────────────────────────

// MockBookingRepository is a mock implementation of BookingRepository. The
// conditional methods evaluate their guards under one mutex, which gives
// the same exactly-one-winner behavior as the SQL statements they stand
// in for.
type MockBookingRepository struct {
	mu       sync.Mutex
	bookings map[string]*domain.Booking

	// Counters for verification
	AssignCallCount int32
	DeleteCallCount int32

	// Error injection
	GetError    error
	AssignError error
}

// NewMockBookingRepository creates a new mock booking repository.
func NewMockBookingRepository() *MockBookingRepository {
	return &MockBookingRepository{bookings: make(map[string]*domain.Booking)}
}

// AddBooking seeds a booking.
func (m *MockBookingRepository) AddBooking(b *domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneBooking(b)
	m.bookings[b.ID] = cp
}

// GetBooking returns the stored booking for assertions.
func (m *MockBookingRepository) GetBooking(id string) *domain.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil
	}
	return cloneBooking(b)
}

func cloneBooking(b *domain.Booking) *domain.Booking {
	cp := *b
	cp.Services = append([]string(nil), b.Services...)
	cp.OfferedDrivers = append([]string(nil), b.OfferedDrivers...)
	return &cp
}

func (m *MockBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneBooking(b), nil
}

func (m *MockBookingRepository) GetAll(ctx context.Context) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, cloneBooking(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockBookingRepository) ListUnmatchedImmediate(ctx context.Context) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Booking, 0)
	for _, b := range m.bookings {
		if b.Mode == domain.ModeImmediate && b.Unmatched() {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockBookingRepository) ListOpenScheduled(ctx context.Context) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Booking, 0)
	for _, b := range m.bookings {
		if b.Mode != domain.ModeImmediate && b.Status == domain.BookingStatusPending && b.DriverID == "" {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PickupAt.Before(out[j].PickupAt) })
	return out, nil
}

func (m *MockBookingRepository) ListScheduledByDriver(ctx context.Context, driverID string) ([]*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Booking, 0)
	for _, b := range m.bookings {
		if b.DriverID == driverID && b.Status == domain.BookingStatusScheduled {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PickupAt.Before(out[j].PickupAt) })
	return out, nil
}

func (m *MockBookingRepository) AddOffer(ctx context.Context, bookingID, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || !b.Unmatched() || b.HasOffer(driverID) {
		return false, nil
	}
	b.OfferedDrivers = append(b.OfferedDrivers, driverID)
	return true, nil
}

func (m *MockBookingRepository) Assign(ctx context.Context, bookingID, driverID string, from, to domain.BookingStatus) (bool, error) {
	atomic.AddInt32(&m.AssignCallCount, 1)
	if m.AssignError != nil {
		return false, m.AssignError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != from || b.DriverID != "" || !b.HasOffer(driverID) {
		return false, nil
	}
	b.Status = to
	b.DriverID = driverID
	return true, nil
}

func (m *MockBookingRepository) CancelIfUnmatched(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || !b.Unmatched() {
		return false, nil
	}
	b.Status = domain.BookingStatusCancelled
	b.CancelledAt = at
	return true, nil
}

func (m *MockBookingRepository) DeleteIfUnmatched(ctx context.Context, bookingID string) (bool, error) {
	atomic.AddInt32(&m.DeleteCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || !b.Unmatched() {
		return false, nil
	}
	delete(m.bookings, bookingID)
	return true, nil
}

func (m *MockBookingRepository) Unassign(ctx context.Context, bookingID, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != domain.BookingStatusScheduled || b.DriverID != driverID {
		return false, nil
	}
	b.Status = domain.BookingStatusPending
	b.DriverID = ""
	kept := b.OfferedDrivers[:0]
	for _, id := range b.OfferedDrivers {
		if id != driverID {
			kept = append(kept, id)
		}
	}
	b.OfferedDrivers = kept
	return true, nil
}

func (m *MockBookingRepository) Activate(ctx context.Context, bookingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != domain.BookingStatusScheduled || b.DriverID == "" {
		return false, nil
	}
	b.Status = domain.BookingStatusActive
	return true, nil
}

func (m *MockBookingRepository) CompleteIfActive(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != domain.BookingStatusActive {
		return false, nil
	}
	b.Status = domain.BookingStatusCompleted
	b.CompletedAt = at
	return true, nil
}

func (m *MockBookingRepository) UpdateSearchState(ctx context.Context, bookingID string, radiusKm float64, step int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bookings[bookingID]; ok {
		b.SearchRadiusKm = radiusKm
		b.SearchStep = step
	}
	return nil
}

func (m *MockBookingRepository) MarkChooseReminderSent(ctx context.Context, bookingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.ChooseReminderSent {
		return false, nil
	}
	b.ChooseReminderSent = true
	return true, nil
}

func (m *MockBookingRepository) MarkAutoAssignWarned(ctx context.Context, bookingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.AutoAssignWarned {
		return false, nil
	}
	b.AutoAssignWarned = true
	return true, nil
}

// ──────────────────────────────────────────────
// MOCK DRIVER REPOSITORY
// ──────────────────────────────────────────────

// MockDriverRepository is a mock implementation of DriverRepository.
type MockDriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver

	// Counters for verification
	UpdateStatusCallCount int32

	// Error injection
	UpdateStatusError error
}

// NewMockDriverRepository creates a new mock driver repository.
func NewMockDriverRepository() *MockDriverRepository {
	return &MockDriverRepository{drivers: make(map[string]*domain.Driver)}
}

// AddDriver adds a driver to the mock repository.
func (m *MockDriverRepository) AddDriver(driver *domain.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driver.ID] = driver
}

// GetDriver returns a driver for test assertions.
func (m *MockDriverRepository) GetDriver(id string) *domain.Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drivers[id]
}

func (m *MockDriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driver.ID] = driver
	return nil
}

func (m *MockDriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MockDriverRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Driver, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.drivers[id]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockDriverRepository) GetAll(ctx context.Context) ([]*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockDriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.Status = status
	return nil
}

// ──────────────────────────────────────────────
// MOCK TRIP REPOSITORY
// ──────────────────────────────────────────────

// MockTripRepository is a mock implementation of TripRepository with the
// same version-guarded route update as the real one.
type MockTripRepository struct {
	mu    sync.Mutex
	trips map[string]*domain.PooledTrip

	// UpdateRouteFailures makes the next N route updates lose the version
	// race, for retry tests.
	UpdateRouteFailures int32
}

// NewMockTripRepository creates a new mock trip repository.
func NewMockTripRepository() *MockTripRepository {
	return &MockTripRepository{trips: make(map[string]*domain.PooledTrip)}
}

func cloneTrip(t *domain.PooledTrip) *domain.PooledTrip {
	cp := *t
	cp.Stops = append([]domain.Stop(nil), t.Stops...)
	cp.BookingIDs = append([]string(nil), t.BookingIDs...)
	return &cp
}

// GetTrip returns the stored trip for assertions.
func (m *MockTripRepository) GetTrip(id string) *domain.PooledTrip {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil
	}
	return cloneTrip(t)
}

func (m *MockTripRepository) Create(ctx context.Context, trip *domain.PooledTrip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = cloneTrip(trip)
	return nil
}

func (m *MockTripRepository) GetByID(ctx context.Context, id string) (*domain.PooledTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTrip(t), nil
}

func (m *MockTripRepository) GetActiveByDriver(ctx context.Context, driverID string) (*domain.PooledTrip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.DriverID == driverID && t.Status == domain.TripStatusActive {
			return cloneTrip(t), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockTripRepository) UpdateRoute(ctx context.Context, trip *domain.PooledTrip) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if atomic.LoadInt32(&m.UpdateRouteFailures) > 0 {
		atomic.AddInt32(&m.UpdateRouteFailures, -1)
		return false, nil
	}
	stored, ok := m.trips[trip.ID]
	if !ok || stored.Version != trip.Version {
		return false, nil
	}
	trip.Version++
	m.trips[trip.ID] = cloneTrip(trip)
	return true, nil
}

func (m *MockTripRepository) Complete(ctx context.Context, tripID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok || t.Status != domain.TripStatusActive {
		return false, nil
	}
	t.Status = domain.TripStatusCompleted
	t.EndedAt = at
	return true, nil
}

// ──────────────────────────────────────────────
// MOCK PRESENCE STORE
// ──────────────────────────────────────────────

// MockPresenceStore is an in-memory PresenceStoreInterface.
type MockPresenceStore struct {
	mu      sync.Mutex
	records map[string]*domain.Presence
}

// NewMockPresenceStore creates a new mock presence store.
func NewMockPresenceStore() *MockPresenceStore {
	return &MockPresenceStore{records: make(map[string]*domain.Presence)}
}

func (m *MockPresenceStore) Put(ctx context.Context, p *domain.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.records[p.DriverID] = &cp
	return nil
}

func (m *MockPresenceStore) Get(ctx context.Context, driverID string) (*domain.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[driverID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MockPresenceStore) Remove(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, driverID)
	return nil
}

func (m *MockPresenceStore) All(ctx context.Context) ([]*domain.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Presence, 0, len(m.records))
	for _, p := range m.records {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// ──────────────────────────────────────────────
// MOCK JOB QUEUE
// ──────────────────────────────────────────────

// MockJobQueue is an in-memory JobQueueInterface. Jobs are delivered by
// calling Due/Claim explicitly, so tests control the clock.
type MockJobQueue struct {
	mu   sync.Mutex
	jobs map[string]domain.CheckpointJob
}

// NewMockJobQueue creates a new mock job queue.
func NewMockJobQueue() *MockJobQueue {
	return &MockJobQueue{jobs: make(map[string]domain.CheckpointJob)}
}

// Job returns the pending job for a key, if any.
func (m *MockJobQueue) Job(key string) (domain.CheckpointJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[key]
	return j, ok
}

// Len reports the number of pending jobs.
func (m *MockJobQueue) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job domain.CheckpointJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.Key()] = job
	return nil
}

func (m *MockJobQueue) Cancel(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, key)
	return nil
}

func (m *MockJobQueue) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0)
	for key, job := range m.jobs {
		if !job.FireAt.After(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if int64(len(keys)) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *MockJobQueue) Claim(ctx context.Context, key string) (*domain.CheckpointJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[key]
	if !ok {
		return nil, false, nil
	}
	delete(m.jobs, key)
	return &job, true, nil
}

func (m *MockJobQueue) Requeue(ctx context.Context, job domain.CheckpointJob, delay time.Duration) error {
	job.FireAt = time.Now().Add(delay)
	return m.Enqueue(ctx, job)
}

// ──────────────────────────────────────────────
// MOCK RESOLUTION BUS
// ──────────────────────────────────────────────

// MockResolutionBus records published resolutions.
type MockResolutionBus struct {
	mu          sync.Mutex
	resolutions []redis.Resolution
}

// NewMockResolutionBus creates a new mock resolution bus.
func NewMockResolutionBus() *MockResolutionBus {
	return &MockResolutionBus{}
}

func (m *MockResolutionBus) Publish(ctx context.Context, res redis.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions = append(m.resolutions, res)
	return nil
}

// Resolutions returns the published resolutions.
func (m *MockResolutionBus) Resolutions() []redis.Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]redis.Resolution(nil), m.resolutions...)
}

// ──────────────────────────────────────────────
// MOCK TRANSPORT AND BROADCASTER
// ──────────────────────────────────────────────

// MockTransport records room membership changes.
type MockTransport struct {
	mu          sync.Mutex
	rooms       map[string]map[string]bool
	closedRooms []string
	broadcasts  []realtime.Envelope
}

// NewMockTransport creates a new mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{rooms: make(map[string]map[string]bool)}
}

func (m *MockTransport) JoinRoom(room, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[room] == nil {
		m.rooms[room] = make(map[string]bool)
	}
	m.rooms[room][userID] = true
}

func (m *MockTransport) CloseRoom(room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, room)
	m.closedRooms = append(m.closedRooms, room)
}

func (m *MockTransport) BroadcastToRoom(room string, env realtime.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, env)
}

// RoomMembers returns the members of a room.
func (m *MockTransport) RoomMembers(room string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms[room]))
	for id := range m.rooms[room] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ClosedRooms returns the rooms closed so far.
func (m *MockTransport) ClosedRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closedRooms...)
}

// MockBroadcaster records per-user pushes made by the notification service.
type MockBroadcaster struct {
	mu    sync.Mutex
	sends map[string][]realtime.Envelope
}

// NewMockBroadcaster creates a new mock broadcaster.
func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{sends: make(map[string][]realtime.Envelope)}
}

func (m *MockBroadcaster) SendToUser(userID string, env realtime.Envelope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends[userID] = append(m.sends[userID], env)
	return true
}

// SentTypes returns the envelope types pushed to a user, in order.
func (m *MockBroadcaster) SentTypes(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sends[userID]))
	for _, env := range m.sends[userID] {
		out = append(out, env.Type)
	}
	return out
}

// Interface guards.
var (
	_ repository.BookingRepository = (*MockBookingRepository)(nil)
	_ repository.DriverRepository  = (*MockDriverRepository)(nil)
	_ repository.TripRepository    = (*MockTripRepository)(nil)
	_ redis.PresenceStoreInterface = (*MockPresenceStore)(nil)
	_ redis.JobQueueInterface      = (*MockJobQueue)(nil)
	_ redis.ResolutionPublisher    = (*MockResolutionBus)(nil)
)
