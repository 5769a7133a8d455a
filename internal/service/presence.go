package service

import (
	"context"
	"log"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/observability"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// SearchRefresher re-evaluates active searches when a driver's position
// changes. Implemented by the dispatch coordinator; wired after
// construction because presence and dispatch reference each other.
type SearchRefresher interface {
	RefreshDriver(ctx context.Context, p *domain.Presence)
}

// PresenceRegistry tracks which drivers are on duty and where. Records live
// in Redis so the server can restart without losing the fleet; a background
// sweep drops drivers whose connection died without a clean off-duty.
type PresenceRegistry struct {
	store      redis.PresenceStoreInterface
	driverRepo repository.DriverRepository
	refresher  SearchRefresher

	staleness     time.Duration
	sweepInterval time.Duration

	stop chan struct{}
	now  func() time.Time
}

// NewPresenceRegistry creates a new PresenceRegistry.
func NewPresenceRegistry(
	store redis.PresenceStoreInterface,
	driverRepo repository.DriverRepository,
	staleness, sweepInterval time.Duration,
) *PresenceRegistry {
	return &PresenceRegistry{
		store:         store,
		driverRepo:    driverRepo,
		staleness:     staleness,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		now:           time.Now,
	}
}

// SetRefresher wires the dispatch coordinator in. Must be called before
// drivers start reporting locations.
func (r *PresenceRegistry) SetRefresher(refresher SearchRefresher) {
	r.refresher = refresher
}

// GoOnDuty registers a driver as available. The presence record carries the
// driver's vehicle class and load variant so eligibility checks never hit
// the database.
func (r *PresenceRegistry) GoOnDuty(ctx context.Context, driverID string, coord domain.Coordinate) (*domain.Presence, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	driver, err := r.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrDriverNotFound
		}
		return nil, err
	}

	existing, err := r.store.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}

	p := &domain.Presence{
		DriverID:     driver.ID,
		Coord:        coord,
		VehicleClass: driver.VehicleClass,
		LoadVariant:  driver.LoadVariant,
		ServiceAreas: driver.ServiceAreas,
		LastUpdate:   r.now(),
	}
	if err := r.store.Put(ctx, p); err != nil {
		return nil, err
	}
	if err := r.driverRepo.UpdateStatus(ctx, driverID, domain.DriverStatusOnDuty); err != nil {
		return nil, err
	}

	if existing == nil {
		observability.DriversOnDuty.Inc()
	}
	log.Printf("presence: driver %s on duty at (%.5f, %.5f)", driverID, coord.Lat, coord.Lng)
	return p, nil
}

// GoOffDuty removes a driver from the registry.
func (r *PresenceRegistry) GoOffDuty(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	existing, err := r.store.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if err := r.store.Remove(ctx, driverID); err != nil {
		return err
	}
	if err := r.driverRepo.UpdateStatus(ctx, driverID, domain.DriverStatusOffDuty); err != nil {
		return err
	}

	observability.DriversOnDuty.Dec()
	log.Printf("presence: driver %s off duty", driverID)
	return nil
}

// UpdateLocation refreshes a driver's position and liveness timestamp, then
// lets active searches pick the driver up if they moved into range. A
// location report from a driver with no presence record means the record
// went stale; it is treated as going back on duty.
func (r *PresenceRegistry) UpdateLocation(ctx context.Context, driverID string, coord domain.Coordinate) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	p, err := r.store.Get(ctx, driverID)
	if err != nil {
		return err
	}
	if p == nil {
		p, err = r.GoOnDuty(ctx, driverID, coord)
		if err != nil {
			return err
		}
	} else {
		p.Coord = coord
		p.LastUpdate = r.now()
		if err := r.store.Put(ctx, p); err != nil {
			return err
		}
	}

	if r.refresher != nil {
		r.refresher.RefreshDriver(ctx, p)
	}
	return nil
}

// Get returns a driver's presence record, or nil if off duty.
func (r *PresenceRegistry) Get(ctx context.Context, driverID string) (*domain.Presence, error) {
	return r.store.Get(ctx, driverID)
}

// Snapshot returns the presence records matching the filter. A nil filter
// returns the whole fleet.
func (r *PresenceRegistry) Snapshot(ctx context.Context, filter func(*domain.Presence) bool) ([]*domain.Presence, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return all, nil
	}

	out := make([]*domain.Presence, 0, len(all))
	for _, p := range all {
		if filter(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// HandleDisconnect is the hub's disconnect callback. A dropped driver
// connection takes the driver off duty immediately rather than waiting for
// the staleness sweep.
func (r *PresenceRegistry) HandleDisconnect(userID, userType string) {
	if userType != "driver" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.GoOffDuty(ctx, userID); err != nil {
		log.Printf("presence: off-duty on disconnect failed for %s: %v", userID, err)
	}
}

// StartSweep runs the staleness sweep until Close is called.
func (r *PresenceRegistry) StartSweep() {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweepOnce()
			}
		}
	}()
}

// sweepOnce removes every presence record whose last update is older than
// the staleness threshold.
func (r *PresenceRegistry) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	all, err := r.store.All(ctx)
	if err != nil {
		log.Printf("presence: sweep scan failed: %v", err)
		return
	}

	cutoff := r.now().Add(-r.staleness)
	for _, p := range all {
		if p.LastUpdate.After(cutoff) {
			continue
		}
		if err := r.GoOffDuty(ctx, p.DriverID); err != nil {
			log.Printf("presence: sweep remove failed for %s: %v", p.DriverID, err)
			continue
		}
		log.Printf("presence: driver %s swept as stale (last update %s)", p.DriverID, p.LastUpdate.Format(time.RFC3339))
	}
}

// Close stops the staleness sweep.
func (r *PresenceRegistry) Close() {
	close(r.stop)
}
