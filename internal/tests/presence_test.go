package tests

import (
	"context"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

func newPresenceFixture(staleness, sweepInterval time.Duration) (*service.PresenceRegistry, *MockPresenceStore, *MockDriverRepository) {
	store := NewMockPresenceStore()
	driverRepo := NewMockDriverRepository()
	registry := service.NewPresenceRegistry(store, driverRepo, staleness, sweepInterval)
	return registry, store, driverRepo
}

func onDutyDriver(id string) *domain.Driver {
	return &domain.Driver{
		ID:           id,
		Name:         "Driver " + id,
		Status:       domain.DriverStatusOffDuty,
		VehicleClass: "VAN",
		LoadVariant:  "CLOSED",
	}
}

func TestGoOnDuty_RegistersPresenceFromDriverRecord(t *testing.T) {
	ctx := context.Background()
	registry, store, driverRepo := newPresenceFixture(5*time.Minute, time.Minute)
	driverRepo.AddDriver(onDutyDriver("d1"))

	p, err := registry.GoOnDuty(ctx, "d1", domain.Coordinate{Lat: 12.9, Lng: 77.6})
	if err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}
	if p.VehicleClass != "VAN" || p.LoadVariant != "CLOSED" {
		t.Errorf("presence = %+v, want vehicle profile copied from driver", p)
	}
	if d := driverRepo.GetDriver("d1"); d.Status != domain.DriverStatusOnDuty {
		t.Errorf("driver status = %s, want ON_DUTY", d.Status)
	}
	if got, _ := store.Get(ctx, "d1"); got == nil {
		t.Fatal("presence record missing from store")
	}
}

func TestGoOnDuty_UnknownDriver(t *testing.T) {
	registry, _, _ := newPresenceFixture(5*time.Minute, time.Minute)
	if _, err := registry.GoOnDuty(context.Background(), "ghost", domain.Coordinate{}); err != service.ErrDriverNotFound {
		t.Fatalf("err = %v, want ErrDriverNotFound", err)
	}
}

func TestGoOffDuty_RemovesPresence(t *testing.T) {
	ctx := context.Background()
	registry, store, driverRepo := newPresenceFixture(5*time.Minute, time.Minute)
	driverRepo.AddDriver(onDutyDriver("d1"))

	if _, err := registry.GoOnDuty(ctx, "d1", domain.Coordinate{Lat: 12.9, Lng: 77.6}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}
	if err := registry.GoOffDuty(ctx, "d1"); err != nil {
		t.Fatalf("go off duty failed: %v", err)
	}

	if got, _ := store.Get(ctx, "d1"); got != nil {
		t.Error("presence record should be removed")
	}
	if d := driverRepo.GetDriver("d1"); d.Status != domain.DriverStatusOffDuty {
		t.Errorf("driver status = %s, want OFF_DUTY", d.Status)
	}

	// Going off duty twice is harmless.
	if err := registry.GoOffDuty(ctx, "d1"); err != nil {
		t.Fatalf("second go off duty errored: %v", err)
	}
}

func TestUpdateLocation_ReregistersAfterStaleRemoval(t *testing.T) {
	ctx := context.Background()
	registry, store, driverRepo := newPresenceFixture(5*time.Minute, time.Minute)
	driverRepo.AddDriver(onDutyDriver("d1"))

	// No presence record yet; a location report puts the driver on duty.
	if err := registry.UpdateLocation(ctx, "d1", domain.Coordinate{Lat: 12.9, Lng: 77.6}); err != nil {
		t.Fatalf("location update failed: %v", err)
	}
	p, _ := store.Get(ctx, "d1")
	if p == nil {
		t.Fatal("presence record should be created by the location report")
	}
	if d := driverRepo.GetDriver("d1"); d.Status != domain.DriverStatusOnDuty {
		t.Errorf("driver status = %s, want ON_DUTY", d.Status)
	}
}

func TestSweep_RemovesStaleDrivers(t *testing.T) {
	ctx := context.Background()
	registry, store, driverRepo := newPresenceFixture(time.Minute, 10*time.Millisecond)
	driverRepo.AddDriver(onDutyDriver("d-stale"))
	driverRepo.AddDriver(onDutyDriver("d-live"))

	if _, err := registry.GoOnDuty(ctx, "d-stale", domain.Coordinate{Lat: 12.9, Lng: 77.6}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}
	if _, err := registry.GoOnDuty(ctx, "d-live", domain.Coordinate{Lat: 12.9, Lng: 77.6}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}

	// Age d-stale past the threshold.
	stale, _ := store.Get(ctx, "d-stale")
	stale.LastUpdate = time.Now().Add(-2 * time.Minute)
	if err := store.Put(ctx, stale); err != nil {
		t.Fatalf("seeding stale record failed: %v", err)
	}

	registry.StartSweep()
	defer registry.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, _ := store.Get(ctx, "d-stale"); p == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if p, _ := store.Get(ctx, "d-stale"); p != nil {
		t.Fatal("stale driver was not swept")
	}
	if p, _ := store.Get(ctx, "d-live"); p == nil {
		t.Fatal("live driver must survive the sweep")
	}
	if d := driverRepo.GetDriver("d-stale"); d.Status != domain.DriverStatusOffDuty {
		t.Errorf("stale driver status = %s, want OFF_DUTY", d.Status)
	}
}

func TestHandleDisconnect_OnlyDriversGoOffDuty(t *testing.T) {
	ctx := context.Background()
	registry, store, driverRepo := newPresenceFixture(5*time.Minute, time.Minute)
	driverRepo.AddDriver(onDutyDriver("d1"))

	if _, err := registry.GoOnDuty(ctx, "d1", domain.Coordinate{Lat: 12.9, Lng: 77.6}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}

	registry.HandleDisconnect("d1", "customer")
	if p, _ := store.Get(ctx, "d1"); p == nil {
		t.Fatal("customer disconnect must not touch driver presence")
	}

	registry.HandleDisconnect("d1", "driver")
	if p, _ := store.Get(ctx, "d1"); p != nil {
		t.Fatal("driver disconnect should remove presence")
	}
}

func TestSnapshot_FiltersFleet(t *testing.T) {
	ctx := context.Background()
	registry, _, driverRepo := newPresenceFixture(5*time.Minute, time.Minute)

	van := onDutyDriver("d-van")
	truck := onDutyDriver("d-truck")
	truck.VehicleClass = "TRUCK"
	driverRepo.AddDriver(van)
	driverRepo.AddDriver(truck)

	if _, err := registry.GoOnDuty(ctx, "d-van", domain.Coordinate{Lat: 12.9, Lng: 77.6}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}
	if _, err := registry.GoOnDuty(ctx, "d-truck", domain.Coordinate{Lat: 12.9, Lng: 77.6}); err != nil {
		t.Fatalf("go on duty failed: %v", err)
	}

	vans, err := registry.Snapshot(ctx, func(p *domain.Presence) bool {
		return p.Matches("VAN", "CLOSED")
	})
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(vans) != 1 || vans[0].DriverID != "d-van" {
		t.Errorf("snapshot = %+v, want only d-van", vans)
	}
}
