package service

import (
	"context"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/repository"
)

// BookingService handles booking intake and queries. Dispatch mechanics
// live in the coordinator; this layer validates, persists and hands off.
type BookingService struct {
	bookingRepo repository.BookingRepository
	dispatch    *DispatchCoordinator
	lifecycle   *LifecycleScheduler
	events      *events.Publisher
	cfg         config.DispatchConfig

	now func() time.Time
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	bookingRepo repository.BookingRepository,
	dispatch *DispatchCoordinator,
	lifecycle *LifecycleScheduler,
	publisher *events.Publisher,
	cfg config.DispatchConfig,
) *BookingService {
	return &BookingService{
		bookingRepo: bookingRepo,
		dispatch:    dispatch,
		lifecycle:   lifecycle,
		events:      publisher,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SubmitBookingRequest contains the parameters for creating a booking.
type SubmitBookingRequest struct {
	CustomerID string

	Pickup  domain.Location
	Dropoff domain.Location

	VehicleClass string
	LoadVariant  string

	DistanceKm  float64
	DurationMin float64
	Price       domain.PriceBreakdown

	PaymentMethod domain.PaymentMethod
	Services      []string
	Note          string

	Mode     domain.SchedulingMode
	PickupAt time.Time
}

// Submit validates and persists a booking, then routes it by mode:
// immediate bookings start a fan-out search under an expiry TTL, scheduled
// and pooled bookings wait for offers under the client reminder track.
func (s *BookingService) Submit(ctx context.Context, req SubmitBookingRequest) (*domain.Booking, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	id := uuid.New().String()
	booking := &domain.Booking{
		ID:            id,
		Reference:     reference(id),
		CustomerID:    req.CustomerID,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		VehicleClass:  req.VehicleClass,
		LoadVariant:   req.LoadVariant,
		DistanceKm:    req.DistanceKm,
		DurationMin:   req.DurationMin,
		Price:         req.Price,
		PaymentMethod: req.PaymentMethod,
		Services:      req.Services,
		Note:          req.Note,
		Mode:          req.Mode,
		PickupAt:      req.PickupAt,
		CreatedAt:     now,
	}
	if booking.PaymentMethod == "" {
		booking.PaymentMethod = domain.PaymentMethodCash
	}

	switch req.Mode {
	case domain.ModeImmediate:
		booking.Status = domain.BookingStatusSearching
		booking.SearchRadiusKm = s.cfg.PolicyFor(req.VehicleClass).InitialRadiusKm
	case domain.ModeScheduled, domain.ModePooled:
		booking.Status = domain.BookingStatusPending
	}

	if err := s.bookingRepo.Create(ctx, booking); err != nil {
		return nil, err
	}
	s.events.Publish(events.Event{
		Type: events.BookingCreated, BookingID: booking.ID, CustomerID: booking.CustomerID,
	})

	switch req.Mode {
	case domain.ModeImmediate:
		if err := s.lifecycle.ArmImmediateExpiry(ctx, booking); err != nil {
			log.Printf("booking: expiry arm for %s failed: %v", booking.ID, err)
		}
		if err := s.dispatch.StartSearch(ctx, booking); err != nil {
			log.Printf("booking: search start for %s failed: %v", booking.ID, err)
		}
	case domain.ModeScheduled, domain.ModePooled:
		if err := s.lifecycle.ArmClientTrack(ctx, booking); err != nil {
			log.Printf("booking: client track arm for %s failed: %v", booking.ID, err)
		}
	}

	return booking, nil
}

func (s *BookingService) validate(req SubmitBookingRequest) error {
	if req.CustomerID == "" {
		return ErrInvalidCustomerID
	}
	if !validCoordinate(req.Pickup.Coord) {
		return ErrInvalidPickupLocation
	}
	if !validCoordinate(req.Dropoff.Coord) {
		return ErrInvalidDropoffLocation
	}
	if req.VehicleClass == "" {
		return ErrInvalidVehicleClass
	}

	switch req.Mode {
	case domain.ModeImmediate:
		if !req.PickupAt.IsZero() {
			return ErrInvalidPickupTime
		}
	case domain.ModeScheduled, domain.ModePooled:
		if req.PickupAt.IsZero() || !req.PickupAt.After(s.now()) {
			return ErrInvalidPickupTime
		}
	default:
		return ErrInvalidSchedulingMode
	}
	return nil
}

// Cancel withdraws an unmatched booking on the customer's behalf.
func (s *BookingService) Cancel(ctx context.Context, bookingID string) error {
	return s.dispatch.Cancel(ctx, bookingID)
}

// Complete finishes an active booking, called when the driver confirms
// delivery. Pooled bookings complete through their trip's stops instead.
func (s *BookingService) Complete(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}

	booking, err := s.bookingRepo.GetByID(ctx, bookingID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrBookingUnavailable
		}
		return nil, err
	}

	ok, err := s.bookingRepo.CompleteIfActive(ctx, bookingID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBookingUnavailable
	}
	booking.Status = domain.BookingStatusCompleted

	s.events.Publish(events.Event{
		Type: events.BookingCompleted, BookingID: booking.ID,
		CustomerID: booking.CustomerID, DriverID: booking.DriverID,
	})
	return booking, nil
}

// Get returns a booking by ID.
func (s *BookingService) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, ErrInvalidBookingID
	}
	return s.bookingRepo.GetByID(ctx, bookingID)
}

// List returns recent bookings.
func (s *BookingService) List(ctx context.Context) ([]*domain.Booking, error) {
	return s.bookingRepo.GetAll(ctx)
}

// ListOpenScheduled returns scheduled bookings still open for offers, the
// feed drivers browse for future work.
func (s *BookingService) ListOpenScheduled(ctx context.Context) ([]*domain.Booking, error) {
	return s.bookingRepo.ListOpenScheduled(ctx)
}

func validCoordinate(c domain.Coordinate) bool {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// reference derives the short customer-facing booking code.
func reference(id string) string {
	return "BK-" + strings.ToUpper(strings.ReplaceAll(id, "-", ""))[:8]
}
