package domain

import "time"

// BookingStatus represents the current status of a booking.
type BookingStatus string

const (
	// BookingStatusPending marks a scheduled booking waiting for offers.
	BookingStatusPending BookingStatus = "PENDING"
	// BookingStatusSearching marks an immediate booking being fanned out.
	BookingStatusSearching BookingStatus = "SEARCHING"
	// BookingStatusScheduled marks a future booking with an assigned driver.
	BookingStatusScheduled BookingStatus = "SCHEDULED"
	BookingStatusActive    BookingStatus = "ACTIVE"
	BookingStatusCompleted BookingStatus = "COMPLETED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// SchedulingMode determines how a booking is dispatched.
type SchedulingMode string

const (
	ModeImmediate SchedulingMode = "IMMEDIATE"
	ModeScheduled SchedulingMode = "SCHEDULED"
	ModePooled    SchedulingMode = "POOLED"
)

// PaymentMethod represents the payment method selected for a booking.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodWallet PaymentMethod = "WALLET"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Location is a named point on the map.
type Location struct {
	Address string
	Coord   Coordinate
}

// PriceBreakdown captures the quoted fare for a booking.
type PriceBreakdown struct {
	Base     float64
	Distance float64
	Services float64
	Total    float64
	Currency string
}

// Booking represents a delivery request in the system.
//
// Pickup, dropoff, vehicle class and pricing are immutable inputs; Status,
// DriverID, OfferedDrivers, the reminder flags and the search fields are the
// mutable dispatch state. DriverID is only ever set through a conditional
// update, so a non-empty DriverID implies ACTIVE, SCHEDULED or COMPLETED.
type Booking struct {
	ID         string
	Reference  string
	CustomerID string

	Pickup  Location
	Dropoff Location

	VehicleClass string
	LoadVariant  string

	DistanceKm  float64
	DurationMin float64
	Price       PriceBreakdown

	PaymentMethod PaymentMethod
	Services      []string
	Note          string

	Mode     SchedulingMode
	PickupAt time.Time // zero unless Mode is SCHEDULED or POOLED

	Status         BookingStatus
	DriverID       string
	OfferedDrivers []string

	// Reminder flags, flipped once by checkpoint handlers.
	ChooseReminderSent bool
	AutoAssignWarned   bool

	// Immediate-mode search state.
	SearchRadiusKm float64
	SearchStep     int

	CreatedAt   time.Time
	CancelledAt time.Time
	CompletedAt time.Time
}

// Unmatched reports whether the booking can still be offered to drivers.
func (b *Booking) Unmatched() bool {
	return b.DriverID == "" &&
		(b.Status == BookingStatusPending || b.Status == BookingStatusSearching)
}

// HasOffer reports whether the driver already appears in OfferedDrivers.
func (b *Booking) HasOffer(driverID string) bool {
	for _, id := range b.OfferedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}
