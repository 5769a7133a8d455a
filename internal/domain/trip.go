package domain

import "time"

// StopKind distinguishes pickup stops from dropoff stops.
type StopKind string

const (
	StopPickup  StopKind = "PICKUP"
	StopDropoff StopKind = "DROPOFF"
)

// Stop is one node in a pooled trip's route.
type Stop struct {
	Seq       int
	BookingID string
	Kind      StopKind
	Address   string
	Coord     Coordinate
	Done      bool
}

// TripStatus represents the current status of a pooled trip.
type TripStatus string

const (
	TripStatusActive    TripStatus = "ACTIVE"
	TripStatusCompleted TripStatus = "COMPLETED"
)

// PooledTrip is an ordered multi-stop route assigned to one driver.
// Stops from at most MaxPoolSize bookings; Cursor marks the next
// uncompleted stop. Version guards concurrent stop-sequence rewrites.
type PooledTrip struct {
	ID         string
	DriverID   string
	Status     TripStatus
	Stops      []Stop
	Cursor     int
	BookingIDs []string
	Version    int
	CreatedAt  time.Time
	EndedAt    time.Time
}

// HasBooking reports whether the booking is already part of the trip.
func (t *PooledTrip) HasBooking(bookingID string) bool {
	for _, id := range t.BookingIDs {
		if id == bookingID {
			return true
		}
	}
	return false
}
