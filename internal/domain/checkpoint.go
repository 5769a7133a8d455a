package domain

import "time"

// CheckpointLabel identifies one lifecycle checkpoint for a booking.
type CheckpointLabel string

const (
	// CheckpointExpiry is the TTL for unmatched immediate bookings.
	CheckpointExpiry CheckpointLabel = "EXPIRY"

	// Client track, relative to the scheduled pickup time.
	CheckpointClientT4H CheckpointLabel = "CLIENT_T4H"
	CheckpointClientT2H CheckpointLabel = "CLIENT_T2H"
	CheckpointClientT1H CheckpointLabel = "CLIENT_T1H"

	// Driver track, armed once a driver is assigned.
	CheckpointDriverT5H  CheckpointLabel = "DRIVER_T5H"
	CheckpointDriverT2H  CheckpointLabel = "DRIVER_T2H"
	CheckpointDriverT20M CheckpointLabel = "DRIVER_T20M"
)

// CheckpointJob is the payload of one delayed lifecycle job. It is persisted
// in the job queue and delivered at least once; handlers re-check booking
// state before acting, so a late or duplicated fire is harmless.
type CheckpointJob struct {
	BookingID string          `json:"booking_id"`
	Label     CheckpointLabel `json:"label"`
	DriverID  string          `json:"driver_id,omitempty"`
	FireAt    time.Time       `json:"fire_at"`
}

// Key returns the idempotency key used to enqueue and cancel the job.
func (j CheckpointJob) Key() string {
	return "checkpoint:" + j.BookingID + ":" + string(j.Label)
}
