package service

import "errors"

var (
	// ErrBookingUnavailable is returned when a conditional transition loses
	// the race: the booking was already taken, cancelled or expired.
	ErrBookingUnavailable = errors.New("booking no longer available")

	// ErrScheduleConflict is returned when accepting would collide with one
	// of the driver's existing scheduled commitments.
	ErrScheduleConflict = errors.New("schedule conflict with existing booking")

	// ErrNotInGroup is returned when a driver acts on an immediate booking
	// whose dispatch group they were never added to.
	ErrNotInGroup = errors.New("driver not in dispatch group")

	// ErrDriverNotFound is returned when the driver does not exist.
	ErrDriverNotFound = errors.New("driver not found")

	// ErrDriverOffDuty is returned when an off-duty driver reports a location.
	ErrDriverOffDuty = errors.New("driver is off duty")

	// ErrInvalidCustomerID is returned when customer ID is empty.
	ErrInvalidCustomerID = errors.New("invalid customer id")

	// ErrInvalidBookingID is returned when booking ID is empty.
	ErrInvalidBookingID = errors.New("invalid booking id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidTripID is returned when trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = errors.New("invalid pickup location")

	// ErrInvalidDropoffLocation is returned when dropoff coordinates are invalid.
	ErrInvalidDropoffLocation = errors.New("invalid dropoff location")

	// ErrInvalidVehicleClass is returned when vehicle class is empty.
	ErrInvalidVehicleClass = errors.New("invalid vehicle class")

	// ErrInvalidSchedulingMode is returned when the mode is unknown.
	ErrInvalidSchedulingMode = errors.New("invalid scheduling mode")

	// ErrInvalidPickupTime is returned when a scheduled pickup time is
	// missing or not in the future.
	ErrInvalidPickupTime = errors.New("invalid pickup time")

	// ErrBookingNotCancellable is returned when cancelling a booking that
	// already has a driver or already resolved.
	ErrBookingNotCancellable = errors.New("booking can no longer be cancelled")

	// ErrTripNotActive is returned when modifying a completed trip.
	ErrTripNotActive = errors.New("trip is not active")

	// ErrTripFull is returned when a pooled trip already carries the
	// maximum number of bookings.
	ErrTripFull = errors.New("trip is at capacity")

	// ErrBookingAlreadyPooled is returned when adding a booking that is
	// already part of the trip.
	ErrBookingAlreadyPooled = errors.New("booking already in trip")

	// ErrTripConflict is returned when a route rewrite loses the version
	// race and the caller should retry with fresh state.
	ErrTripConflict = errors.New("trip was modified concurrently")

	// ErrNotPooled is returned when a trip operation targets a booking
	// that is not in pooled mode.
	ErrNotPooled = errors.New("booking is not pooled")
)
