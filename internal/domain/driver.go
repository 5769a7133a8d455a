package domain

import "time"

// DriverStatus represents the current duty status of a driver.
type DriverStatus string

const (
	DriverStatusOnDuty  DriverStatus = "ON_DUTY"
	DriverStatusOffDuty DriverStatus = "OFF_DUTY"
	DriverStatusOnTrip  DriverStatus = "ON_TRIP"
)

// Rating is the aggregate customer rating for a driver.
type Rating struct {
	Average float64
	Count   int
}

// Driver represents a driver in the system.
type Driver struct {
	ID           string
	Name         string
	Phone        string
	Status       DriverStatus
	VehicleClass string
	LoadVariant  string
	ServiceAreas []string
	Rating       Rating
}

// Presence is the ephemeral record for a connected on-duty driver.
// One exists per driver between go-on-duty and go-off-duty (or staleness).
type Presence struct {
	DriverID     string
	Coord        Coordinate
	VehicleClass string
	LoadVariant  string
	ServiceAreas []string
	LastUpdate   time.Time
	Groups       []string // dispatch groups currently joined
}

// Matches reports whether the presence record can serve the given
// vehicle class and load variant. An empty variant matches any.
func (p *Presence) Matches(vehicleClass, loadVariant string) bool {
	if p.VehicleClass != vehicleClass {
		return false
	}
	return loadVariant == "" || p.LoadVariant == loadVariant
}
