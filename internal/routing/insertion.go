// Package routing implements the cheapest-insertion heuristic used to add a
// pickup+dropoff pair into a driver's active multi-stop route.
package routing

import (
	"errors"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
)

// ErrNoInsertion is returned when no valid insertion position exists.
var ErrNoInsertion = errors.New("no valid insertion position")

// Insert places pickup and dropoff into stops at the cheapest combined
// position, with the dropoff strictly after the pickup. The driver's current
// location acts as a virtual node before the first stop. Inserting between
// two nodes costs d(prev,new) + d(new,next) - d(prev,next); appending at the
// end costs only d(prev,new). Returns the renumbered sequence and the total
// added distance in km. The input slice is not mutated.
//
// This is a greedy local heuristic, re-run on every addition; pool sizes are
// small enough that the result stays close to optimal in practice.
func Insert(stops []domain.Stop, driverLoc domain.Coordinate, pickup, dropoff domain.Stop) ([]domain.Stop, float64, error) {
	bestCost := -1.0
	bestPickup, bestDropoff := -1, -1

	// Candidate pickup positions are 0..len(stops); for each, dropoff
	// positions run over the sequence with the pickup already inserted.
	for pi := 0; pi <= len(stops); pi++ {
		pickupCost := insertionCost(stops, driverLoc, pi, pickup.Coord)

		withPickup := make([]domain.Stop, 0, len(stops)+1)
		withPickup = append(withPickup, stops[:pi]...)
		withPickup = append(withPickup, pickup)
		withPickup = append(withPickup, stops[pi:]...)

		for di := pi + 1; di <= len(withPickup); di++ {
			cost := pickupCost + insertionCost(withPickup, driverLoc, di, dropoff.Coord)
			if bestCost < 0 || cost < bestCost {
				bestCost = cost
				bestPickup, bestDropoff = pi, di
			}
		}
	}

	if bestPickup < 0 {
		return nil, 0, ErrNoInsertion
	}

	result := make([]domain.Stop, 0, len(stops)+2)
	result = append(result, stops[:bestPickup]...)
	result = append(result, pickup)
	result = append(result, stops[bestPickup:]...)

	tail := append(make([]domain.Stop, 0, len(result)+1), result[:bestDropoff]...)
	tail = append(tail, dropoff)
	tail = append(tail, result[bestDropoff:]...)

	for i := range tail {
		tail[i].Seq = i
	}

	return tail, bestCost, nil
}

// insertionCost is the added distance of placing a node at index idx in the
// sequence, with driverLoc as the virtual node before index 0.
func insertionCost(stops []domain.Stop, driverLoc domain.Coordinate, idx int, node domain.Coordinate) float64 {
	prev := driverLoc
	if idx > 0 {
		prev = stops[idx-1].Coord
	}

	if idx == len(stops) {
		return geo.HaversineKm(prev, node)
	}

	next := stops[idx].Coord
	return geo.HaversineKm(prev, node) + geo.HaversineKm(node, next) - geo.HaversineKm(prev, next)
}
