package geo

import (
	"errors"
	"math"
	"sort"

	"dispatch/internal/domain"
)

// ErrInvalidCoordinate is returned when a coordinate is NaN or infinite.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Candidate is a driver position considered for matching.
type Candidate struct {
	ID    string
	Coord domain.Coordinate
}

// Match is a candidate within the search radius.
type Match struct {
	ID         string
	Coord      domain.Coordinate
	DistanceKm float64
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(a, b domain.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// WithinRadius returns the candidates within radiusKm of origin, sorted by
// ascending distance. Ties are broken by candidate ID so the result is
// stable for equal distances. Inputs are not mutated.
func WithinRadius(origin domain.Coordinate, candidates []Candidate, radiusKm float64) ([]Match, error) {
	if !finite(origin) {
		return nil, ErrInvalidCoordinate
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if !finite(c.Coord) {
			return nil, ErrInvalidCoordinate
		}
		d := HaversineKm(origin, c.Coord)
		if d <= radiusKm {
			matches = append(matches, Match{ID: c.ID, Coord: c.Coord, DistanceKm: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].ID < matches[j].ID
	})

	return matches, nil
}

func finite(c domain.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lng) && !math.IsInf(c.Lng, 0)
}
