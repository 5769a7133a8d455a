package geo

import (
	"math"
	"testing"

	"dispatch/internal/domain"
)

func TestWithinRadius_FiltersAndSorts(t *testing.T) {
	origin := domain.Coordinate{Lat: 12.9716, Lng: 77.5946} // Bangalore

	candidates := []Candidate{
		{ID: "far", Coord: domain.Coordinate{Lat: 13.3, Lng: 77.9}},     // ~45km
		{ID: "near", Coord: domain.Coordinate{Lat: 12.9750, Lng: 77.5950}}, // <1km
		{ID: "mid", Coord: domain.Coordinate{Lat: 13.0000, Lng: 77.6000}},  // ~3km
	}

	matches, err := WithinRadius(origin, candidates, 5.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "near" || matches[1].ID != "mid" {
		t.Errorf("expected [near mid], got [%s %s]", matches[0].ID, matches[1].ID)
	}
	for _, m := range matches {
		if m.DistanceKm > 5.0 {
			t.Errorf("match %s outside radius: %.2fkm", m.ID, m.DistanceKm)
		}
	}
}

func TestWithinRadius_SortedAscending(t *testing.T) {
	origin := domain.Coordinate{Lat: 0, Lng: 0}
	candidates := []Candidate{
		{ID: "c", Coord: domain.Coordinate{Lat: 0.03, Lng: 0}},
		{ID: "a", Coord: domain.Coordinate{Lat: 0.01, Lng: 0}},
		{ID: "b", Coord: domain.Coordinate{Lat: 0.02, Lng: 0}},
	}

	matches, err := WithinRadius(origin, candidates, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].DistanceKm < matches[i-1].DistanceKm {
			t.Fatalf("matches not sorted ascending at %d", i)
		}
	}
}

func TestWithinRadius_TieBrokenByID(t *testing.T) {
	origin := domain.Coordinate{Lat: 0, Lng: 0}
	same := domain.Coordinate{Lat: 0.01, Lng: 0.01}
	candidates := []Candidate{
		{ID: "zeta", Coord: same},
		{ID: "alpha", Coord: same},
	}

	matches, err := WithinRadius(origin, candidates, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches[0].ID != "alpha" || matches[1].ID != "zeta" {
		t.Errorf("expected ID tie-break [alpha zeta], got [%s %s]", matches[0].ID, matches[1].ID)
	}
}

func TestWithinRadius_RejectsNonFiniteCoordinates(t *testing.T) {
	origin := domain.Coordinate{Lat: math.NaN(), Lng: 0}
	if _, err := WithinRadius(origin, nil, 5); err != ErrInvalidCoordinate {
		t.Errorf("expected ErrInvalidCoordinate for NaN origin, got %v", err)
	}

	candidates := []Candidate{
		{ID: "bad", Coord: domain.Coordinate{Lat: 0, Lng: math.Inf(1)}},
	}
	if _, err := WithinRadius(domain.Coordinate{}, candidates, 5); err != ErrInvalidCoordinate {
		t.Errorf("expected ErrInvalidCoordinate for Inf candidate, got %v", err)
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Bangalore to Chennai, roughly 290km.
	blr := domain.Coordinate{Lat: 12.9716, Lng: 77.5946}
	maa := domain.Coordinate{Lat: 13.0827, Lng: 80.2707}

	d := HaversineKm(blr, maa)
	if d < 280 || d > 300 {
		t.Errorf("expected ~290km, got %.1f", d)
	}
	if HaversineKm(blr, blr) != 0 {
		t.Error("distance to self should be zero")
	}
}
