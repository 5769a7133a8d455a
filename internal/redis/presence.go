package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/domain"
)

const (
	presenceGeoKey  = "drivers:geo"
	presenceHashKey = "drivers:presence"
)

// PresenceStore holds the ephemeral presence records of on-duty drivers:
// a GEO index for radius queries plus a hash of full records keyed by
// driver ID. Records are written only by the owning driver's own events.
type PresenceStore struct {
	client *redis.Client
}

// NewPresenceStore creates a new PresenceStore.
func NewPresenceStore(client *redis.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

// presenceRecord is the stored form of a presence record.
type presenceRecord struct {
	DriverID     string    `json:"driver_id"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	VehicleClass string    `json:"vehicle_class"`
	LoadVariant  string    `json:"load_variant"`
	ServiceAreas []string  `json:"service_areas"`
	LastUpdate   time.Time `json:"last_update"`
	Groups       []string  `json:"groups"`
}

// Put upserts a presence record and its GEO index entry.
func (s *PresenceStore) Put(ctx context.Context, p *domain.Presence) error {
	rec := presenceRecord{
		DriverID:     p.DriverID,
		Lat:          p.Coord.Lat,
		Lng:          p.Coord.Lng,
		VehicleClass: p.VehicleClass,
		LoadVariant:  p.LoadVariant,
		ServiceAreas: p.ServiceAreas,
		LastUpdate:   p.LastUpdate,
		Groups:       p.Groups,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.GeoAdd(ctx, presenceGeoKey, &redis.GeoLocation{
		Name:      p.DriverID,
		Longitude: p.Coord.Lng,
		Latitude:  p.Coord.Lat,
	})
	pipe.HSet(ctx, presenceHashKey, p.DriverID, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Get retrieves a presence record. Returns (nil, nil) when absent.
func (s *PresenceStore) Get(ctx context.Context, driverID string) (*domain.Presence, error) {
	data, err := s.client.HGet(ctx, presenceHashKey, driverID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return decodePresence(data)
}

// Remove deletes a presence record and its GEO entry.
func (s *PresenceStore) Remove(ctx context.Context, driverID string) error {
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, presenceGeoKey, driverID)
	pipe.HDel(ctx, presenceHashKey, driverID)
	_, err := pipe.Exec(ctx)
	return err
}

// All returns every presence record. Used by snapshots and the staleness
// sweep; the on-duty population is small enough for a full scan.
func (s *PresenceStore) All(ctx context.Context) ([]*domain.Presence, error) {
	raw, err := s.client.HGetAll(ctx, presenceHashKey).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*domain.Presence, 0, len(raw))
	for _, data := range raw {
		p, err := decodePresence([]byte(data))
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, nil
}

func decodePresence(data []byte) (*domain.Presence, error) {
	var rec presenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &domain.Presence{
		DriverID:     rec.DriverID,
		Coord:        domain.Coordinate{Lat: rec.Lat, Lng: rec.Lng},
		VehicleClass: rec.VehicleClass,
		LoadVariant:  rec.LoadVariant,
		ServiceAreas: rec.ServiceAreas,
		LastUpdate:   rec.LastUpdate,
		Groups:       rec.Groups,
	}, nil
}
