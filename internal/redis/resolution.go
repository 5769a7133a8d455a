package redis

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

const resolutionChannel = "bookings:resolved"

// Resolution announces that a booking left the searching/pending state.
// Checkpoint workers publish these so the live dispatch process can tear
// down the booking's fan-out group without sharing memory with the worker.
type Resolution struct {
	BookingID string `json:"booking_id"`
	Outcome   string `json:"outcome"` // matched | expired | cancelled
	DriverID  string `json:"driver_id,omitempty"`
}

// ResolutionBus is a Redis pub/sub channel for booking resolutions.
type ResolutionBus struct {
	client *redis.Client
}

// NewResolutionBus creates a new ResolutionBus.
func NewResolutionBus(client *redis.Client) *ResolutionBus {
	return &ResolutionBus{client: client}
}

// Publish announces a resolution. Fire and forget.
func (b *ResolutionBus) Publish(ctx context.Context, res Resolution) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, resolutionChannel, data).Err()
}

// Listen subscribes and invokes fn for each resolution until ctx is done.
func (b *ResolutionBus) Listen(ctx context.Context, fn func(Resolution)) {
	sub := b.client.Subscribe(ctx, resolutionChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var res Resolution
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				log.Printf("resolution bus: invalid message: %v", err)
				continue
			}
			fn(res)
		}
	}
}
