package redis

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// PresenceStoreInterface defines the interface for driver presence storage.
type PresenceStoreInterface interface {
	Put(ctx context.Context, p *domain.Presence) error
	Get(ctx context.Context, driverID string) (*domain.Presence, error)
	Remove(ctx context.Context, driverID string) error
	All(ctx context.Context) ([]*domain.Presence, error)
}

// JobQueueInterface defines the interface for the delayed job queue.
type JobQueueInterface interface {
	Enqueue(ctx context.Context, job domain.CheckpointJob) error
	Cancel(ctx context.Context, key string) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Claim(ctx context.Context, key string) (*domain.CheckpointJob, bool, error)
	Requeue(ctx context.Context, job domain.CheckpointJob, delay time.Duration) error
}

// ResolutionPublisher defines the publish side of the resolution bus.
type ResolutionPublisher interface {
	Publish(ctx context.Context, res Resolution) error
}

// Ensure concrete types implement interfaces.
var (
	_ PresenceStoreInterface = (*PresenceStore)(nil)
	_ JobQueueInterface      = (*JobQueue)(nil)
	_ ResolutionPublisher    = (*ResolutionBus)(nil)
)
