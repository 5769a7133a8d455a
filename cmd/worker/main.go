// The worker drains the delayed checkpoint queue: expiry TTLs and the
// client and driver reminder tracks. It runs separately from the API
// server so reminders fire even while the server is down; resolutions it
// produces reach the live server over the resolution bus.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/events"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := app.NewDatabase(initCtx, cfg.Database, nil)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(initCtx, cfg.Redis, nil)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Connected to Redis")

	jobQueue := internalRedis.NewJobQueue(redisClient)
	resolutionBus := internalRedis.NewResolutionBus(redisClient)
	bookingRepo := postgres.NewBookingRepository(db)
	driverRepo := postgres.NewDriverRepository(db)

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	// No realtime hub in this process; notifications go out over the push
	// provider path only.
	notifier := service.NewNotificationService(nil)
	lifecycle := service.NewLifecycleScheduler(bookingRepo, driverRepo, jobQueue,
		notifier, resolutionBus, publisher, cfg.Lifecycle, cfg.Dispatch)

	// Metrics and health endpoint.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		log.Printf("Worker metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("Checkpoint worker started (poll=%s batch=%d)", cfg.Worker.PollInterval, cfg.Worker.BatchSize)
	run(ctx, jobQueue, lifecycle, cfg.Worker)
	log.Println("Worker exited")
}

// run polls for due checkpoints until the context is cancelled. Claiming a
// key is an atomic removal, so concurrent workers never double-handle a
// job; handler failures requeue the job with a delay.
func run(ctx context.Context, queue *internalRedis.JobQueue, lifecycle *service.LifecycleScheduler, cfg config.WorkerConfig) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drain(ctx, queue, lifecycle, cfg)
		}
	}
}

func drain(ctx context.Context, queue *internalRedis.JobQueue, lifecycle *service.LifecycleScheduler, cfg config.WorkerConfig) {
	keys, err := queue.Due(ctx, time.Now(), cfg.BatchSize)
	if err != nil {
		log.Printf("worker: due scan failed: %v", err)
		return
	}

	for _, key := range keys {
		job, claimed, err := queue.Claim(ctx, key)
		if err != nil {
			log.Printf("worker: claim %s failed: %v", key, err)
			continue
		}
		if !claimed {
			// Another worker took it first.
			continue
		}

		if err := lifecycle.HandleJob(ctx, *job); err != nil {
			log.Printf("worker: checkpoint %s for %s failed, requeueing: %v", job.Label, job.BookingID, err)
			if err := queue.Requeue(ctx, *job, cfg.RetryDelay); err != nil {
				log.Printf("worker: requeue %s failed: %v", key, err)
			}
		}
	}
}
