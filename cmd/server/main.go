package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/events"
	"dispatch/internal/handler"
	"dispatch/internal/realtime"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	// Initialize database with New Relic instrumentation.
	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Connected to Redis")

	// Wire dependencies.
	deps := wireServer(db, redisClient, nrApp, cfg)
	defer deps.publisher.Close()

	// Re-arm expiry and rebuild fan-out groups for immediate bookings that
	// were in flight when the previous process died.
	if err := deps.lifecycle.Restore(ctx); err != nil {
		log.Printf("lifecycle restore failed: %v", err)
	}
	if err := deps.dispatch.ResumeSearches(ctx); err != nil {
		log.Printf("search resume failed: %v", err)
	}

	// Background loops: staleness sweep and cross-process resolutions.
	deps.registry.StartSweep()
	listenCtx, stopListen := context.WithCancel(context.Background())
	defer stopListen()
	go deps.bus.Listen(listenCtx, deps.dispatch.HandleResolution)

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := deps.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	deps.registry.Close()
	deps.dispatch.Close()

	log.Println("Server exited")
}

// serverDeps holds the wired components main needs for startup and shutdown.
type serverDeps struct {
	server    *http.Server
	registry  *service.PresenceRegistry
	dispatch  *service.DispatchCoordinator
	lifecycle *service.LifecycleScheduler
	bus       *internalRedis.ResolutionBus
	publisher *events.Publisher
}

// wireServer wires all dependencies and returns them with the HTTP server.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config) serverDeps {
	// Initialize Redis stores.
	presenceStore := internalRedis.NewPresenceStore(redisClient)
	jobQueue := internalRedis.NewJobQueue(redisClient)
	resolutionBus := internalRedis.NewResolutionBus(redisClient)

	// Initialize repositories.
	bookingRepo := postgres.NewBookingRepository(db)
	driverRepo := postgres.NewDriverRepository(db)
	tripRepo := postgres.NewTripRepository(db)

	// Lifecycle event stream. Nil publisher when no brokers are configured.
	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	// Realtime hub carries offer pushes and dispatch groups.
	hub := realtime.NewHub()

	// Initialize services.
	notificationService := service.NewNotificationService(hub)
	registry := service.NewPresenceRegistry(presenceStore, driverRepo,
		cfg.Dispatch.StalenessThreshold, cfg.Dispatch.SweepInterval)
	lifecycle := service.NewLifecycleScheduler(bookingRepo, driverRepo, jobQueue,
		notificationService, resolutionBus, publisher, cfg.Lifecycle, cfg.Dispatch)
	dispatch := service.NewDispatchCoordinator(bookingRepo, driverRepo, registry, hub,
		notificationService, lifecycle, resolutionBus, publisher, cfg.Dispatch)
	registry.SetRefresher(dispatch)
	hub.OnDisconnect(registry.HandleDisconnect)
	pooling := service.NewPoolingCoordinator(tripRepo, bookingRepo, registry,
		notificationService, publisher, cfg.Dispatch.MaxPoolSize)
	bookingService := service.NewBookingService(bookingRepo, dispatch, lifecycle,
		publisher, cfg.Dispatch)

	// Initialize handlers.
	bookingHandler := handler.NewBookingHandler(bookingService)
	driverHandler := handler.NewDriverHandler(driverRepo, registry, dispatch)
	tripHandler := handler.NewTripHandler(pooling)
	wsHandler := handler.NewWSHandler(hub)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		BookingHandler: bookingHandler,
		DriverHandler:  driverHandler,
		TripHandler:    tripHandler,
		WSHandler:      wsHandler,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
	})

	return serverDeps{
		server: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		registry:  registry,
		dispatch:  dispatch,
		lifecycle: lifecycle,
		bus:       resolutionBus,
		publisher: publisher,
	}
}
