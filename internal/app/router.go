package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/handler"
	"dispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	BookingHandler *handler.BookingHandler
	DriverHandler  *handler.DriverHandler
	TripHandler    *handler.TripHandler
	WSHandler      *handler.WSHandler
	RedisClient    *redis.Client
	NewRelicApp    *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient))

	// Health check and metrics.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Realtime connections.
	router.GET("/v1/ws", deps.WSHandler.Connect)

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Booking routes.
		bookings := v1.Group("/bookings")
		{
			bookings.POST("", deps.BookingHandler.CreateBooking)
			bookings.GET("", deps.BookingHandler.ListBookings)
			bookings.GET("/scheduled", deps.BookingHandler.ListOpenScheduled)
			bookings.GET("/:id", deps.BookingHandler.GetBooking)
			bookings.POST("/:id/cancel", deps.BookingHandler.CancelBooking)
			bookings.POST("/:id/complete", deps.BookingHandler.CompleteBooking)
			bookings.POST("/:id/offers", deps.DriverHandler.OfferBooking)
			bookings.POST("/:id/accept", deps.DriverHandler.AcceptBooking)
		}

		// Driver routes.
		drivers := v1.Group("/drivers")
		{
			drivers.POST("", deps.DriverHandler.CreateDriver)
			drivers.GET("/:id", deps.DriverHandler.GetDriver)
			drivers.POST("/:id/duty", deps.DriverHandler.GoOnDuty)
			drivers.DELETE("/:id/duty", deps.DriverHandler.GoOffDuty)
			drivers.PUT("/:id/location", deps.DriverHandler.UpdateLocation)
			drivers.GET("/:id/trip", deps.TripHandler.GetActiveTrip)
		}

		// Pooled trip routes.
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.StartTrip)
			trips.GET("/:id", deps.TripHandler.GetTrip)
			trips.POST("/:id/bookings", deps.TripHandler.AddBooking)
			trips.POST("/:id/stops/complete", deps.TripHandler.CompleteStop)
		}
	}

	return router
}
