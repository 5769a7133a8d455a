package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/schedule"
	"dispatch/internal/service"
)

// BookingHandler handles HTTP requests for bookings.
type BookingHandler struct {
	bookingService *service.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookingService *service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// LocationPayload is a named point in request and response bodies.
type LocationPayload struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// PricePayload mirrors the quoted fare breakdown.
type PricePayload struct {
	Base     float64 `json:"base"`
	Distance float64 `json:"distance"`
	Services float64 `json:"services"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// CreateBookingRequest is the HTTP request body for creating a booking.
type CreateBookingRequest struct {
	CustomerID    string          `json:"customer_id"`
	Pickup        LocationPayload `json:"pickup"`
	Dropoff       LocationPayload `json:"dropoff"`
	VehicleClass  string          `json:"vehicle_class"`
	LoadVariant   string          `json:"load_variant,omitempty"`
	DistanceKm    float64         `json:"distance_km"`
	DurationMin   float64         `json:"duration_min"`
	Price         PricePayload    `json:"price"`
	PaymentMethod string          `json:"payment_method,omitempty"` // CASH, CARD, WALLET
	Services      []string        `json:"services,omitempty"`
	Note          string          `json:"note,omitempty"`
	Mode          string          `json:"mode"`                // IMMEDIATE, SCHEDULED, POOLED
	PickupAt      string          `json:"pickup_at,omitempty"` // RFC3339, required unless IMMEDIATE
}

// BookingResponse is the HTTP representation of a booking.
type BookingResponse struct {
	ID             string          `json:"id"`
	Reference      string          `json:"reference"`
	CustomerID     string          `json:"customer_id"`
	Pickup         LocationPayload `json:"pickup"`
	Dropoff        LocationPayload `json:"dropoff"`
	VehicleClass   string          `json:"vehicle_class"`
	LoadVariant    string          `json:"load_variant,omitempty"`
	DistanceKm     float64         `json:"distance_km"`
	DurationMin    float64         `json:"duration_min"`
	Price          PricePayload    `json:"price"`
	PaymentMethod  string          `json:"payment_method"`
	Services       []string        `json:"services,omitempty"`
	Note           string          `json:"note,omitempty"`
	Mode           string          `json:"mode"`
	PickupAt       string          `json:"pickup_at,omitempty"`
	Status         string          `json:"status"`
	DriverID       string          `json:"driver_id,omitempty"`
	OfferedDrivers []string        `json:"offered_drivers,omitempty"`
	SearchRadiusKm float64         `json:"search_radius_km,omitempty"`
	SearchStep     int             `json:"search_step,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	resp := BookingResponse{
		ID:         b.ID,
		Reference:  b.Reference,
		CustomerID: b.CustomerID,
		Pickup: LocationPayload{
			Address: b.Pickup.Address, Lat: b.Pickup.Coord.Lat, Lng: b.Pickup.Coord.Lng,
		},
		Dropoff: LocationPayload{
			Address: b.Dropoff.Address, Lat: b.Dropoff.Coord.Lat, Lng: b.Dropoff.Coord.Lng,
		},
		VehicleClass: b.VehicleClass,
		LoadVariant:  b.LoadVariant,
		DistanceKm:   b.DistanceKm,
		DurationMin:  b.DurationMin,
		Price: PricePayload{
			Base: b.Price.Base, Distance: b.Price.Distance,
			Services: b.Price.Services, Total: b.Price.Total, Currency: b.Price.Currency,
		},
		PaymentMethod:  string(b.PaymentMethod),
		Services:       b.Services,
		Note:           b.Note,
		Mode:           string(b.Mode),
		Status:         string(b.Status),
		DriverID:       b.DriverID,
		OfferedDrivers: b.OfferedDrivers,
		SearchRadiusKm: b.SearchRadiusKm,
		SearchStep:     b.SearchStep,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
	if !b.PickupAt.IsZero() {
		resp.PickupAt = b.PickupAt.Format(time.RFC3339)
	}
	return resp
}

// CreateBooking handles POST /v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	var pickupAt time.Time
	if req.PickupAt != "" {
		slot, err := schedule.ParseSlot(req.PickupAt, req.DurationMin)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "pickup_at must be RFC3339"})
			return
		}
		pickupAt = slot.Start
	}

	booking, err := h.bookingService.Submit(c.Request.Context(), service.SubmitBookingRequest{
		CustomerID: req.CustomerID,
		Pickup: domain.Location{
			Address: req.Pickup.Address,
			Coord:   domain.Coordinate{Lat: req.Pickup.Lat, Lng: req.Pickup.Lng},
		},
		Dropoff: domain.Location{
			Address: req.Dropoff.Address,
			Coord:   domain.Coordinate{Lat: req.Dropoff.Lat, Lng: req.Dropoff.Lng},
		},
		VehicleClass: req.VehicleClass,
		LoadVariant:  req.LoadVariant,
		DistanceKm:   req.DistanceKm,
		DurationMin:  req.DurationMin,
		Price: domain.PriceBreakdown{
			Base: req.Price.Base, Distance: req.Price.Distance,
			Services: req.Price.Services, Total: req.Price.Total, Currency: req.Price.Currency,
		},
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Services:      req.Services,
		Note:          req.Note,
		Mode:          domain.SchedulingMode(req.Mode),
		PickupAt:      pickupAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toBookingResponse(booking))
}

// GetBooking handles GET /v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.bookingService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBookingResponse(booking))
}

// ListBookings handles GET /v1/bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	bookings, err := h.bookingService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		resp = append(resp, toBookingResponse(b))
	}
	respondJSON(c, http.StatusOK, resp)
}

// ListOpenScheduled handles GET /v1/bookings/scheduled
func (h *BookingHandler) ListOpenScheduled(c *gin.Context) {
	bookings, err := h.bookingService.ListOpenScheduled(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		resp = append(resp, toBookingResponse(b))
	}
	respondJSON(c, http.StatusOK, resp)
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	if err := h.bookingService.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"status": "cancelled"})
}

// CompleteBooking handles POST /v1/bookings/:id/complete
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	booking, err := h.bookingService.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBookingResponse(booking))
}
