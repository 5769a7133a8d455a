package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests for drivers: registration, duty
// state, location reports and the offer/accept flow.
type DriverHandler struct {
	driverRepo repository.DriverRepository
	registry   *service.PresenceRegistry
	dispatch   *service.DispatchCoordinator
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(
	driverRepo repository.DriverRepository,
	registry *service.PresenceRegistry,
	dispatch *service.DispatchCoordinator,
) *DriverHandler {
	return &DriverHandler{
		driverRepo: driverRepo,
		registry:   registry,
		dispatch:   dispatch,
	}
}

// CreateDriverRequest is the HTTP request body for registering a driver.
type CreateDriverRequest struct {
	Name         string   `json:"name"`
	Phone        string   `json:"phone"`
	VehicleClass string   `json:"vehicle_class"`
	LoadVariant  string   `json:"load_variant,omitempty"`
	ServiceAreas []string `json:"service_areas,omitempty"`
}

// DriverResponse is the HTTP representation of a driver.
type DriverResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Phone        string   `json:"phone"`
	Status       string   `json:"status"`
	VehicleClass string   `json:"vehicle_class"`
	LoadVariant  string   `json:"load_variant,omitempty"`
	ServiceAreas []string `json:"service_areas,omitempty"`
	Rating       float64  `json:"rating"`
	RatingCount  int      `json:"rating_count"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	return DriverResponse{
		ID:           d.ID,
		Name:         d.Name,
		Phone:        d.Phone,
		Status:       string(d.Status),
		VehicleClass: d.VehicleClass,
		LoadVariant:  d.LoadVariant,
		ServiceAreas: d.ServiceAreas,
		Rating:       d.Rating.Average,
		RatingCount:  d.Rating.Count,
	}
}

// LocationRequest is the HTTP request body for duty and location updates.
type LocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CreateDriver handles POST /v1/drivers
func (h *DriverHandler) CreateDriver(c *gin.Context) {
	var req CreateDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Name == "" || req.VehicleClass == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name and vehicle_class are required"})
		return
	}

	driver := &domain.Driver{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Phone:        req.Phone,
		Status:       domain.DriverStatusOffDuty,
		VehicleClass: req.VehicleClass,
		LoadVariant:  req.LoadVariant,
		ServiceAreas: req.ServiceAreas,
	}
	if err := h.driverRepo.Create(c.Request.Context(), driver); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toDriverResponse(driver))
}

// GetDriver handles GET /v1/drivers/:id
func (h *DriverHandler) GetDriver(c *gin.Context) {
	driver, err := h.driverRepo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// GoOnDuty handles POST /v1/drivers/:id/duty
func (h *DriverHandler) GoOnDuty(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	p, err := h.registry.GoOnDuty(c.Request.Context(), c.Param("id"),
		domain.Coordinate{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{
		"driver_id": p.DriverID,
		"status":    string(domain.DriverStatusOnDuty),
	})
}

// GoOffDuty handles DELETE /v1/drivers/:id/duty
func (h *DriverHandler) GoOffDuty(c *gin.Context) {
	if err := h.registry.GoOffDuty(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{
		"driver_id": c.Param("id"),
		"status":    string(domain.DriverStatusOffDuty),
	})
}

// UpdateLocation handles PUT /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.registry.UpdateLocation(c.Request.Context(), c.Param("id"),
		domain.Coordinate{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"driver_id": c.Param("id")})
}

// OfferBooking handles POST /v1/bookings/:id/offers
func (h *DriverHandler) OfferBooking(c *gin.Context) {
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.dispatch.Offer(c.Request.Context(), c.Param("id"), req.DriverID); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"status": "offered"})
}

// AcceptBooking handles POST /v1/bookings/:id/accept
func (h *DriverHandler) AcceptBooking(c *gin.Context) {
	var req struct {
		DriverID string `json:"driver_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	booking, err := h.dispatch.Accept(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toBookingResponse(booking))
}
