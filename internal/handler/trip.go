package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// TripHandler handles HTTP requests for pooled trips.
type TripHandler struct {
	pooling *service.PoolingCoordinator
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(pooling *service.PoolingCoordinator) *TripHandler {
	return &TripHandler{pooling: pooling}
}

// StopPayload is one route node in a trip response.
type StopPayload struct {
	Seq       int     `json:"seq"`
	BookingID string  `json:"booking_id"`
	Kind      string  `json:"kind"`
	Address   string  `json:"address"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Done      bool    `json:"done"`
}

// TripResponse is the HTTP representation of a pooled trip.
type TripResponse struct {
	ID         string        `json:"id"`
	DriverID   string        `json:"driver_id"`
	Status     string        `json:"status"`
	Stops      []StopPayload `json:"stops"`
	Cursor     int           `json:"cursor"`
	BookingIDs []string      `json:"booking_ids"`
	CreatedAt  string        `json:"created_at"`
	EndedAt    string        `json:"ended_at,omitempty"`
}

func toTripResponse(t *domain.PooledTrip) TripResponse {
	stops := make([]StopPayload, 0, len(t.Stops))
	for _, s := range t.Stops {
		stops = append(stops, StopPayload{
			Seq: s.Seq, BookingID: s.BookingID, Kind: string(s.Kind),
			Address: s.Address, Lat: s.Coord.Lat, Lng: s.Coord.Lng, Done: s.Done,
		})
	}

	resp := TripResponse{
		ID:         t.ID,
		DriverID:   t.DriverID,
		Status:     string(t.Status),
		Stops:      stops,
		Cursor:     t.Cursor,
		BookingIDs: t.BookingIDs,
		CreatedAt:  t.CreatedAt.Format(time.RFC3339),
	}
	if !t.EndedAt.IsZero() {
		resp.EndedAt = t.EndedAt.Format(time.RFC3339)
	}
	return resp
}

// StartTrip handles POST /v1/trips
func (h *TripHandler) StartTrip(c *gin.Context) {
	var req struct {
		DriverID  string `json:"driver_id"`
		BookingID string `json:"booking_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.pooling.StartTrip(c.Request.Context(), req.DriverID, req.BookingID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toTripResponse(trip))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, err := h.pooling.GetTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// GetActiveTrip handles GET /v1/drivers/:id/trip
func (h *TripHandler) GetActiveTrip(c *gin.Context) {
	trip, err := h.pooling.GetActiveTrip(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}

// AddBooking handles POST /v1/trips/:id/bookings
func (h *TripHandler) AddBooking(c *gin.Context) {
	var req struct {
		BookingID string `json:"booking_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, addedKm, err := h.pooling.AddBooking(c.Request.Context(), c.Param("id"), req.BookingID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := toTripResponse(trip)
	respondJSON(c, http.StatusOK, gin.H{"trip": resp, "added_km": addedKm})
}

// CompleteStop handles POST /v1/trips/:id/stops/complete
func (h *TripHandler) CompleteStop(c *gin.Context) {
	trip, err := h.pooling.CompleteStop(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toTripResponse(trip))
}
