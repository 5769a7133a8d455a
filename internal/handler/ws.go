package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/realtime"
)

// WSHandler upgrades driver and customer connections onto the realtime hub.
type WSHandler struct {
	hub *realtime.Hub
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *realtime.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Connect handles GET /v1/ws?user_id=...&user_type=driver|customer
func (h *WSHandler) Connect(c *gin.Context) {
	userID := c.Query("user_id")
	userType := c.Query("user_type")
	if userID == "" || (userType != "driver" && userType != "customer") {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user_id and user_type=driver|customer are required"})
		return
	}

	if _, err := realtime.Attach(h.hub, c.Writer, c.Request, userID, userType); err != nil {
		// Attach already wrote the upgrade failure to the connection.
		return
	}
}
