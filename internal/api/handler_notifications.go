package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"visa-slot-monitor/internal/notification"
)

type testNotificationRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Channel     string `json:"channel" binding:"required"`
	Destination string `json:"destination"`
}

// TestNotification sends a test message through one channel. Without a
// destination the address stored in the user's settings is used.
func (h *Handler) TestNotification(c *gin.Context) {
	var req testNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.tester.SendTest(c.Request.Context(), req.UserID, req.Channel, req.Destination)
	switch {
	case errors.Is(err, notification.ErrUnknownChannel):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown channel", "channels": notification.Channels})
	case errors.Is(err, notification.ErrNoDestination):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no destination configured for channel"})
	case errors.Is(err, notification.ErrNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel is not configured on this server"})
	case err != nil:
		h.logger.Warn("test notification failed", zap.String("channel", req.Channel), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "notification could not be delivered"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test notification sent"})
	}
}
