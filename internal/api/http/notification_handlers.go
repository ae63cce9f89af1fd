package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ListNotifications returns the live notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"notifications": h.gateway.Notifications(),
	})
}

// ClearNotification dismisses a notification before it expires
func (h *Handlers) ClearNotification(c *gin.Context) {
	nid, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid notification id",
		})
		return
	}
	if !h.gateway.ClearNotification(nid) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Notification not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
