package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OpenShell opens an interactive shell terminal
func (h *Handlers) OpenShell(c *gin.Context) {
	sid, err := h.gateway.OpenShell(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sid,
	})
}

// CloseTerminal closes a terminal on both sides
func (h *Handlers) CloseTerminal(c *gin.Context) {
	sid := c.Param("id")
	if err := h.gateway.CloseTerminal(c.Request.Context(), sid); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sid,
	})
}

// Minimize sets or clears a terminal's minimized flag
func (h *Handlers) Minimize(c *gin.Context) {
	var req struct {
		Minimized *bool `json:"minimized"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Minimized == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: minimized is required",
		})
		return
	}

	sid := c.Param("id")
	if !h.gateway.SetMinimized(sid, *req.Minimized) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Terminal not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"minimized": *req.Minimized,
	})
}

// Focus marks the terminal the operator is looking at
func (h *Handlers) Focus(c *gin.Context) {
	if !h.gateway.Focus(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Terminal not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
