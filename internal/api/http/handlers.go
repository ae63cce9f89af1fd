package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termgate/internal/domain/notify"
	"github.com/GriffinCanCode/termgate/internal/gateway"
	"github.com/GriffinCanCode/termgate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termgate/internal/protocol"
	"github.com/GriffinCanCode/termgate/internal/shared/errs"
)

// Gateway is the subset of the gateway the handlers drive
type Gateway interface {
	ExecuteTool(ctx context.Context, tool string) (string, error)
	ManageTool(ctx context.Context, tool string, action protocol.Action) (string, error)
	OpenShell(ctx context.Context) (string, error)
	CloseTerminal(ctx context.Context, sid string) error
	SetMinimized(sid string, minimized bool) bool
	Focus(sid string) bool
	Mode() protocol.Mode
	SetMode(mode protocol.Mode)
	View() gateway.View
	Notifications() []notify.Notification
	ClearNotification(nid uint64) bool
	Poll(ctx context.Context)
}

// Handlers serves the operator REST surface
type Handlers struct {
	gateway Gateway
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandlers creates handlers. metrics may be nil.
func NewHandlers(gw Gateway, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{gateway: gw, metrics: metrics, logger: logger}
}

// Register mounts every route on router
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	api.GET("/view", h.GetView)
	api.POST("/poll", h.Refresh)
	api.POST("/mode", h.SetMode)

	api.POST("/tools/:name/:action", h.ToolAction)

	api.POST("/terminals", h.OpenShell)
	api.DELETE("/terminals/:id", h.CloseTerminal)
	api.POST("/terminals/:id/minimize", h.Minimize)
	api.POST("/terminals/:id/focus", h.Focus)

	api.GET("/notifications", h.ListNotifications)
	api.DELETE("/notifications/:id", h.ClearNotification)
}

// Health reports liveness and channel state
func (h *Handlers) Health(c *gin.Context) {
	view := h.gateway.View()
	body := gin.H{
		"status":    "healthy",
		"connected": view.Connected,
		"sessions":  len(view.Local),
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// GetView returns the full operator view
func (h *Handlers) GetView(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.View())
}

// Refresh polls the backend collections immediately
func (h *Handlers) Refresh(c *gin.Context) {
	h.gateway.Poll(c.Request.Context())
	c.JSON(http.StatusOK, h.gateway.View())
}

// SetMode switches the execution mode for new tool runs
func (h *Handlers) SetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	mode, err := protocol.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid mode. Must be guided or direct",
		})
		return
	}

	h.gateway.SetMode(mode)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"mode":    mode,
	})
}

// respondError maps gateway errors to status codes. Details already went
// to the notification sink.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var ae *errs.ActionError
	switch {
	case errors.Is(err, errs.ErrSessionExists):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case errors.As(err, &ae), errors.Is(err, errs.ErrTransport):
		status = http.StatusBadGateway
	case errors.Is(err, errs.ErrContainerNotFound):
		status = http.StatusNotFound
	}

	h.logger.Debug("Request failed", zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}
