package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/termgate/internal/protocol"
)

// actionExecute runs the tool itself rather than a package action
const actionExecute = "execute"

// ToolAction runs a tool or an install, remove or update for it. Each
// opens a new terminal whose id is returned.
func (h *Handlers) ToolAction(c *gin.Context) {
	ctx := c.Request.Context()
	tool := c.Param("name")
	verb := c.Param("action")

	var (
		sid string
		err error
	)
	if verb == actionExecute {
		sid, err = h.gateway.ExecuteTool(ctx, tool)
	} else {
		action, perr := protocol.ParseAction(verb)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid action. Must be execute, install, remove or update",
			})
			return
		}
		sid, err = h.gateway.ManageTool(ctx, tool, action)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sid,
		"tool":       tool,
		"action":     verb,
	})
}
