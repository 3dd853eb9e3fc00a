package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tirilo-fleet-backend/internal/model"
)

type sendCommandRequest struct {
	MACAddress string     `json:"macAddress" binding:"required"`
	Type       string     `json:"type" binding:"required"`
	Params     model.JSON `json:"params"`
}

// SendCommand handles POST /api/commands.
func (h *Handler) SendCommand(c *gin.Context) {
	var req sendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	command, err := h.svc.SendCommand(c.Request.Context(), req.MACAddress, model.CommandType(req.Type), req.Params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, command)
}

// PollCommands handles POST /api/agent/:mac/poll. Returned commands are
// already flipped to dispatched; the agent must ack each one.
func (h *Handler) PollCommands(c *gin.Context) {
	commands, err := h.svc.PollCommands(c.Request.Context(), c.Param("mac"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": commands})
}

type ackCommandRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

// AckCommand handles POST /api/commands/:id/ack.
func (h *Handler) AckCommand(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid command ID"})
		return
	}

	var req ackCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	command, ackErr := h.svc.AckCommand(c.Request.Context(), id, model.CommandStatus(req.Outcome))
	if ackErr != nil {
		respondError(c, ackErr)
		return
	}
	c.JSON(http.StatusOK, command)
}

// CancelCommand handles POST /api/commands/:id/cancel.
func (h *Handler) CancelCommand(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid command ID"})
		return
	}

	command, cancelErr := h.svc.CancelCommand(c.Request.Context(), id)
	if cancelErr != nil {
		respondError(c, cancelErr)
		return
	}
	c.JSON(http.StatusOK, command)
}

// CommandHistory handles GET /api/commands?mac=&limit=.
func (h *Handler) CommandHistory(c *gin.Context) {
	mac := c.Query("mac")
	if mac == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mac is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	commands, err := h.svc.CommandHistory(c.Request.Context(), mac, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commands)
}
