package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tirilo-fleet-backend/internal/model"
)

type recordTelemetryRequest struct {
	MACAddress string     `json:"macAddress" binding:"required"`
	Activity   string     `json:"activity" binding:"required"`
	Result     string     `json:"result"`
	Details    model.JSON `json:"details"`
	Timestamp  *time.Time `json:"timestamp"`
}

// RecordTelemetry handles POST /api/telemetry.
func (h *Handler) RecordTelemetry(c *gin.Context) {
	var req recordTelemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts := time.Time{}
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	event, err := h.svc.RecordTelemetry(c.Request.Context(), req.MACAddress, req.Activity, req.Result, req.Details, ts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

// GetTelemetry handles GET /api/telemetry/:mac?limit=.
func (h *Handler) GetTelemetry(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	events, err := h.svc.GetTelemetry(c.Request.Context(), c.Param("mac"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetPresence handles GET /api/telemetry/:mac/online.
func (h *Handler) GetPresence(c *gin.Context) {
	online, lastSeen, err := h.svc.IsOnline(c.Request.Context(), c.Param("mac"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"online":        online,
		"lastSeen":      lastSeen,
		"windowSeconds": int(h.svc.PresenceWindow().Seconds()),
	})
}
