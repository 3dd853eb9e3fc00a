package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tirilo-fleet-backend/internal/registry"
)

type registerRobotRequest struct {
	MACAddress      string  `json:"macAddress" binding:"required"`
	Name            string  `json:"name" binding:"required"`
	ClinicID        *string `json:"clinicId"`
	HardwareModel   string  `json:"hardwareModel"`
	HardwareVersion string  `json:"hardwareVersion"`
	SerialNumber    string  `json:"serialNumber"`
}

// RegisterRobot handles POST /api/robots.
func (h *Handler) RegisterRobot(c *gin.Context) {
	var req registerRobotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	robot, err := h.svc.Registry.Register(c.Request.Context(), registry.RegisterInput{
		MACAddress:      req.MACAddress,
		Name:            req.Name,
		ClinicID:        req.ClinicID,
		HardwareModel:   req.HardwareModel,
		HardwareVersion: req.HardwareVersion,
		SerialNumber:    req.SerialNumber,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, robot)
}

// ListRobots handles GET /api/robots?clinic_id=.
func (h *Handler) ListRobots(c *gin.Context) {
	var clinicID *string
	if v, ok := c.GetQuery("clinic_id"); ok {
		clinicID = &v
	}

	statuses, err := h.svc.Registry.ListByClinic(c.Request.Context(), clinicID, time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

type updateRobotRequest struct {
	Name            *string `json:"name"`
	MACAddress      *string `json:"macAddress"`
	ClinicID        *string `json:"clinicId"`
	ClearClinic     bool    `json:"clearClinic"`
	HardwareModel   *string `json:"hardwareModel"`
	HardwareVersion *string `json:"hardwareVersion"`
	SerialNumber    *string `json:"serialNumber"`
}

// UpdateRobot handles PATCH /api/robots/:id.
func (h *Handler) UpdateRobot(c *gin.Context) {
	var req updateRobotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	robot, err := h.svc.Registry.Update(c.Request.Context(), c.Param("id"), registry.RobotUpdate{
		Name:            req.Name,
		MACAddress:      req.MACAddress,
		ClinicID:        req.ClinicID,
		ClearClinic:     req.ClearClinic,
		HardwareModel:   req.HardwareModel,
		HardwareVersion: req.HardwareVersion,
		SerialNumber:    req.SerialNumber,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, robot)
}

type setBlockedRequest struct {
	Blocked *bool `json:"blocked" binding:"required"`
}

// SetRobotBlocked handles POST /api/robots/:id/block.
func (h *Handler) SetRobotBlocked(c *gin.Context) {
	var req setBlockedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.Registry.SetBlocked(c.Request.Context(), c.Param("id"), *req.Blocked); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RobotMaintenanceHistory handles GET /api/robots/:id/maintenance.
func (h *Handler) RobotMaintenanceHistory(c *gin.Context) {
	orders, err := h.svc.Maintenance.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// AgentBootstrap handles GET /api/agent/:mac, the record a device agent
// reads at boot to learn its blocked flag, clinic and AI personality.
func (h *Handler) AgentBootstrap(c *gin.Context) {
	boot, err := h.svc.Bootstrap(c.Request.Context(), c.Param("mac"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, boot)
}
