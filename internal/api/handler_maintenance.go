package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tirilo-fleet-backend/internal/fleeterr"
	"tirilo-fleet-backend/internal/maintenance"
	"tirilo-fleet-backend/internal/model"
)

type openOrderRequest struct {
	RobotID           string `json:"robotId" binding:"required"`
	Type              string `json:"type" binding:"required"`
	ReportedDefect    string `json:"reportedDefect"`
	UpdateRobotStatus bool   `json:"updateRobotStatus"`
}

// OpenMaintenanceOrder handles POST /api/maintenance. On a partial failure
// the order was created but the robot flag write failed; the response then
// carries both the error structure and the order so the operator can
// reconcile.
func (h *Handler) OpenMaintenanceOrder(c *gin.Context) {
	var req openOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.Maintenance.Open(
		c.Request.Context(),
		req.RobotID,
		model.MaintenanceType(req.Type),
		req.ReportedDefect,
		req.UpdateRobotStatus,
		time.Now().UTC(),
	)
	if err != nil {
		var partial *fleeterr.PartialFailureError
		if errors.As(err, &partial) && order != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"error":     partial.Error(),
				"completed": partial.Completed,
				"failed":    partial.Failed,
				"state":     partial.State,
				"order":     order,
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// ListMaintenanceOrders handles GET /api/maintenance?status=.
func (h *Handler) ListMaintenanceOrders(c *gin.Context) {
	orders, err := h.svc.Maintenance.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

type updateOrderRequest struct {
	Status             string  `json:"status"`
	ReportedDefect     *string `json:"reportedDefect"`
	TechnicalDiagnosis *string `json:"technicalDiagnosis"`
	AppliedFix         *string `json:"appliedFix"`
	TotalCostCents     *int64  `json:"totalCostCents"`
	BilledToCustomer   *bool   `json:"billedToCustomer"`
}

// UpdateMaintenanceOrder handles PATCH /api/maintenance/:id.
func (h *Handler) UpdateMaintenanceOrder(c *gin.Context) {
	var req updateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.Maintenance.Transition(
		c.Request.Context(),
		c.Param("id"),
		model.OrderStatus(req.Status),
		maintenance.OrderUpdate{
			ReportedDefect:     req.ReportedDefect,
			TechnicalDiagnosis: req.TechnicalDiagnosis,
			AppliedFix:         req.AppliedFix,
			TotalCostCents:     req.TotalCostCents,
			BilledToCustomer:   req.BilledToCustomer,
		},
		time.Now().UTC(),
	)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type closeOrderRequest struct {
	RobotID string `json:"robotId" binding:"required"`
}

// CloseMaintenanceOrder handles POST /api/maintenance/:id/close, the
// compound close-and-release. A 502 response means the order is done but
// the robot is still flagged in_maintenance.
func (h *Handler) CloseMaintenanceOrder(c *gin.Context) {
	var req closeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.Maintenance.CloseAndRelease(c.Request.Context(), c.Param("id"), req.RobotID, time.Now().UTC())
	if err != nil {
		var partial *fleeterr.PartialFailureError
		if errors.As(err, &partial) && order != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
				"error":     partial.Error(),
				"completed": partial.Completed,
				"failed":    partial.Failed,
				"state":     partial.State,
				"order":     order,
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
