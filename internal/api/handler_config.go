package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetAIConfig handles GET /api/clinics/:clinic_id/ai-config.
func (h *Handler) GetAIConfig(c *gin.Context) {
	cfg, err := h.svc.GetAIConfig(c.Request.Context(), c.Param("clinic_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type putAIConfigRequest struct {
	PersonalityPrompt string `json:"personalityPrompt"`
	VoiceEngine       string `json:"voiceEngine"`
}

// PutAIConfig handles PUT /api/clinics/:clinic_id/ai-config.
func (h *Handler) PutAIConfig(c *gin.Context) {
	var req putAIConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := h.svc.PutAIConfig(c.Request.Context(), c.Param("clinic_id"), req.PersonalityPrompt, req.VoiceEngine)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
