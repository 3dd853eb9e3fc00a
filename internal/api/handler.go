package api

import (
	"tirilo-fleet-backend/internal/fleet"

	"github.com/SherClockHolmes/webpush-go"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc     *fleet.Service
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(svc *fleet.Service, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		svc:     svc,
		webpush: webpushOptions,
	}
}
