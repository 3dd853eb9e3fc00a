package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"tirilo-fleet-backend/config"
	"tirilo-fleet-backend/internal/fleet"
	"tirilo-fleet-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router over the fleet facade.
func NewRouter(svc *fleet.Service, cfg *config.ServerConfig, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(svc, webpushOptions)

	limit := rate.Limit(cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Limit(25)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 10
	}
	rateLimiter := mw.RateLimiter(limit, burst)

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter, mw.FlushOnWrite(cacheStore))
	{
		// Robot registry
		api.POST("/robots", handler.RegisterRobot)
		api.GET("/robots", caching, handler.ListRobots)
		api.PATCH("/robots/:id", handler.UpdateRobot)
		api.POST("/robots/:id/block", handler.SetRobotBlocked)
		api.GET("/robots/:id/maintenance", handler.RobotMaintenanceHistory)

		// Device agent surface
		api.GET("/agent/:mac", handler.AgentBootstrap)
		api.POST("/agent/:mac/poll", handler.PollCommands)

		// Command queue
		api.POST("/commands", handler.SendCommand)
		api.GET("/commands", handler.CommandHistory)
		api.POST("/commands/:id/ack", handler.AckCommand)
		api.POST("/commands/:id/cancel", handler.CancelCommand)

		// Telemetry
		api.POST("/telemetry", handler.RecordTelemetry)
		api.GET("/telemetry/:mac", handler.GetTelemetry)
		api.GET("/telemetry/:mac/online", handler.GetPresence)

		// Maintenance workflow
		api.POST("/maintenance", handler.OpenMaintenanceOrder)
		api.GET("/maintenance", caching, handler.ListMaintenanceOrders)
		api.PATCH("/maintenance/:id", handler.UpdateMaintenanceOrder)
		api.POST("/maintenance/:id/close", handler.CloseMaintenanceOrder)

		// Per-clinic AI personality pass-through
		api.GET("/clinics/:clinic_id/ai-config", handler.GetAIConfig)
		api.PUT("/clinics/:clinic_id/ai-config", handler.PutAIConfig)

		// Operator push subscriptions
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
