package handlers

import (
	"headset_monitor/internal/logger"
	"headset_monitor/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	hub      *Hub
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies. A nil hub gets a private one.
func NewHandler(services *service.Service, hub *Hub, log *logger.Logger) *Handler {
	if hub == nil {
		hub = NewHub(log)
	}
	return &Handler{services: services, hub: hub, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", h.health)
		api.GET("/server-info", h.serverInfo)
		api.GET("/state", h.systemState)
		api.GET("/active", h.listActive)
		api.GET("/dongles", h.listDongles)
		api.GET("/colors", h.listColors)

		h.registerDeviceRoutes(api)
		h.registerStatsRoutes(api)

		api.POST("/telemetry", h.authMiddleware, h.ingestTelemetry)
	}
}

func (h *Handler) registerDeviceRoutes(api *gin.RouterGroup) {
	devices := api.Group("/devices")
	{
		devices.GET("", h.listDevices)
		devices.GET("/:id", h.getDevice)
		devices.GET("/:id/estimates", h.getEstimates)

		devices.POST("", h.authMiddleware, h.registerDevice)
		devices.PUT("/:id", h.authMiddleware, h.updateDevice)
		devices.DELETE("/:id", h.authMiddleware, h.removeDevice)
	}
}

func (h *Handler) registerStatsRoutes(api *gin.RouterGroup) {
	stats := api.Group("/stats")
	{
		stats.GET("", h.getStatistics)
		stats.GET("/battery-history", h.batteryHistory)
		stats.GET("/charging-history", h.chargingHistory)
		stats.GET("/usage-history", h.usageHistory)
	}
}
