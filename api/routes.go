package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handlers) {
	api := r.Group("/api")

	// Sessions - static routes first
	api.GET("/sessions", h.ListSessions)
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/persisted", h.ListPersistedSessions)
	api.GET("/sessions/persisted/:id", h.GetPersistedSession)
	api.DELETE("/sessions/persisted/:id", h.DiscardPersistedSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.DeleteSession)
	api.POST("/sessions/:id/persist", h.PersistSession)

	// Connected IDE controllers
	api.GET("/controllers", h.ListControllers)

	// Notifications (SSE)
	api.GET("/notifications/stream", h.NotificationStream)

	// WebSockets
	r.GET("/gui/ws", h.GUIWebSocket)
	r.GET("/ide/ws", h.server.IDE().Serve)

	// Prometheus
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.server.Registry(), promhttp.HandlerOpts{})))
}
