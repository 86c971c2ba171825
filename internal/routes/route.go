// Package routes 注册所有HTTP路由
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recthink/internal/handlers"
	"recthink/internal/metrics"
	"recthink/internal/services"
)

// Dependencies 路由需要的处理器和服务
type Dependencies struct {
	Registry *services.Registry
	Sessions *handlers.SessionHandler
	Stream   *handlers.StreamHandler
	Metrics  *metrics.Metrics
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, deps Dependencies) {
	handlers.RegisterRoutes(r, deps.Registry)

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// 注册会话路由
	RegisterSessionRoutes(r, deps.Sessions)

	// 注册流式路由
	r.GET("/ws/:session_id", deps.Stream.HandleWebSocket)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found"})
	})
}

// RegisterSessionRoutes 注册会话相关路由
func RegisterSessionRoutes(r *gin.Engine, h *handlers.SessionHandler) {
	api := r.Group("/api")
	api.POST("/initialize", h.Initialize)
	api.POST("/send_message", h.SendMessage)
	api.POST("/save", h.Save)
	api.GET("/sessions", h.ListSessions)
	api.DELETE("/sessions/:session_id", h.DeleteSession)
}
