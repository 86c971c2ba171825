// Package handlers 提供HTTP和WebSocket接口
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"recthink/internal/services"
)

// RegisterRoutes 注册根路由和健康检查
func RegisterRoutes(r *gin.Engine, registry *services.Registry) {
	// 根路由
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "RecThink Server Running")
	})

	// 健康检查路由
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "recthink",
			"sessions": registry.Len(),
			"time":     time.Now().Format(time.RFC3339),
		})
	})
}
