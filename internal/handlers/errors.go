package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"recthink/internal/services"
)

// errorStatus 把服务错误映射为HTTP状态码和对外描述
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrGenerationFailed):
		return http.StatusBadGateway, "Failed to generate a response"
	case errors.Is(err, services.ErrRegistryFull):
		return http.StatusServiceUnavailable, "Too many active sessions"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError 输出错误响应
func writeError(c *gin.Context, err error) {
	status, detail := errorStatus(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// bindError 请求体解析失败
func bindError(c *gin.Context, err error) {
	writeError(c, errors.Wrap(services.ErrInvalidRequest, err.Error()))
}
