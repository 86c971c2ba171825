package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"recthink/internal/models"
	"recthink/internal/services"
)

// SessionDefaults 创建会话时未指定的参数
type SessionDefaults struct {
	SystemPrompt string
	Reference    []models.ReferenceEntry
}

// SessionHandler 会话相关的REST接口
type SessionHandler struct {
	registry *services.Registry
	engine   *services.Engine
	archive  *services.Archive
	defaults SessionDefaults
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSessionHandler 创建会话处理器，timeout为单次send_message的截止时间
func NewSessionHandler(registry *services.Registry, engine *services.Engine, archive *services.Archive,
	defaults SessionDefaults, timeout time.Duration, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{
		registry: registry,
		engine:   engine,
		archive:  archive,
		defaults: defaults,
		timeout:  timeout,
		logger:   logger,
	}
}

type initializeRequest struct {
	APIKey          string                  `json:"api_key"`
	Provider        string                  `json:"provider"`
	Model           string                  `json:"model"`
	BaseURL         string                  `json:"base_url"`
	SystemPrompt    *string                 `json:"system_prompt"`
	ReferenceCorpus []models.ReferenceEntry `json:"reference_corpus"`
}

type sendMessageRequest struct {
	SessionID            string `json:"session_id" binding:"required"`
	Message              string `json:"message" binding:"required"`
	ThinkingRounds       *int   `json:"thinking_rounds"`
	AlternativesPerRound *int   `json:"alternatives_per_round"`
}

type sendMessageResponse struct {
	SessionID       string              `json:"session_id"`
	Response        string              `json:"response"`
	ThinkingRounds  int                 `json:"thinking_rounds"`
	Attempts        int                 `json:"attempts"`
	Status          models.RefineStatus `json:"status"`
	ThinkingHistory []thinkingStep      `json:"thinking_history"`
	Warnings        []string            `json:"warnings,omitempty"`
}

type saveRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Filename  string `json:"filename"`
	FullLog   bool   `json:"full_log"`
}

// Initialize POST /api/initialize
func (h *SessionHandler) Initialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return
	}

	cfg := models.SessionConfig{
		Model: models.ModelConfig{
			Provider: req.Provider,
			Model:    req.Model,
			APIKey:   req.APIKey,
			BaseURL:  req.BaseURL,
		},
		SystemPrompt: h.defaults.SystemPrompt,
		Reference:    h.defaults.Reference,
	}
	if req.SystemPrompt != nil {
		cfg.SystemPrompt = *req.SystemPrompt
	}
	if req.ReferenceCorpus != nil {
		cfg.Reference = req.ReferenceCorpus
	}

	id, err := h.registry.Create(cfg)
	if err != nil {
		h.logger.Warn("创建会话失败", zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": id, "status": "initialized"})
}

// SendMessage POST /api/send_message
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	alternatives, err := alternativesParam(req.AlternativesPerRound)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := h.requestContext(c.Request.Context())
	defer cancel()

	handle, err := h.registry.Acquire(ctx, req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	defer handle.Release()

	result, err := h.engine.Refine(ctx, handle, services.RefineRequest{
		Input:        req.Message,
		MaxRounds:    req.ThinkingRounds,
		Alternatives: alternatives,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newSendMessageResponse(req.SessionID, result))
}

// Save POST /api/save
func (h *SessionHandler) Save(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	filename, err := h.archive.Save(services.SaveRequest{
		SessionID: req.SessionID,
		Filename:  req.Filename,
		FullLog:   req.FullLog,
	})
	if err != nil {
		h.logger.Error("保存会话失败", zap.String("session_id", req.SessionID), zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "saved", "filename": filename})
}

// ListSessions GET /api/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.registry.List()})
}

// DeleteSession DELETE /api/sessions/:session_id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	id := c.Param("session_id")
	if err := h.registry.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
}

func (h *SessionHandler) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, h.timeout)
}

// alternativesParam 未指定返回0（使用默认值），指定时必须为正数
func alternativesParam(v *int) (int, error) {
	if v == nil {
		return 0, nil
	}
	if *v < 1 {
		return 0, errors.Wrapf(services.ErrInvalidRequest, "alternatives_per_round must be positive: %d", *v)
	}
	return *v, nil
}

func newSendMessageResponse(sessionID string, result *models.RefinementResult) sendMessageResponse {
	return sendMessageResponse{
		SessionID:       sessionID,
		Response:        result.Response,
		ThinkingRounds:  result.RoundsUsed,
		Attempts:        result.Attempts,
		Status:          result.Status,
		ThinkingHistory: flattenRounds(result.Candidates),
		Warnings:        result.Warnings,
	}
}
