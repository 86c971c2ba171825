package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"recthink/internal/config"
	"recthink/internal/models"
	"recthink/internal/services"
)

const writeWait = 10 * time.Second

// clientFrame 客户端发来的消息
type clientFrame struct {
	Type                 string `json:"type"`
	Content              string `json:"content"`
	ThinkingRounds       *int   `json:"thinking_rounds"`
	AlternativesPerRound *int   `json:"alternatives_per_round"`
}

// serverFrame 推送给客户端的消息
type serverFrame struct {
	Type            string              `json:"type"`
	Seq             uint64              `json:"seq,omitempty"`
	Round           *int                `json:"round,omitempty"`
	Alternative     *int                `json:"alternative,omitempty"`
	Content         string              `json:"content,omitempty"`
	Response        string              `json:"response,omitempty"`
	ThinkingRounds  *int                `json:"thinking_rounds,omitempty"`
	Attempts        *int                `json:"attempts,omitempty"`
	Status          models.RefineStatus `json:"status,omitempty"`
	ThinkingHistory []thinkingStep      `json:"thinking_history,omitempty"`
	Warnings        []string            `json:"warnings,omitempty"`
	Detail          string              `json:"detail,omitempty"`
}

// StreamHandler WebSocket流式接口
type StreamHandler struct {
	registry *services.Registry
	engine   *services.Engine
	cfg      config.WebSocketConfig
	timeout  time.Duration
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler 创建流式处理器
func NewStreamHandler(registry *services.Registry, engine *services.Engine, cfg config.WebSocketConfig,
	timeout time.Duration, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		registry: registry,
		engine:   engine,
		cfg:      cfg,
		timeout:  timeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
		},
		logger: logger,
	}
}

// wsConn 带写锁的连接，gorilla的连接不支持并发写
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) writeJSON(frame serverFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(frame)
}

// HandleWebSocket GET /ws/:session_id
func (h *StreamHandler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Param("session_id")
	logger := h.logger.With(zap.String("session_id", sessionID))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("升级WebSocket连接失败", zap.Error(err))
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	if !h.registry.Has(sessionID) {
		_ = ws.writeJSON(serverFrame{Type: string(models.EventError), Detail: "Session not found"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session not found"),
			time.Now().Add(writeWait))
		return
	}

	// 设置连接属性
	if h.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(conn, done)

	logger.Info("WebSocket连接已建立", zap.String("remote", conn.RemoteAddr().String()))

	for {
		if h.cfg.PongWait > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("读取WebSocket消息失败", zap.Error(err))
			} else {
				logger.Info("WebSocket连接已关闭")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = ws.writeJSON(serverFrame{Type: string(models.EventError), Detail: "invalid JSON frame"})
			continue
		}
		if frame.Type != "message" {
			_ = ws.writeJSON(serverFrame{Type: string(models.EventError), Detail: "unknown frame type: " + frame.Type})
			continue
		}

		if err := h.handleMessage(c.Request.Context(), ws, sessionID, frame); err != nil {
			logger.Info("停止处理WebSocket连接", zap.Error(err))
			return
		}
	}
}

// handleMessage 处理一条用户消息，返回错误表示连接应当关闭
func (h *StreamHandler) handleMessage(parent context.Context, ws *wsConn, sessionID string, frame clientFrame) error {
	alternatives, err := alternativesParam(frame.AlternativesPerRound)
	if err != nil {
		_, detail := errorStatus(err)
		return ws.writeJSON(serverFrame{Type: string(models.EventError), Detail: detail})
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, h.timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	handle, err := h.registry.Acquire(ctx, sessionID)
	if err != nil {
		_, detail := errorStatus(err)
		if werr := ws.writeJSON(serverFrame{Type: string(models.EventError), Detail: detail}); werr != nil {
			return werr
		}
		if errors.Is(err, services.ErrSessionNotFound) {
			return err
		}
		return nil
	}
	defer handle.Release()

	sink := models.SinkFunc(func(event models.StreamEvent) error {
		return ws.writeJSON(eventFrame(event))
	})

	// 引擎的错误已通过sink以error帧发出
	_, err = h.engine.Refine(ctx, handle, services.RefineRequest{
		Input:        frame.Content,
		MaxRounds:    frame.ThinkingRounds,
		Alternatives: alternatives,
		Sink:         sink,
	})
	if err != nil {
		h.logger.Warn("流式优化失败", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

// pingLoop 定期发送ping
func (h *StreamHandler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	if h.cfg.PingPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// eventFrame 把流式事件转换为WebSocket帧
func eventFrame(event models.StreamEvent) serverFrame {
	switch event.Type {
	case models.EventChunk:
		round, alternative := event.Round, event.Alternative
		return serverFrame{
			Type:        string(models.EventChunk),
			Seq:         event.Seq,
			Round:       &round,
			Alternative: &alternative,
			Content:     event.Content,
		}
	case models.EventFinal:
		r := event.Result
		return serverFrame{
			Type:            string(models.EventFinal),
			Seq:             event.Seq,
			Response:        r.Response,
			ThinkingRounds:  &r.RoundsUsed,
			Attempts:        &r.Attempts,
			Status:          r.Status,
			ThinkingHistory: flattenRounds(r.Candidates),
			Warnings:        r.Warnings,
		}
	default:
		return serverFrame{Type: string(models.EventError), Seq: event.Seq, Detail: event.Detail}
	}
}
