// Package ws 提供连接优化服务流式接口的WebSocket客户端
package ws

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// 服务端帧类型
const (
	FrameChunk = "chunk"
	FrameFinal = "final"
	FrameError = "error"
)

const writeWait = 10 * time.Second

// ErrNotConnected 尚未建立连接
var ErrNotConnected = errors.New("websocket not connected")

// ServerError 服务端返回的错误帧
type ServerError struct {
	Detail string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Detail
}

// Frame 服务端推送的帧
type Frame struct {
	Type           string   `json:"type"`
	Seq            uint64   `json:"seq"`
	Round          int      `json:"round"`
	Alternative    int      `json:"alternative"`
	Content        string   `json:"content"`
	Response       string   `json:"response"`
	ThinkingRounds int      `json:"thinking_rounds"`
	Attempts       int      `json:"attempts"`
	Status         string   `json:"status"`
	Warnings       []string `json:"warnings"`
	Detail         string   `json:"detail"`
}

// Message 发送给服务端的提问帧
type Message struct {
	Type                 string `json:"type"`
	Content              string `json:"content"`
	ThinkingRounds       *int   `json:"thinking_rounds,omitempty"`
	AlternativesPerRound *int   `json:"alternatives_per_round,omitempty"`
}

// MessageHandler 帧处理函数
type MessageHandler func(frame Frame) error

// Config 客户端配置
type Config struct {
	ServerURL         string        // 服务地址，http(s)或ws(s)
	SessionID         string        // 会话ID
	DialTimeout       time.Duration // 握手超时
	ReconnectInterval time.Duration // 重连间隔
	MaxRetries        int           // 最大重试次数
	HeartbeatInterval time.Duration // 心跳间隔，0表示不发送心跳
}

// Client 流式接口客户端，同一时间只处理一个提问
type Client struct {
	cfg    Config
	logger *zap.Logger

	connLock sync.Mutex
	conn     *websocket.Conn
	stopBeat chan struct{}

	askLock  sync.Mutex
	handlers map[string]MessageHandler
}

// NewClient 创建客户端
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]MessageHandler),
	}
}

// Endpoint 根据服务地址和会话ID拼出流式接口地址
func Endpoint(serverURL, sessionID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", errors.Wrap(err, "parse server url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(sessionID)
	return u.String(), nil
}

// Connect 连接服务端，失败时按配置重试
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := Endpoint(c.cfg.ServerURL, c.cfg.SessionID)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	for attempt := 0; ; attempt++ {
		c.logger.Debug("正在连接WebSocket服务器", zap.String("url", endpoint), zap.Int("attempt", attempt))
		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err == nil {
			c.setConn(conn)
			c.logger.Info("已连接到WebSocket服务器", zap.String("url", endpoint))
			return nil
		}
		if attempt >= c.cfg.MaxRetries {
			return errors.Wrap(err, "dial websocket")
		}

		c.logger.Warn("连接失败，准备重试", zap.Error(err), zap.Int("attempt", attempt+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// RegisterHandler 注册帧处理器，final帧和error帧之外的帧只通过处理器交付
func (c *Client) RegisterHandler(frameType string, handler MessageHandler) {
	c.askLock.Lock()
	defer c.askLock.Unlock()
	c.handlers[frameType] = handler
}

// Ask 发送一次提问并读取帧直到final或error。连接断开时会自动重连一次再发送
func (c *Client) Ask(ctx context.Context, msg Message) (Frame, error) {
	c.askLock.Lock()
	defer c.askLock.Unlock()

	msg.Type = "message"
	conn := c.current()
	if conn == nil {
		if err := c.Connect(ctx); err != nil {
			return Frame{}, err
		}
		conn = c.current()
	}

	if err := c.write(conn, msg); err != nil {
		c.logger.Warn("消息发送失败，尝试重连", zap.Error(err))
		c.dropConn(conn)
		if err := c.Connect(ctx); err != nil {
			return Frame{}, err
		}
		conn = c.current()
		if err := c.write(conn, msg); err != nil {
			return Frame{}, errors.Wrap(err, "send message")
		}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.dropConn(conn)
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, errors.Wrap(err, "read frame")
		}

		if handler, ok := c.handlers[frame.Type]; ok {
			if err := handler(frame); err != nil {
				return Frame{}, errors.Wrap(err, "handle frame")
			}
		}

		switch frame.Type {
		case FrameFinal:
			return frame, nil
		case FrameError:
			return frame, &ServerError{Detail: frame.Detail}
		}
	}
}

// Close 关闭连接
func (c *Client) Close() error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return nil
	}
	c.stopHeartbeatLocked()
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) current() *websocket.Conn {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.conn
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	c.conn = conn
	if c.cfg.HeartbeatInterval > 0 {
		c.stopBeat = make(chan struct{})
		go c.heartbeat(conn, c.stopBeat)
	}
}

// dropConn 丢弃已失效的连接
func (c *Client) dropConn(conn *websocket.Conn) {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn != conn {
		return
	}
	c.stopHeartbeatLocked()
	_ = c.conn.Close()
	c.conn = nil
}

func (c *Client) stopHeartbeatLocked() {
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
}

func (c *Client) write(conn *websocket.Conn, msg Message) error {
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// heartbeat 定时发送Ping，服务端的Pong由读循环处理
func (c *Client) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("发送心跳失败", zap.Error(err))
				return
			}
		}
	}
}
