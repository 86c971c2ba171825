package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recthink/internal/models"
)

// Config Ollama客户端配置
type Config struct {
	Host  string // Ollama服务器地址（完整URL）
	Model string // 使用的模型名称
}

// Client Ollama客户端
type Client struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// ChatMessage 对话消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest 对话请求参数
type ChatRequest struct {
	Model    string        `json:"model"`             // 模型名称
	Messages []ChatMessage `json:"messages"`          // 消息列表
	Stream   bool          `json:"stream"`            // 是否流式输出
	Options  Options       `json:"options,omitempty"` // 可选参数
}

// Options 生成选项
type Options struct {
	Temperature float64 `json:"temperature,omitempty"` // 温度参数
	TopP        float64 `json:"top_p,omitempty"`       // Top-p采样
	TopK        int     `json:"top_k,omitempty"`       // Top-k采样
	NumPredict  int     `json:"num_predict,omitempty"` // 最大生成token数
}

// ChatResponse 对话响应
type ChatResponse struct {
	Model           string      `json:"model"`             // 模型名称
	CreatedAt       string      `json:"created_at"`        // 创建时间
	Message         ChatMessage `json:"message"`           // 生成的消息
	Done            bool        `json:"done"`              // 是否完成
	TotalDuration   int64       `json:"total_duration"`    // 总耗时(纳秒)
	PromptEvalCount int         `json:"prompt_eval_count"` // 提示词评估数量
	EvalCount       int         `json:"eval_count"`        // 评估数量
	Error           string      `json:"error,omitempty"`   // 服务端错误
}

// NewClient 创建新的Ollama客户端
func NewClient(config Config) *Client {
	return NewClientWithHTTP(config, &http.Client{})
}

// NewClientWithHTTP 使用指定的HTTP客户端创建Ollama客户端
func NewClientWithHTTP(config Config, httpClient *http.Client) *Client {
	config.Host = strings.TrimRight(config.Host, "/")
	return &Client{
		config: config,
		client: httpClient,
		logger: zap.NewNop(),
	}
}

// WithLogger 设置日志记录器
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Name 返回提供方名称
func (c *Client) Name() string {
	return "ollama"
}

// Chat 生成一条回复
func (c *Client) Chat(ctx context.Context, messages []ChatMessage, options Options) (*ChatResponse, error) {
	resp, err := c.post(ctx, ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// 解析响应
	var response ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("服务器返回错误: %s", response.Error)
	}

	return &response, nil
}

// ChatStream 流式生成回复
func (c *Client) ChatStream(ctx context.Context, messages []ChatMessage, options Options, callback func(*ChatResponse) error) error {
	resp, err := c.post(ctx, ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   true,
		Options:  options,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 逐行读取响应
	decoder := json.NewDecoder(resp.Body)
	for decoder.More() {
		var response ChatResponse
		if err := decoder.Decode(&response); err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
		if response.Error != "" {
			return fmt.Errorf("服务器返回错误: %s", response.Error)
		}

		if err := callback(&response); err != nil {
			return fmt.Errorf("处理响应失败: %w", err)
		}

		if response.Done {
			break
		}
	}

	return nil
}

// Complete 实现CompletionProvider接口。Ollama不支持一次返回多个候选，
// 多个候选时并发发起请求，结果按下标顺序返回。失败的候选为空串，
// 全部失败时才返回错误
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest, onFragment models.FragmentFunc) ([]string, error) {
	choices := req.Choices
	if choices < 1 {
		choices = 1
	}

	messages := make([]ChatMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = ChatMessage{Role: string(msg.Role), Content: msg.Content}
	}
	options := Options{
		Temperature: req.Temperature,
		NumPredict:  req.MaxTokens,
	}

	results := make([]string, choices)
	errs := make([]error, choices)
	// 单个候选失败不影响其它候选，各自记录结果
	var g errgroup.Group
	for i := 0; i < choices; i++ {
		i := i
		g.Go(func() error {
			results[i], errs[i] = c.completeOne(ctx, i, messages, options, onFragment)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		results[i] = ""
		c.logger.Warn("候选生成失败",
			zap.String("model", c.config.Model),
			zap.Int("alternative", i),
			zap.Error(err))
	}
	if failed == choices {
		return nil, errs[0]
	}

	return results, nil
}

// completeOne 生成单个候选
func (c *Client) completeOne(ctx context.Context, alternative int, messages []ChatMessage, options Options,
	onFragment models.FragmentFunc) (string, error) {
	if onFragment == nil {
		resp, err := c.Chat(ctx, messages, options)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}

	var sb strings.Builder
	err := c.ChatStream(ctx, messages, options, func(resp *ChatResponse) error {
		if resp.Message.Content != "" {
			sb.WriteString(resp.Message.Content)
			onFragment(alternative, resp.Message.Content)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// post 发送对话请求并检查状态码
func (c *Client) post(ctx context.Context, reqBody ChatRequest) (*http.Response, error) {
	// 序列化请求体
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	// 构建请求URL
	url := fmt.Sprintf("%s/api/chat", c.config.Host)

	// 创建请求
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// 发送请求
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}

	// 检查响应状态码
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("服务器返回错误: %d %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
