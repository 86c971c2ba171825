// Package openai 基于go-openai实现OpenAI兼容接口的生成服务，
// 可通过BaseURL接入OpenRouter、DeepSeek等兼容服务
package openai

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"

	"recthink/internal/models"
)

// Config OpenAI客户端配置
type Config struct {
	BaseURL string // 接口地址
	APIKey  string // API密钥
	Model   string // 模型名称
}

// Client OpenAI兼容接口客户端
type Client struct {
	config Config
	client *goopenai.Client
}

// NewClient 创建新的客户端
func NewClient(config Config) *Client {
	clientConfig := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	return &Client{
		config: config,
		client: goopenai.NewClientWithConfig(clientConfig),
	}
}

// Name 返回提供方名称
func (c *Client) Name() string {
	return "openai"
}

// Complete 实现CompletionProvider接口，多个候选通过N参数一次请求
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest, onFragment models.FragmentFunc) ([]string, error) {
	choices := req.Choices
	if choices < 1 {
		choices = 1
	}

	request := goopenai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if choices > 1 {
		request.N = choices
	}

	if onFragment == nil {
		return c.complete(ctx, request, choices)
	}
	return c.stream(ctx, request, choices, onFragment)
}

// complete 非流式生成
func (c *Client) complete(ctx context.Context, request goopenai.ChatCompletionRequest, choices int) ([]string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty chat response")
	}

	results := make([]string, choices)
	for i, choice := range resp.Choices {
		idx := choice.Index
		if idx < 0 || idx >= choices {
			idx = i
		}
		if idx < choices {
			results[idx] = choice.Message.Content
		}
	}
	return results, nil
}

// stream 流式生成，按候选下标累积增量内容
func (c *Client) stream(ctx context.Context, request goopenai.ChatCompletionRequest, choices int, onFragment models.FragmentFunc) ([]string, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion stream failed")
	}
	defer stream.Close()

	builders := make([]strings.Builder, choices)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "chat completion stream interrupted")
		}

		for _, choice := range resp.Choices {
			if choice.Index < 0 || choice.Index >= choices || choice.Delta.Content == "" {
				continue
			}
			builders[choice.Index].WriteString(choice.Delta.Content)
			onFragment(choice.Index, choice.Delta.Content)
		}
	}

	results := make([]string, choices)
	for i := range builders {
		results[i] = builders[i].String()
	}
	return results, nil
}

func convertMessages(messages []models.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return out
}
