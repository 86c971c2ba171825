package models

import "context"

// FragmentFunc 接收生成过程中的文本片段，alternative为候选下标
type FragmentFunc func(alternative int, text string)

// CompletionRequest 生成请求
type CompletionRequest struct {
	Messages    []Message
	Choices     int // 需要的候选数，小于1按1处理
	Temperature float64
	MaxTokens   int
}

// CompletionProvider 文本生成服务
type CompletionProvider interface {
	// Name 返回提供方名称
	Name() string

	// Complete 按请求顺序返回候选文本；onFragment非空时以流式方式生成
	Complete(ctx context.Context, req CompletionRequest, onFragment FragmentFunc) ([]string, error)
}

// ProviderFactory 根据会话的模型配置创建生成服务
type ProviderFactory interface {
	// Resolve 用服务端默认值补全模型配置
	Resolve(cfg ModelConfig) ModelConfig

	// NewProvider 创建生成服务
	NewProvider(cfg ModelConfig) (CompletionProvider, error)
}
