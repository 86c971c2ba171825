// Package clients 根据会话配置创建生成服务客户端
package clients

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"recthink/internal/clients/ollama"
	"recthink/internal/clients/openai"
	"recthink/internal/config"
	"recthink/internal/models"
)

// ErrMissingAPIKey 未提供API密钥
var ErrMissingAPIKey = errors.New("api key is required")

// Factory 生成服务工厂，所有创建出的客户端共享同一个并发上限
type Factory struct {
	cfg     *config.Config
	limiter *semaphore.Weighted
	logger  *zap.Logger
}

// NewFactory 创建生成服务工厂
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{cfg: cfg, logger: logger}
	if cfg.Provider.MaxConcurrent > 0 {
		f.limiter = semaphore.NewWeighted(cfg.Provider.MaxConcurrent)
	}
	return f
}

// Resolve 用服务端默认值补全会话的模型配置
func (f *Factory) Resolve(mc models.ModelConfig) models.ModelConfig {
	mc.Provider = strings.ToLower(strings.TrimSpace(mc.Provider))
	if mc.Provider == "" {
		mc.Provider = f.cfg.Provider.Default
	}

	switch mc.Provider {
	case config.ProviderOpenAI:
		if mc.Model == "" {
			mc.Model = f.cfg.OpenAI.Model
		}
		if mc.BaseURL == "" {
			mc.BaseURL = f.cfg.OpenAI.BaseURL
		}
		if mc.APIKey == "" {
			mc.APIKey = f.cfg.OpenAI.APIKey
		}
	case config.ProviderOllama:
		if mc.Model == "" {
			mc.Model = f.cfg.Ollama.Model
		}
		if mc.BaseURL == "" {
			mc.BaseURL = f.cfg.Ollama.Host
		}
	}
	return mc
}

// NewProvider 实现models.ProviderFactory接口
func (f *Factory) NewProvider(mc models.ModelConfig) (models.CompletionProvider, error) {
	mc = f.Resolve(mc)

	var provider models.CompletionProvider
	fanOut := false
	switch mc.Provider {
	case config.ProviderOpenAI:
		if mc.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		provider = openai.NewClient(openai.Config{
			BaseURL: mc.BaseURL,
			APIKey:  mc.APIKey,
			Model:   mc.Model,
		})
	case config.ProviderOllama:
		provider = ollama.NewClient(ollama.Config{
			Host:  mc.BaseURL,
			Model: mc.Model,
		}).WithLogger(f.logger.Named("ollama"))
		// 每个候选单独请求上游
		fanOut = true
	default:
		return nil, errors.Errorf("unsupported provider: %s", mc.Provider)
	}

	if f.limiter == nil {
		return provider, nil
	}
	return &limitedProvider{
		next:     provider,
		limiter:  f.limiter,
		capacity: f.cfg.Provider.MaxConcurrent,
		fanOut:   fanOut,
	}, nil
}

// limitedProvider 在调用前获取全局并发配额
type limitedProvider struct {
	next     models.CompletionProvider
	limiter  *semaphore.Weighted
	capacity int64
	fanOut   bool // 多个候选会产生多个上游请求
}

// weight 本次调用占用的配额，不超过总容量
func (p *limitedProvider) weight(req models.CompletionRequest) int64 {
	if !p.fanOut || req.Choices <= 1 {
		return 1
	}
	w := int64(req.Choices)
	if p.capacity > 0 && w > p.capacity {
		w = p.capacity
	}
	return w
}

func (p *limitedProvider) Name() string {
	return p.next.Name()
}

func (p *limitedProvider) Complete(ctx context.Context, req models.CompletionRequest, onFragment models.FragmentFunc) ([]string, error) {
	w := p.weight(req)
	if err := p.limiter.Acquire(ctx, w); err != nil {
		return nil, errors.Wrap(err, "waiting for provider slot")
	}
	defer p.limiter.Release(w)

	return p.next.Complete(ctx, req, onFragment)
}
