package main

import (
	"go.uber.org/zap"

	"recthink/internal/config"
	"recthink/internal/handlers"
	"recthink/internal/metrics"
	"recthink/internal/models"
	"recthink/internal/services"
)

// app 组装好的服务
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	registry *services.Registry
	engine   *services.Engine
	archive  *services.Archive
	defaults handlers.SessionDefaults
}

// newApp 创建注册表、引擎和存档，并加载默认的系统提示词和参考语料
func newApp(cfg *config.Config, logger *zap.Logger, factory models.ProviderFactory) (*app, error) {
	m := metrics.New()
	registry := services.NewRegistry(cfg.Registry, factory, logger.Named("registry"), m)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		registry: registry,
		engine:   services.NewEngine(cfg.Refine, cfg.Provider, logger.Named("engine"), m),
		archive:  services.NewArchive(cfg.Archive.Dir, registry, logger.Named("archive")),
	}

	prompt, err := services.LoadSystemPrompt(cfg.Reference.SystemPromptFile)
	if err != nil {
		return nil, err
	}
	a.defaults.SystemPrompt = prompt

	if cfg.Reference.CSVPath != "" {
		corpus, err := services.LoadReferenceCSV(cfg.Reference.CSVPath)
		if err != nil {
			return nil, err
		}
		a.defaults.Reference = corpus
		logger.Info("参考语料已加载", zap.String("path", cfg.Reference.CSVPath), zap.Int("entries", len(corpus)))
	}

	return a, nil
}

// sessionConfig 用默认值生成会话配置
func (a *app) sessionConfig(model models.ModelConfig) models.SessionConfig {
	return models.SessionConfig{
		Model:        model,
		SystemPrompt: a.defaults.SystemPrompt,
		Reference:    a.defaults.Reference,
	}
}
