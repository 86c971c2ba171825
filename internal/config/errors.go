package config

import "errors"

// 支持的生成服务提供方
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// 配置相关错误
var (
	ErrEmptyHost           = errors.New("服务器地址不能为空")
	ErrInvalidPort         = errors.New("服务器端口必须大于0")
	ErrUnknownProvider     = errors.New("未知的生成服务提供方")
	ErrInvalidConcurrency  = errors.New("并发上限不能为负数")
	ErrInvalidRounds       = errors.New("迭代轮数配置无效")
	ErrInvalidAlternatives = errors.New("每轮候选数配置无效")
	ErrInvalidMaxSessions  = errors.New("最大会话数不能为负数")
	ErrInvalidLogFormat    = errors.New("日志格式必须为json或console")
)
