// Package config 提供配置加载和管理功能
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Log       LogConfig       `yaml:"log"`
	Provider  ProviderConfig  `yaml:"provider"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Refine    RefineConfig    `yaml:"refine"`
	Registry  RegistryConfig  `yaml:"registry"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Reference ReferenceConfig `yaml:"reference"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Host string `yaml:"host"` // 服务器监听地址
	Port int    `yaml:"port"` // 服务器监听端口
}

// Addr 返回监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize int           `yaml:"write_buffer_size"` // 写缓冲区大小
	PingPeriod      time.Duration `yaml:"ping_period"`       // 心跳间隔
	PongWait        time.Duration `yaml:"pong_wait"`         // 等待Pong响应的超时时间
	MaxMessageSize  int64         `yaml:"max_message_size"`  // 单条消息最大字节数
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug/info/warn/error
	Format string `yaml:"format"` // json/console
}

// ProviderConfig 生成服务通用配置
type ProviderConfig struct {
	Default       string        `yaml:"default"`        // 默认提供方: openai/ollama
	Timeout       time.Duration `yaml:"timeout"`        // 单次调用超时
	MaxConcurrent int64         `yaml:"max_concurrent"` // 全局并发调用上限
	Temperature   float64       `yaml:"temperature"`    // 温度参数
	MaxTokens     int           `yaml:"max_tokens"`     // 最大生成token数
}

// OpenAIConfig OpenAI兼容接口配置
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"` // 接口地址，可指向OpenRouter等
	APIKey  string `yaml:"api_key"`  // 默认API密钥
	Model   string `yaml:"model"`    // 默认模型
}

// OllamaConfig Ollama配置
type OllamaConfig struct {
	Host  string `yaml:"host"`  // Ollama服务器地址
	Model string `yaml:"model"` // 模型名称
}

// RefineConfig 迭代优化配置
type RefineConfig struct {
	DefaultRounds       int           `yaml:"default_rounds"`       // 未指定时的轮数
	MaxRounds           int           `yaml:"max_rounds"`           // 轮数上限
	DefaultAlternatives int           `yaml:"default_alternatives"` // 每轮默认候选数
	MaxAlternatives     int           `yaml:"max_alternatives"`     // 每轮候选数上限
	Timeout             time.Duration `yaml:"timeout"`              // 单次请求截止时间
}

// RegistryConfig 会话注册表配置
type RegistryConfig struct {
	MaxSessions   int           `yaml:"max_sessions"`   // 最大会话数，0表示不限
	IdleTimeout   time.Duration `yaml:"idle_timeout"`   // 空闲过期时间，0表示不过期
	SweepInterval time.Duration `yaml:"sweep_interval"` // 过期扫描间隔
	// MaxThinkingLog 每个会话保留的思考记录条数，负数表示不限
	MaxThinkingLog int `yaml:"max_thinking_log"`
}

// ArchiveConfig 会话保存配置
type ArchiveConfig struct {
	Dir string `yaml:"dir"` // 保存目录
}

// ReferenceConfig 参考语料配置
type ReferenceConfig struct {
	CSVPath          string `yaml:"csv_path"`           // category,flow 格式的CSV
	SystemPromptFile string `yaml:"system_prompt_file"` // 默认系统提示词文件
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 每个客户端每秒请求数，0表示不限流
	Burst             int     `yaml:"burst"`               // 突发请求数
}

// Default 返回填充默认值的配置
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8000},
	}
	applyDefaults(cfg)
	return cfg
}

// Load 从文件加载配置
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 设置默认值
	applyDefaults(&config)

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// applyDefaults 填充未设置的配置项
func applyDefaults(config *Config) {
	if config.WebSocket.ReadBufferSize == 0 {
		config.WebSocket.ReadBufferSize = 1024
	}
	if config.WebSocket.WriteBufferSize == 0 {
		config.WebSocket.WriteBufferSize = 1024
	}
	if config.WebSocket.PingPeriod == 0 {
		config.WebSocket.PingPeriod = 30 * time.Second
	}
	if config.WebSocket.PongWait == 0 {
		config.WebSocket.PongWait = 60 * time.Second
	}
	if config.WebSocket.MaxMessageSize == 0 {
		config.WebSocket.MaxMessageSize = 1024 * 1024 // 1MB
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "json"
	}

	if config.Provider.Default == "" {
		config.Provider.Default = ProviderOpenAI
	}
	if config.Provider.Timeout == 0 {
		config.Provider.Timeout = 2 * time.Minute
	}
	if config.Provider.MaxConcurrent == 0 {
		config.Provider.MaxConcurrent = 16
	}
	if config.Provider.Temperature == 0 {
		config.Provider.Temperature = 0.7
	}

	if config.OpenAI.BaseURL == "" {
		config.OpenAI.BaseURL = "https://openrouter.ai/api/v1"
	}
	if config.OpenAI.Model == "" {
		config.OpenAI.Model = "mistralai/mistral-small-3.1-24b-instruct:free"
	}
	if config.OpenAI.APIKey == "" {
		config.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if config.Ollama.Host == "" {
		config.Ollama.Host = "http://localhost:11434"
	}
	if config.Ollama.Model == "" {
		config.Ollama.Model = "llama3"
	}

	if config.Refine.DefaultRounds == 0 {
		config.Refine.DefaultRounds = 3
	}
	if config.Refine.MaxRounds == 0 {
		config.Refine.MaxRounds = 10
	}
	if config.Refine.DefaultAlternatives == 0 {
		config.Refine.DefaultAlternatives = 3
	}
	if config.Refine.MaxAlternatives == 0 {
		config.Refine.MaxAlternatives = 5
	}
	if config.Refine.Timeout == 0 {
		config.Refine.Timeout = 5 * time.Minute
	}

	if config.Registry.SweepInterval == 0 {
		config.Registry.SweepInterval = time.Minute
	}
	if config.Registry.MaxThinkingLog == 0 {
		config.Registry.MaxThinkingLog = 50
	}

	if config.Archive.Dir == "" {
		config.Archive.Dir = "."
	}
}

// validateConfig 验证配置是否有效
func validateConfig(config *Config) error {
	// 验证服务器配置
	if config.Server.Host == "" {
		return ErrEmptyHost
	}
	if config.Server.Port <= 0 {
		return ErrInvalidPort
	}

	// 验证生成服务配置
	switch config.Provider.Default {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProvider, config.Provider.Default)
	}
	if config.Provider.MaxConcurrent < 0 {
		return ErrInvalidConcurrency
	}

	// 验证迭代配置
	if config.Refine.DefaultRounds < 0 || config.Refine.MaxRounds < 0 {
		return ErrInvalidRounds
	}
	if config.Refine.DefaultRounds > config.Refine.MaxRounds {
		return ErrInvalidRounds
	}
	if config.Refine.DefaultAlternatives < 1 || config.Refine.DefaultAlternatives > config.Refine.MaxAlternatives {
		return ErrInvalidAlternatives
	}

	// 验证注册表配置
	if config.Registry.MaxSessions < 0 {
		return ErrInvalidMaxSessions
	}

	switch config.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLogFormat, config.Log.Format)
	}

	return nil
}
