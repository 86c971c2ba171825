package models

import "time"

// ModelConfig 会话使用的模型配置，创建后不可修改
type ModelConfig struct {
	Provider string `json:"provider"`           // openai/ollama
	Model    string `json:"model"`              // 模型名称
	APIKey   string `json:"-"`                  // API密钥，不对外输出
	BaseURL  string `json:"base_url,omitempty"` // 接口地址
}

// ReferenceEntry 参考语料条目
type ReferenceEntry struct {
	Category string `json:"category"`
	Flow     string `json:"flow"`
}

// SessionConfig 创建会话的参数
type SessionConfig struct {
	Model        ModelConfig
	SystemPrompt string
	Reference    []ReferenceEntry
}

// SessionInfo 会话列表中的一行
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"` // 已完成的问答轮次
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
}

// ThinkingLogEntry 一次请求的完整思考记录
type ThinkingLogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	UserInput string            `json:"user_input"`
	Result    *RefinementResult `json:"result"`
}
