// Package models 定义对话、会话与优化结果的数据模型
package models

// Role 消息角色
type Role string

// 消息角色常量
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message 对话消息，追加后不可修改
type Message struct {
	Role    Role   `json:"role"`    // 消息角色：system/user/assistant
	Content string `json:"content"` // 消息内容
}

// NewMessage 创建消息
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}
