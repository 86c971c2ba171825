package services

import (
	"sync"
	"time"

	"recthink/internal/models"
)

// Session 一个会话的状态。lock保证同一时间只有一个逻辑操作持有会话，
// mu只在读写历史时短暂持有，列表等只读操作不会被进行中的生成阻塞
type Session struct {
	id        string
	createdAt time.Time
	model     models.ModelConfig
	reference []models.ReferenceEntry
	provider  models.CompletionProvider

	lock chan struct{}

	mu          sync.RWMutex
	history     []models.Message
	thinkingLog []models.ThinkingLogEntry
	maxLog      int // 思考记录保留条数，0表示不限
	lastActive  time.Time
	deleted     bool
}

// SessionSnapshot 会话的只读副本
type SessionSnapshot struct {
	ID          string
	CreatedAt   time.Time
	Model       models.ModelConfig
	History     []models.Message
	ThinkingLog []models.ThinkingLogEntry
}

func newSession(id string, now time.Time, cfg models.SessionConfig, provider models.CompletionProvider, maxLog int) *Session {
	s := &Session{
		id:         id,
		maxLog:     maxLog,
		createdAt:  now,
		model:      cfg.Model,
		reference:  append([]models.ReferenceEntry(nil), cfg.Reference...),
		provider:   provider,
		lock:       make(chan struct{}, 1),
		lastActive: now,
	}
	if cfg.SystemPrompt != "" {
		s.history = append(s.history, models.NewMessage(models.RoleSystem, cfg.SystemPrompt))
	}
	return s
}

// ID 返回会话ID
func (s *Session) ID() string {
	return s.id
}

// CreatedAt 返回创建时间
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Model 返回模型配置
func (s *Session) Model() models.ModelConfig {
	return s.model
}

// Reference 返回参考语料
func (s *Session) Reference() []models.ReferenceEntry {
	return s.reference
}

// Provider 返回会话使用的生成服务
func (s *Session) Provider() models.CompletionProvider {
	return s.provider
}

// History 返回历史消息的副本
func (s *Session) History() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]models.Message, len(s.history))
	copy(history, s.history)
	return history
}

// Len 返回历史消息数
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// appendExchange 原子追加一问一答及对应的思考记录。
// 思考记录超过上限时丢弃最早的条目，历史消息不受影响
func (s *Session) appendExchange(user, assistant models.Message, entry models.ThinkingLogEntry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, user, assistant)
	s.thinkingLog = append(s.thinkingLog, entry)
	if s.maxLog > 0 && len(s.thinkingLog) > s.maxLog {
		s.thinkingLog = append([]models.ThinkingLogEntry(nil), s.thinkingLog[len(s.thinkingLog)-s.maxLog:]...)
	}
	s.lastActive = now
}

func (s *Session) info() models.SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return models.SessionInfo{
		SessionID:    s.id,
		MessageCount: len(s.history) / 2,
		CreatedAt:    s.createdAt,
		LastActive:   s.lastActive,
		Provider:     s.model.Provider,
		Model:        s.model.Model,
	}
}

func (s *Session) snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := SessionSnapshot{
		ID:          s.id,
		CreatedAt:   s.createdAt,
		Model:       s.model,
		History:     make([]models.Message, len(s.history)),
		ThinkingLog: make([]models.ThinkingLogEntry, len(s.thinkingLog)),
	}
	copy(snap.History, s.history)
	copy(snap.ThinkingLog, s.thinkingLog)
	return snap
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

func (s *Session) markDeleted() {
	s.mu.Lock()
	s.deleted = true
	s.mu.Unlock()
}

func (s *Session) isDeleted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deleted
}

// tryLock 非阻塞获取会话锁
func (s *Session) tryLock() bool {
	select {
	case s.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) unlock() {
	<-s.lock
}
