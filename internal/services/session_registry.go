package services

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"recthink/internal/config"
	"recthink/internal/metrics"
	"recthink/internal/models"
)

// Registry 会话注册表，会话的创建、查找、枚举和销毁都在这里完成
type Registry struct {
	cfg     config.RegistryConfig
	factory models.ProviderFactory
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*list.Element
	order    *list.List // 队头为最近使用

	stopMu  sync.Mutex
	stopCh  chan struct{}
	running bool
}

// Handle 会话的独占句柄，一次逻辑操作结束后必须调用Release
type Handle struct {
	session  *Session
	registry *Registry
	once     sync.Once
}

// NewRegistry 创建会话注册表，m可以为nil
func NewRegistry(cfg config.RegistryConfig, factory models.ProviderFactory, logger *zap.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		factory:  factory,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		sessions: make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Create 创建会话并返回会话ID
func (r *Registry) Create(cfg models.SessionConfig) (string, error) {
	cfg.Model = r.factory.Resolve(cfg.Model)
	provider, err := r.factory.NewProvider(cfg.Model)
	if err != nil {
		return "", errors.Wrap(ErrInvalidRequest, err.Error())
	}

	now := r.now()
	id := newSessionID(now)
	session := newSession(id, now, cfg, provider, r.cfg.MaxThinkingLog)

	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		if !r.evictOldestLocked() {
			r.mu.Unlock()
			return "", ErrRegistryFull
		}
	}
	r.sessions[id] = r.order.PushFront(session)
	count := len(r.sessions)
	r.mu.Unlock()

	r.setGauge(count)
	r.logger.Info("会话已创建",
		zap.String("session_id", id),
		zap.String("provider", cfg.Model.Provider),
		zap.String("model", cfg.Model.Model))
	return id, nil
}

// Acquire 获取会话的独占句柄，会话正被占用时等待，等待可被ctx取消
func (r *Registry) Acquire(ctx context.Context, id string) (*Handle, error) {
	r.mu.Lock()
	elem, ok := r.sessions[id]
	if ok {
		r.order.MoveToFront(elem)
	}
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	session := elem.Value.(*Session)
	select {
	case session.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for session")
	}

	// 等待期间会话可能已被删除
	if session.isDeleted() {
		session.unlock()
		return nil, ErrSessionNotFound
	}

	session.touch(r.now())
	return &Handle{session: session, registry: r}, nil
}

// Snapshot 返回会话的只读副本，不需要独占句柄
func (r *Registry) Snapshot(id string) (SessionSnapshot, error) {
	r.mu.RLock()
	elem, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return SessionSnapshot{}, ErrSessionNotFound
	}
	return elem.Value.(*Session).snapshot(), nil
}

// List 返回所有会话的概要，按创建时间排序
func (r *Registry) List() []models.SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, elem := range r.sessions {
		sessions = append(sessions, elem.Value.(*Session))
	}
	r.mu.RUnlock()

	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Delete 删除会话。不等待正在进行的操作，持有句柄的操作可以继续完成，
// 但其结果只会写入已脱离注册表的会话
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	elem, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	r.removeLocked(elem)
	count := len(r.sessions)
	r.mu.Unlock()

	r.setGauge(count)
	r.logger.Info("会话已删除", zap.String("session_id", id))
	return nil
}

// Has 判断会话是否存在
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Len 返回会话数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep 清理空闲超时且未被占用的会话，返回清理数量
func (r *Registry) Sweep() int {
	if r.cfg.IdleTimeout <= 0 {
		return 0
	}
	deadline := r.now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	removed := 0
	for elem := r.order.Back(); elem != nil; {
		prev := elem.Prev()
		session := elem.Value.(*Session)
		if session.idleSince().Before(deadline) && session.tryLock() {
			r.removeLocked(elem)
			session.unlock()
			removed++
		}
		elem = prev
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if removed > 0 {
		r.setGauge(count)
		if r.metrics != nil {
			r.metrics.SessionsEvicted.WithLabelValues("idle").Add(float64(removed))
		}
		r.logger.Info("清理空闲会话", zap.Int("removed", removed), zap.Int("remaining", count))
	}
	return removed
}

// Start 启动空闲会话清理，非阻塞
func (r *Registry) Start(ctx context.Context) {
	if r.cfg.IdleTimeout <= 0 || r.cfg.SweepInterval <= 0 {
		return
	}

	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})

	go r.sweepLoop(ctx, r.stopCh)
}

// Stop 停止空闲会话清理
func (r *Registry) Stop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
}

// Close 停止清理并丢弃所有会话
func (r *Registry) Close() {
	r.Stop()

	r.mu.Lock()
	for _, elem := range r.sessions {
		elem.Value.(*Session).markDeleted()
	}
	r.sessions = make(map[string]*list.Element)
	r.order.Init()
	r.mu.Unlock()

	r.setGauge(0)
}

func (r *Registry) sweepLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// evictOldestLocked 淘汰最久未使用且未被占用的会话
func (r *Registry) evictOldestLocked() bool {
	for elem := r.order.Back(); elem != nil; elem = elem.Prev() {
		session := elem.Value.(*Session)
		if !session.tryLock() {
			continue
		}
		r.removeLocked(elem)
		session.unlock()

		if r.metrics != nil {
			r.metrics.SessionsEvicted.WithLabelValues("lru").Inc()
		}
		r.logger.Info("淘汰最久未使用的会话", zap.String("session_id", session.id))
		return true
	}
	return false
}

func (r *Registry) removeLocked(elem *list.Element) {
	session := elem.Value.(*Session)
	session.markDeleted()
	delete(r.sessions, session.id)
	r.order.Remove(elem)
}

func (r *Registry) setGauge(count int) {
	if r.metrics != nil {
		r.metrics.Sessions.Set(float64(count))
	}
}

// Session 返回句柄对应的会话
func (h *Handle) Session() *Session {
	return h.session
}

// Release 释放句柄，可重复调用
func (h *Handle) Release() {
	h.once.Do(func() {
		h.session.touch(h.registry.now())
		h.session.unlock()
	})
}

// commit 追加本次请求的一问一答
func (h *Handle) commit(user, assistant models.Message, entry models.ThinkingLogEntry) {
	h.session.appendExchange(user, assistant, entry, h.registry.now())
}

// newSessionID 生成会话ID：时间戳加随机UUID
func newSessionID(now time.Time) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("session_%s_%s", now.UTC().Format("20060102150405"), random)
}
