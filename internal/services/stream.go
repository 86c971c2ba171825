package services

import (
	"sync"

	"go.uber.org/zap"

	"recthink/internal/metrics"
	"recthink/internal/models"
)

// Stream 一次优化调用的流式通道，给片段分配递增序号并标记轮次。
// 接收方返回错误后视为断开，之后的事件静默丢弃
type Stream struct {
	sink    models.Sink
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	seq    uint64
	closed bool
	done   bool
}

// NewStream 创建流式通道，sink为nil时所有操作都是空操作
func NewStream(sink models.Sink, logger *zap.Logger, m *metrics.Metrics) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{sink: sink, logger: logger, metrics: m}
}

// Chunk 发送生成片段
func (s *Stream) Chunk(round, alternative int, content string) {
	if content == "" {
		return
	}
	if s.send(models.StreamEvent{
		Type:        models.EventChunk,
		Round:       round,
		Alternative: alternative,
		Content:     content,
	}, false) && s.metrics != nil {
		s.metrics.StreamFragments.Inc()
	}
}

// Fragments 返回绑定到指定轮次的片段回调，sink为nil时返回nil以便生成服务走非流式接口
func (s *Stream) Fragments(round int) models.FragmentFunc {
	if s == nil || s.sink == nil {
		return nil
	}
	return func(alternative int, text string) {
		s.Chunk(round, alternative, text)
	}
}

// Final 发送最终结果，之后通道关闭
func (s *Stream) Final(result *models.RefinementResult) {
	s.send(models.StreamEvent{Type: models.EventFinal, Result: result}, true)
}

// Error 发送错误事件，之后通道关闭
func (s *Stream) Error(detail string) {
	s.send(models.StreamEvent{Type: models.EventError, Detail: detail}, true)
}

// Closed 接收方是否已断开或通道已结束
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.done
}

// send 在锁内发送，保证序号与投递顺序一致
func (s *Stream) send(event models.StreamEvent, terminal bool) bool {
	if s == nil || s.sink == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.done {
		return false
	}

	s.seq++
	event.Seq = s.seq
	if terminal {
		s.done = true
	}
	if err := s.sink.Send(event); err != nil {
		s.closed = true
		s.logger.Debug("流式接收方已断开，停止转发", zap.Uint64("seq", event.Seq), zap.Error(err))
		return false
	}
	return true
}
