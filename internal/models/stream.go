package models

// StreamEventType 流式事件类型
type StreamEventType string

// 流式事件类型常量
const (
	EventChunk StreamEventType = "chunk"
	EventFinal StreamEventType = "final"
	EventError StreamEventType = "error"
)

// StreamEvent 推送给调用方的流式事件
type StreamEvent struct {
	Type        StreamEventType
	Seq         uint64
	Round       int
	Alternative int
	Content     string
	Result      *RefinementResult
	Detail      string
}

// Sink 流式输出的接收方
type Sink interface {
	// Send 发送事件，返回错误表示接收方已断开
	Send(event StreamEvent) error
}

// SinkFunc 函数形式的Sink
type SinkFunc func(event StreamEvent) error

// Send 实现Sink接口
func (f SinkFunc) Send(event StreamEvent) error {
	return f(event)
}
