package services

import "github.com/pkg/errors"

// 服务错误类型，调用方通过errors.Is判断
var (
	// ErrSessionNotFound 会话不存在或已删除
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidRequest 请求参数无效
	ErrInvalidRequest = errors.New("invalid request")
	// ErrGenerationFailed 初始候选生成失败，会话未被修改
	ErrGenerationFailed = errors.New("generation failed")
	// ErrRegistryFull 会话数已满且没有可淘汰的空闲会话
	ErrRegistryFull = errors.New("session registry is full")
)

// WarnRefinementDegraded 反思轮失败时记录的警告前缀
const WarnRefinementDegraded = "refinement_degraded"

// invalidRequest 包装参数错误
func invalidRequest(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidRequest, format, args...)
}
