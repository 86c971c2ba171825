package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"recthink/internal/config"
	"recthink/internal/logging"
	"recthink/internal/metrics"
	"recthink/internal/models"
)

// 调用阶段，用于指标和日志
const (
	phaseInitial    = "initial"
	phaseReflection = "reflection"
)

// generationFailedDetail 返回给调用方的通用错误描述，不暴露生成服务的内部错误
const generationFailedDetail = "failed to generate a response"

// RefineRequest 单次优化调用的参数，只在本次调用内有效
type RefineRequest struct {
	Input        string
	MaxRounds    *int // nil 使用默认轮数
	Alternatives int  // 小于1使用默认候选数
	Sink         models.Sink
}

// Engine 迭代优化引擎。构造后不可变，所有按请求变化的参数都通过RefineRequest传入
type Engine struct {
	refine   config.RefineConfig
	provider config.ProviderConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEngine 创建优化引擎
func NewEngine(refine config.RefineConfig, provider config.ProviderConfig, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		refine:   refine,
		provider: provider,
		logger:   logger,
		metrics:  m,
	}
}

// Refine 对一次用户输入执行“生成-反思-改写”循环并把一问一答追加到会话。
// 调用方持有句柄，Refine不负责释放
func (e *Engine) Refine(ctx context.Context, h *Handle, req RefineRequest) (*models.RefinementResult, error) {
	stream := NewStream(req.Sink, e.logger, e.metrics)

	rounds, alternatives, err := e.resolveParams(req)
	if err == nil && h == nil {
		err = invalidRequest("session handle is required")
	}
	if err == nil && strings.TrimSpace(req.Input) == "" {
		err = invalidRequest("message is empty")
	}
	if err != nil {
		e.observeOutcome("invalid_request")
		stream.Error(err.Error())
		return nil, err
	}

	session := h.Session()
	logger := e.logger.With(zap.String("session_id", session.ID()))
	provider := session.Provider()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		e.observeOutcome("canceled")
		stream.Error(err.Error())
		return nil, errors.Wrap(err, "refine not started")
	}

	history := session.History()
	var enrichment *models.Message
	if msg, ok := BuildEnrichment(session.Reference(), req.Input); ok {
		enrichment = &msg
		logger.Debug("匹配到参考流程", zap.Int("lines", strings.Count(msg.Content, "\n")))
	}

	// 初始候选
	texts, err := e.complete(ctx, provider, phaseInitial, models.CompletionRequest{
		Messages: buildInitialMessages(history, enrichment, req.Input),
		Choices:  1,
	}, stream.Fragments(0))
	if err == nil && firstUsable(texts) < 0 {
		err = errors.New("provider returned an empty response")
	}
	if err != nil {
		logger.Error("初始候选生成失败", zap.String("provider", provider.Name()), zap.Error(err))
		e.observeOutcome("generation_failed")
		stream.Error(generationFailedDetail)
		return nil, ErrGenerationFailed
	}

	current := texts[firstUsable(texts)]
	result := &models.RefinementResult{
		Status: models.StatusCompleted,
		Candidates: []models.RoundRecord{{
			Round:       0,
			Candidate:   current,
			Selected:    0,
			Explanation: "initial response",
		}},
	}

	for round := 1; round <= rounds; round++ {
		if ctx.Err() != nil {
			result.Status = models.StatusTimedOutPartial
			logger.Warn("截止时间已到，返回当前最佳候选",
				zap.Int("round", round),
				zap.Int("rounds_used", result.RoundsUsed))
			break
		}

		result.Attempts++
		texts, err := e.complete(ctx, provider, phaseReflection, models.CompletionRequest{
			Messages: buildReflectionMessages(history, enrichment, req.Input, current),
			Choices:  alternatives,
		}, stream.Fragments(round))

		record := models.RoundRecord{
			Round:        round,
			Previous:     current,
			Candidate:    current,
			Alternatives: texts,
			Selected:     -1,
		}

		idx := -1
		if err == nil {
			idx = firstUsable(texts)
		}
		if idx < 0 {
			reason := "no usable alternative"
			if err != nil {
				reason = "reflection call failed"
			}
			record.Explanation = reason
			result.Candidates = append(result.Candidates, record)
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: round %d: %s", WarnRefinementDegraded, round, reason))
			logger.Warn("反思轮失败，使用上一轮候选",
				zap.Int("round", round),
				zap.String("reason", reason),
				zap.Error(err))
			break
		}

		selected := texts[idx]
		record.Candidate = selected
		record.Selected = idx

		if strings.TrimSpace(selected) == strings.TrimSpace(current) {
			record.Converged = true
			record.Explanation = "rewrite identical to previous candidate, stopped"
			result.Candidates = append(result.Candidates, record)
			logger.Debug("候选已收敛", zap.Int("round", round))
			break
		}

		record.Explanation = fmt.Sprintf("selected alternative %d of %d", idx+1, len(texts))
		result.Candidates = append(result.Candidates, record)
		result.RoundsUsed++
		current = selected
	}

	result.Response = current

	// 与接收方是否在线无关，保证会话状态一致
	h.commit(
		models.NewMessage(models.RoleUser, req.Input),
		models.NewMessage(models.RoleAssistant, current),
		models.ThinkingLogEntry{Timestamp: time.Now(), UserInput: req.Input, Result: cloneResult(result)},
	)

	e.observeOutcome(string(result.Status))
	if e.metrics != nil {
		e.metrics.RefineRounds.Observe(float64(result.RoundsUsed))
		e.metrics.RefineDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info("优化完成",
		zap.String("status", string(result.Status)),
		zap.Int("rounds_used", result.RoundsUsed),
		zap.Int("attempts", result.Attempts),
		zap.Int("warnings", len(result.Warnings)),
		zap.String("response", logging.Truncate(current, 80)),
		zap.Duration("elapsed", time.Since(start)))

	stream.Final(result)
	return result, nil
}

// DefaultRounds 返回默认轮数
func (e *Engine) DefaultRounds() int {
	return e.refine.DefaultRounds
}

// resolveParams 计算本次调用的轮数和每轮候选数
func (e *Engine) resolveParams(req RefineRequest) (int, int, error) {
	rounds := e.refine.DefaultRounds
	if req.MaxRounds != nil {
		rounds = *req.MaxRounds
	}
	if rounds < 0 {
		return 0, 0, invalidRequest("thinking_rounds must not be negative: %d", rounds)
	}
	if e.refine.MaxRounds > 0 && rounds > e.refine.MaxRounds {
		rounds = e.refine.MaxRounds
	}

	alternatives := req.Alternatives
	if alternatives < 1 {
		alternatives = e.refine.DefaultAlternatives
	}
	if alternatives < 1 {
		alternatives = 1
	}
	if e.refine.MaxAlternatives > 0 && alternatives > e.refine.MaxAlternatives {
		alternatives = e.refine.MaxAlternatives
	}
	return rounds, alternatives, nil
}

// complete 调用生成服务。请求的截止时间不会中断进行中的调用，
// 调用只受生成服务自身的超时限制
func (e *Engine) complete(ctx context.Context, provider models.CompletionProvider, phase string,
	req models.CompletionRequest, onFragment models.FragmentFunc) ([]string, error) {
	callCtx := context.WithoutCancel(ctx)
	if e.provider.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.provider.Timeout)
		defer cancel()
	}

	req.Temperature = e.provider.Temperature
	req.MaxTokens = e.provider.MaxTokens

	texts, err := provider.Complete(callCtx, req, onFragment)
	if e.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.metrics.ProviderCalls.WithLabelValues(provider.Name(), phase, outcome).Inc()
	}
	return texts, err
}

func (e *Engine) observeOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.RefineTotal.WithLabelValues(outcome).Inc()
	}
}

// firstUsable 返回第一个去空白后非空的候选下标
func firstUsable(texts []string) int {
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			return i
		}
	}
	return -1
}

func cloneResult(r *models.RefinementResult) *models.RefinementResult {
	c := *r
	c.Candidates = append([]models.RoundRecord(nil), r.Candidates...)
	c.Warnings = append([]string(nil), r.Warnings...)
	return &c
}
