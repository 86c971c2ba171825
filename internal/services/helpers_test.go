package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"recthink/internal/models"
)

// scriptStep 脚本中的一次调用结果
type scriptStep struct {
	texts []string
	err   error
	delay time.Duration
}

// scriptedProvider 按脚本顺序返回结果的生成服务
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []models.CompletionRequest
	calls    int
}

func newScriptedProvider(steps ...scriptStep) *scriptedProvider {
	return &scriptedProvider{steps: steps}
}

func reply(texts ...string) scriptStep {
	return scriptStep{texts: texts}
}

func fail(msg string) scriptStep {
	return scriptStep{err: errors.New(msg)}
}

func (p *scriptedProvider) Name() string {
	return "scripted"
}

func (p *scriptedProvider) Complete(ctx context.Context, req models.CompletionRequest, onFragment models.FragmentFunc) ([]string, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	var step scriptStep
	if idx < len(p.steps) {
		step = p.steps[idx]
	} else if len(p.steps) > 0 {
		step = p.steps[len(p.steps)-1]
	}
	p.mu.Unlock()

	if step.delay > 0 {
		select {
		case <-time.After(step.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step.err != nil {
		return nil, step.err
	}

	texts := step.texts
	if req.Choices > 1 && len(texts) == 1 {
		for len(texts) < req.Choices {
			texts = append(texts, texts[0])
		}
	}
	if onFragment != nil {
		for i, text := range texts {
			for _, word := range strings.SplitAfter(text, " ") {
				if word != "" {
					onFragment(i, word)
				}
			}
		}
	}
	return append([]string(nil), texts...), nil
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) Requests() []models.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.CompletionRequest(nil), p.requests...)
}

// staticFactory 每次创建会话都返回同一个生成服务
type staticFactory struct {
	provider models.CompletionProvider
	err      error
}

func (f *staticFactory) Resolve(cfg models.ModelConfig) models.ModelConfig {
	if cfg.Provider == "" {
		cfg.Provider = "scripted"
	}
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	return cfg
}

func (f *staticFactory) NewProvider(cfg models.ModelConfig) (models.CompletionProvider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
