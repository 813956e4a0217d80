// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"fleet-copilot/pkg/config"
)

// LLMRateLimiter LLM Provider 维度的限流器，支持 token budget + RPM + 并发控制。
// 交互对话与轮询共用同一个限流器，避免轮询挤占交互请求的配额。
type LLMRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*llmLimiter // provider -> limiter
	defaults config.LLMRateLimitConfig
}

type llmLimiter struct {
	requestLimiter *rate.Limiter
	tokenLimiter   *rate.Limiter
	semaphore      chan struct{}
}

// DefaultLLMLimit 未配置 provider 时使用的限额
var DefaultLLMLimit = config.LLMRateLimitConfig{
	TokensPerMinute:   90000,
	RequestsPerMinute: 500,
	MaxConcurrent:     8,
}

// NewLLMRateLimiter 创建 LLM 限流器
func NewLLMRateLimiter(configs map[string]config.LLMRateLimitConfig) *LLMRateLimiter {
	l := &LLMRateLimiter{
		limiters: make(map[string]*llmLimiter),
		defaults: DefaultLLMLimit,
	}
	for provider, cfg := range configs {
		l.limiters[provider] = newLLMLimiter(cfg)
	}
	return l
}

func newLLMLimiter(cfg config.LLMRateLimitConfig) *llmLimiter {
	limiter := &llmLimiter{}

	// burst = 2 秒的配额
	if cfg.RequestsPerMinute > 0 {
		rps := cfg.RequestsPerMinute / 60.0
		burst := int(rps * 2)
		if burst < 1 {
			burst = 1
		}
		limiter.requestLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	if cfg.TokensPerMinute > 0 {
		tps := float64(cfg.TokensPerMinute) / 60.0
		burst := cfg.TokensPerMinute / 60 * 2
		if burst < 1 {
			burst = 1
		}
		limiter.tokenLimiter = rate.NewLimiter(rate.Limit(tps), burst)
	}

	if cfg.MaxConcurrent > 0 {
		limiter.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return limiter
}

func (l *LLMRateLimiter) limiter(provider string) *llmLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[provider]
	if !ok {
		lim = newLLMLimiter(l.defaults)
		l.limiters[provider] = lim
	}
	return lim
}

// Wait 等待获取执行许可（阻塞直到可以执行），成功后必须调用 Release
func (l *LLMRateLimiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	limiter := l.limiter(provider)

	if limiter.requestLimiter != nil {
		if err := limiter.requestLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("request rate limit wait failed: %w", err)
		}
	}

	if limiter.tokenLimiter != nil && estimatedTokens > 0 {
		// WaitN 超过 burst 会直接报错，大请求按 burst 预扣
		n := estimatedTokens
		if b := limiter.tokenLimiter.Burst(); n > b {
			n = b
		}
		if err := limiter.tokenLimiter.WaitN(ctx, n); err != nil {
			return fmt.Errorf("token budget wait failed: %w", err)
		}
	}

	if limiter.semaphore != nil {
		select {
		case limiter.semaphore <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Release 释放并发 slot（在 LLM 调用完成后调用）
func (l *LLMRateLimiter) Release(provider string) {
	limiter := l.limiter(provider)
	if limiter.semaphore == nil {
		return
	}
	select {
	case <-limiter.semaphore:
	default:
	}
}

// InFlight 返回 provider 当前占用的并发 slot 数
func (l *LLMRateLimiter) InFlight(provider string) int {
	limiter := l.limiter(provider)
	if limiter.semaphore == nil {
		return 0
	}
	return len(limiter.semaphore)
}
