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
	"time"

	"fleet-copilot/pkg/metrics"
)

// minRecordedWait 短于该值的等待不记入限流指标
const minRecordedWait = 100 * time.Millisecond

// RateLimitedClient 采样请求先按 provider 申请配额再转发给底层 Client
type RateLimitedClient struct {
	inner   Client
	limiter *LLMRateLimiter
}

// NewRateLimitedClient limiter 为 nil 时直接转发
func NewRateLimitedClient(inner Client, limiter *LLMRateLimiter) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, limiter: limiter}
}

func (c *RateLimitedClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	if c.limiter == nil {
		return c.inner.ChatWithContext(ctx, messages, options)
	}
	provider := c.inner.Provider()
	began := time.Now()
	if err := c.limiter.Wait(ctx, provider, requestTokens(messages, options.MaxTokens)); err != nil {
		return "", err
	}
	defer c.limiter.Release(provider)
	if waited := time.Since(began); waited >= minRecordedWait {
		metrics.RateLimitWaitSeconds.WithLabelValues("sampling", provider).Observe(waited.Seconds())
	}
	return c.inner.ChatWithContext(ctx, messages, options)
}

func (c *RateLimitedClient) Model() string    { return c.inner.Model() }
func (c *RateLimitedClient) Provider() string { return c.inner.Provider() }

// requestTokens 按 4 字符约 1 token 估算输入，再加上输出上限
func requestTokens(messages []Message, maxTokens int) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	n := chars/4 + max(maxTokens, 0)
	return max(n, 1)
}
