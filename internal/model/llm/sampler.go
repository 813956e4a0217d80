package llm

import (
	"context"
	"strings"

	apperrors "fleet-copilot/pkg/errors"
	"fleet-copilot/pkg/metrics"
)

// Sampler 工具执行过程中发起的嵌套补全（sampling）。
// 每次调用都是独立的单轮请求，与外层编排循环的上下文无关。
type Sampler struct {
	client    Client
	maxTokens int
}

// NewSampler 创建采样器；maxTokens <= 0 时不限制
func NewSampler(client Client, maxTokens int) *Sampler {
	return &Sampler{client: client, maxTokens: maxTokens}
}

// Sample 以温度 0 请求一次补全并返回去除首尾空白的文本
func (s *Sampler) Sample(ctx context.Context, prompt string) (string, error) {
	out, err := s.client.ChatWithContext(ctx, []Message{{Role: "user", Content: prompt}}, GenerateOptions{
		Temperature: 0,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		metrics.LLMRequestTotal.WithLabelValues("sampling", "error").Inc()
		return "", apperrors.Mark(apperrors.ErrBackendUnavailable, err)
	}
	metrics.LLMRequestTotal.WithLabelValues("sampling", "ok").Inc()
	return strings.TrimSpace(out), nil
}
