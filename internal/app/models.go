package app

import (
	"fmt"

	"fleet-copilot/internal/model/embedding"
	"fleet-copilot/internal/model/llm"
	"fleet-copilot/pkg/config"
)

// NewSamplerClientFromConfig 根据 model.sampling 创建采样用的 LLM 客户端，并按 rate_limits.llm 限流
func NewSamplerClientFromConfig(cfg *config.Config) (llm.Client, error) {
	pc := cfg.Model.Sampling
	if pc.Model == "" {
		return nil, fmt.Errorf("sampling model 未配置")
	}
	inner, err := llm.NewClient(pc.Provider, pc.Model, pc.APIKey, pc.BaseURL)
	if err != nil {
		return nil, err
	}
	if len(cfg.RateLimits.LLM) == 0 {
		return inner, nil
	}
	return llm.NewRateLimitedClient(inner, llm.NewLLMRateLimiter(cfg.RateLimits.LLM)), nil
}

// NewEmbedderFromConfig 根据 model.embedding 创建长期记忆使用的 Embedder
func NewEmbedderFromConfig(cfg *config.Config) (embedding.Embedder, error) {
	pc := cfg.Model.Embedding
	if pc.Dimension <= 0 {
		pc.Dimension = 256
	}
	if pc.Provider != "hash" && pc.APIKey == "" {
		return nil, fmt.Errorf("Embedding provider %q 的 api_key 未配置", pc.Provider)
	}
	return embedding.New(pc)
}
