package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"fleet-copilot/pkg/config"
)

// NewChatModel 根据配置创建支持工具调用的推理模型（Eino ChatModel）
func NewChatModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch cfg.Provider {
	case "", "openai", "qwen", "ollama":
	default:
		return nil, fmt.Errorf("unsupported chat model provider: %s", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("chat model: model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	mc := &openai.ChatModelConfig{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: timeout,
	}
	temperature := float32(cfg.Temperature)
	mc.Temperature = &temperature
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		mc.MaxTokens = &maxTokens
	}
	return openai.NewChatModel(ctx, mc)
}
