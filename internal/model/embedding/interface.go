package embedding

import (
	"context"
	"fmt"

	"fleet-copilot/pkg/config"
)

// Embedder 向量化接口
type Embedder interface {
	// Embed 对文本做向量化，返回与 texts 一一对应的向量
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	// Dimension 返回向量维度
	Dimension() int
}

// New 根据配置创建 Embedder：openai 调用远端 embeddings 接口，hash 为本地确定性向量（离线/测试）
func New(cfg config.ProviderConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIAdapter(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Dimension), nil
	case "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
