package llm

import (
	"context"
	"fmt"
)

// Client 文本补全客户端接口（采样调用、episode 摘要等单轮请求使用）
type Client interface {
	// ChatWithContext 使用上下文聊天
	ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error)
	// Model 返回模型名称
	Model() string
	// Provider 返回提供商名称
	Provider() string
}

// GenerateOptions 生成选项
type GenerateOptions struct {
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
	Stop        []string `json:"stop,omitempty"`
}

// Message 聊天消息
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// NewClient 创建新的 LLM 客户端；baseURL 用于 OpenAI 兼容端点，空则用默认或环境变量
func NewClient(provider, model, apiKey, baseURL string) (Client, error) {
	switch provider {
	case "", "openai", "qwen", "ollama":
		return NewOpenAIClientWithBaseURL(model, apiKey, baseURL)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
