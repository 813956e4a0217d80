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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL OpenAI 默认端点
const DefaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient OpenAI 兼容的 chat/completions 客户端
type OpenAIClient struct {
	provider string
	model    string
	apiKey   string
	baseURL  string
	client   *resty.Client
}

// NewOpenAIClientWithBaseURL 创建 OpenAI 兼容客户端；baseURL 为空时用默认或 OPENAI_BASE_URL
func NewOpenAIClientWithBaseURL(model, apiKey, baseURL string) (*OpenAIClient, error) {
	if model == "" {
		return nil, fmt.Errorf("openai client: model is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
		if envURL := os.Getenv("OPENAI_BASE_URL"); envURL != "" {
			baseURL = envURL
		}
	}

	// 重试由调用方（agent 的 backoff）统一负责，这里不再叠加
	client := resty.New()
	client.SetTimeout(60 * time.Second)

	return &OpenAIClient{
		provider: "openai",
		model:    model,
		apiKey:   apiKey,
		baseURL:  baseURL,
		client:   client,
	}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatWithContext 使用上下文聊天
func (c *OpenAIClient) ChatWithContext(ctx context.Context, messages []Message, options GenerateOptions) (string, error) {
	request := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: options.Temperature,
		MaxTokens:   options.MaxTokens,
		Stop:        options.Stop,
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetBody(request).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return "", fmt.Errorf("调用 OpenAI API failed: %w", err)
	}

	if response.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("OpenAI API 返回错误 %d: %s", response.StatusCode(), response.String())
	}

	var result chatResponse
	if err := json.Unmarshal(response.Body(), &result); err != nil {
		return "", fmt.Errorf("解析 OpenAI 响应failed: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API 没有返回结果")
	}

	return result.Choices[0].Message.Content, nil
}

// Model 返回模型名称
func (c *OpenAIClient) Model() string {
	return c.model
}

// Provider 返回提供商名称
func (c *OpenAIClient) Provider() string {
	return c.provider
}
