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

package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// OpenAIAdapter OpenAI Embedding 适配器（/embeddings）
type OpenAIAdapter struct {
	apiKey    string
	model     string
	baseURL   string
	dimension int
	client    *resty.Client
}

// NewOpenAIAdapter 创建 OpenAI Embedding 适配器
func NewOpenAIAdapter(apiKey, model, baseURL string, dimension int) *OpenAIAdapter {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)
	return &OpenAIAdapter{
		apiKey:    apiKey,
		model:     model,
		baseURL:   baseURL,
		dimension: dimension,
		client:    client,
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Dimension 返回向量维度（0 表示使用模型默认维度）
func (a *OpenAIAdapter) Dimension() int {
	return a.dimension
}

// Embed 调用 embeddings 接口
func (a *OpenAIAdapter) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+a.apiKey).
		SetBody(embeddingRequest{Model: a.model, Input: texts, Dimensions: a.dimension}).
		Post(a.baseURL + "/embeddings")
	if err != nil {
		return nil, fmt.Errorf("调用 embedding API failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("embedding API 返回错误 %d: %s", resp.StatusCode(), resp.String())
	}

	var result embeddingResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("解析 embedding 响应failed: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API 返回 %d 个向量，期望 %d", len(result.Data), len(texts))
	}
	out := make([][]float64, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding API 返回非法 index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
