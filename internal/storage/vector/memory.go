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

package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore 内存向量存储实现
type MemoryStore struct {
	indexes map[string]*index
	mu      sync.RWMutex
}

type index struct {
	index   *Index
	vectors map[string]*Vector
}

// NewMemoryStore 创建新的内存向量存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indexes: make(map[string]*index),
	}
}

// Create 创建向量索引
func (s *MemoryStore) Create(ctx context.Context, idx *Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.indexes[idx.Name]; exists {
		return fmt.Errorf("index with name %s already exists", idx.Name)
	}
	cp := *idx
	s.indexes[idx.Name] = &index{
		index:   &cp,
		vectors: make(map[string]*Vector),
	}
	return nil
}

// Add 添加向量
func (s *MemoryStore) Add(ctx context.Context, indexName string, vectors []*Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.indexes[indexName]
	if !exists {
		return fmt.Errorf("index with name %s not found", indexName)
	}

	for _, vector := range vectors {
		if idx.index.Dimension == 0 {
			idx.index.Dimension = len(vector.Values)
		}
		if len(vector.Values) != idx.index.Dimension {
			return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vector.Values), idx.index.Dimension)
		}
	}
	for _, vector := range vectors {
		idx.vectors[vector.ID] = vector
	}
	return nil
}

// Search 搜索向量：得分降序，得分相同按 CreatedAt 降序，再按 ID 升序
func (s *MemoryStore) Search(ctx context.Context, indexName string, query []float64, options *SearchOptions) ([]*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.indexes[indexName]
	if !exists {
		return nil, fmt.Errorf("index with name %s not found", indexName)
	}
	if len(idx.vectors) == 0 {
		return nil, nil
	}
	if len(query) != idx.index.Dimension {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), idx.index.Dimension)
	}

	if options == nil {
		options = &SearchOptions{TopK: 10}
	}

	results := make([]*SearchResult, 0, len(idx.vectors))
	for id, vector := range idx.vectors {
		if !matchFilter(vector.Metadata, options.Filter) {
			continue
		}
		score := calculateSimilarity(query, vector.Values, idx.index.Distance)
		if score < options.Threshold {
			continue
		}
		results = append(results, &SearchResult{
			ID:        id,
			Score:     score,
			Metadata:  vector.Metadata,
			CreatedAt: vector.CreatedAt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if options.TopK > 0 && len(results) > options.TopK {
		results = results[:options.TopK]
	}
	return results, nil
}

// Delete 删除向量
func (s *MemoryStore) Delete(ctx context.Context, indexName string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.indexes[indexName]
	if !exists {
		return fmt.Errorf("index with name %s not found", indexName)
	}
	for _, id := range ids {
		delete(idx.vectors, id)
	}
	return nil
}

// Len 返回索引中的向量数
func (s *MemoryStore) Len(ctx context.Context, indexName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, exists := s.indexes[indexName]
	if !exists {
		return 0, fmt.Errorf("index with name %s not found", indexName)
	}
	return len(idx.vectors), nil
}

// ListIndexes 列出所有索引
func (s *MemoryStore) ListIndexes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func matchFilter(metadata, filter map[string]string) bool {
	for key, value := range filter {
		if metadata == nil || metadata[key] != value {
			return false
		}
	}
	return true
}

func calculateSimilarity(query, vector []float64, distance string) float64 {
	switch distance {
	case "euclidean":
		return 1.0 / (1.0 + euclideanDistance(query, vector))
	default:
		return cosineSimilarity(query, vector)
	}
}

// cosineSimilarity 计算余弦相似度
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	dotProduct := 0.0
	normA := 0.0
	normB := 0.0
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func euclideanDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
