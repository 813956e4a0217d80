package vector

import (
	"context"
	"time"
)

// Store 向量存储接口
type Store interface {
	// Create 创建向量索引
	Create(ctx context.Context, index *Index) error
	// Add 添加向量，同 ID 覆盖
	Add(ctx context.Context, indexName string, vectors []*Vector) error
	// Search 搜索向量
	Search(ctx context.Context, indexName string, query []float64, options *SearchOptions) ([]*SearchResult, error)
	// Delete 删除向量，不存在时为空操作
	Delete(ctx context.Context, indexName string, ids ...string) error
	// Len 返回索引中的向量数
	Len(ctx context.Context, indexName string) (int, error)
	// ListIndexes 列出所有索引
	ListIndexes(ctx context.Context) ([]string, error)
}

// Index 向量索引
type Index struct {
	Name      string `json:"name"`      // 索引名称
	Dimension int    `json:"dimension"` // 向量维度，0 表示由第一个写入的向量决定
	Distance  string `json:"distance"`  // 距离度量方式
}

// Vector 向量数据
type Vector struct {
	ID        string            `json:"id"`
	Values    []float64         `json:"values"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"` // 得分相同时按时间倒序
}

// SearchOptions 搜索选项
type SearchOptions struct {
	TopK      int               `json:"top_k"`     // 返回前 K 个结果
	Filter    map[string]string `json:"filter"`    // 元数据过滤
	Threshold float64           `json:"threshold"` // 相似度阈值
}

// SearchResult 搜索结果
type SearchResult struct {
	ID        string            `json:"id"`
	Score     float64           `json:"score"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}
