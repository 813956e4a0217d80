package memory

import (
	"fmt"
	"time"
)

// Kind 长期记忆类别
type Kind string

const (
	// KindEpisodic 过去成功处理过的请求及其做法
	KindEpisodic Kind = "episodic"
	// KindSemantic 用户陈述的事实或偏好
	KindSemantic Kind = "semantic"
)

// Kinds 全部可存储的记忆类别
var Kinds = []Kind{KindEpisodic, KindSemantic}

// Valid 是否为可存储的类别
func (k Kind) Valid() bool {
	return k == KindEpisodic || k == KindSemantic
}

// ParseKind 解析类别字符串
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown memory kind %q", s)
	}
	return k, nil
}

// Provenance 记忆来源
type Provenance string

const (
	ProvenanceUser  Provenance = "user"
	ProvenanceAgent Provenance = "agent"
)

// Record 一条长期记忆；持久化后不再修改，删除即整体移除
type Record struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Text       string     `json:"text"`
	Embedding  []float64  `json:"embedding,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Provenance Provenance `json:"provenance"`
	Owner      string     `json:"owner"`
}

// Criterion 删除条件：按 ID，或按完全相同的文本；Kind 为空时匹配所有类别
type Criterion struct {
	ID   string
	Text string
	Kind Kind
}

func (c Criterion) matches(r *Record) bool {
	if c.Kind != "" && r.Kind != c.Kind {
		return false
	}
	if c.ID != "" {
		return r.ID == c.ID
	}
	return c.Text != "" && r.Text == c.Text
}
