package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder 基于词袋特征哈希的本地向量化，无需外部服务。
// 相同文本得到相同向量，词重叠越多余弦相似度越高。
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder 创建本地哈希向量化器
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension}
}

// Dimension 返回向量维度
func (h *HashEmbedder) Dimension() int {
	return h.dimension
}

// Embed 对每个文本做特征哈希并 L2 归一化
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *HashEmbedder) embedOne(text string) []float64 {
	vec := make([]float64, h.dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dimension))
		// 用高位决定符号，减少碰撞带来的偏差
		if sum>>63 == 1 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
