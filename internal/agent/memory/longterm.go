package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleet-copilot/internal/model/embedding"
	"fleet-copilot/internal/storage/vector"
	apperrors "fleet-copilot/pkg/errors"
	"fleet-copilot/pkg/log"
	"fleet-copilot/pkg/metrics"
)

// LongTerm 长期记忆：情景记忆与语义记忆，按相似度检索。
// 交互对话与轮询共享同一实例；写路径持有写锁，后端写入与索引更新不会交错。
type LongTerm struct {
	mu       sync.RWMutex
	backend  Backend
	embedder embedding.Embedder
	index    vector.Store
	records  map[string]*Record
	owner    string
	logger   *log.Logger
	now      func() time.Time
}

// NewLongTerm 创建长期记忆；owner 为记忆所属用户
func NewLongTerm(backend Backend, embedder embedding.Embedder, owner string, logger *log.Logger) *LongTerm {
	if logger == nil {
		logger = log.Discard()
	}
	index := vector.NewMemoryStore()
	for _, k := range Kinds {
		_ = vector.EnsureIndex(context.Background(), index, string(k), embedder.Dimension(), "cosine")
	}
	return &LongTerm{
		backend:  backend,
		embedder: embedder,
		index:    index,
		records:  make(map[string]*Record),
		owner:    strings.ToLower(owner),
		logger:   logger.With("component", "longterm", "backend", backend.Name()),
		now:      time.Now,
	}
}

// Load 从后端加载记录并建立索引；缺少向量的记录重新向量化
func (m *LongTerm) Load(ctx context.Context) error {
	recs, err := m.backend.List(ctx, m.owner)
	if err != nil {
		return apperrors.Mark(apperrors.ErrMemoryStoreUnavailable, err)
	}

	var missing []*Record
	for _, r := range recs {
		if len(r.Embedding) == 0 {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, r := range missing {
			texts[i] = r.Text
		}
		vecs, err := m.embedder.Embed(ctx, texts)
		if err != nil {
			return m.embedError(err)
		}
		for i, r := range missing {
			r.Embedding = vecs[i]
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if !r.Kind.Valid() {
			m.logger.Warn("跳过未知类别的记忆", "id", r.ID, "kind", r.Kind)
			continue
		}
		if err := m.index.Add(ctx, string(r.Kind), []*vector.Vector{toVector(r)}); err != nil {
			m.logger.Warn("记忆向量无法加入索引", "id", r.ID, "error", err)
			continue
		}
		m.records[r.ID] = r
	}
	m.logger.Info("长期记忆已加载", "records", len(m.records))
	return nil
}

// Retrieve 返回与 query 最相似的至多 k 条记录；得分相同时较新的在前。没有记录时返回空切片
func (m *LongTerm) Retrieve(ctx context.Context, query string, k int, kind Kind) ([]Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("retrieve: %w: kind %q", apperrors.ErrInvalidArg, kind)
	}
	if k <= 0 {
		return []Record{}, nil
	}
	m.mu.RLock()
	empty := m.countLocked(kind) == 0
	m.mu.RUnlock()
	if empty {
		metrics.MemoryOpTotal.WithLabelValues("retrieve", string(kind), "empty").Inc()
		return []Record{}, nil
	}

	vecs, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		metrics.MemoryOpTotal.WithLabelValues("retrieve", string(kind), "error").Inc()
		return nil, m.embedError(err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	results, err := m.index.Search(ctx, string(kind), vecs[0], &vector.SearchOptions{TopK: k})
	if err != nil {
		metrics.MemoryOpTotal.WithLabelValues("retrieve", string(kind), "error").Inc()
		return nil, apperrors.Mark(apperrors.ErrMemoryStoreUnavailable, err)
	}
	out := make([]Record, 0, len(results))
	for _, res := range results {
		if r, ok := m.records[res.ID]; ok {
			out = append(out, *r)
		}
	}
	metrics.MemoryOpTotal.WithLabelValues("retrieve", string(kind), "ok").Inc()
	return out, nil
}

// Save 新建并持久化一条记录；相同文本重复保存会得到多条记录
func (m *LongTerm) Save(ctx context.Context, text string, kind Kind, provenance Provenance) (*Record, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("save: %w: kind %q", apperrors.ErrInvalidArg, kind)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("save: %w: empty text", apperrors.ErrInvalidArg)
	}

	vecs, err := m.embedder.Embed(ctx, []string{text})
	if err != nil {
		metrics.MemoryOpTotal.WithLabelValues("save", string(kind), "error").Inc()
		return nil, m.embedError(err)
	}
	r := &Record{
		ID:         uuid.New().String(),
		Kind:       kind,
		Text:       text,
		Embedding:  vecs[0],
		CreatedAt:  m.now().UTC(),
		Provenance: provenance,
		Owner:      m.owner,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.backend.Put(ctx, r); err != nil {
		metrics.MemoryOpTotal.WithLabelValues("save", string(kind), "error").Inc()
		return nil, apperrors.Mark(apperrors.ErrMemoryStoreUnavailable, err)
	}
	if err := m.index.Add(ctx, string(kind), []*vector.Vector{toVector(r)}); err != nil {
		// 索引拒绝（如维度变化）时回滚后端写入，保持两者一致
		_ = m.backend.Delete(ctx, kind, r.ID)
		metrics.MemoryOpTotal.WithLabelValues("save", string(kind), "error").Inc()
		return nil, apperrors.Mark(apperrors.ErrMemoryStoreUnavailable, err)
	}
	m.records[r.ID] = r
	metrics.MemoryOpTotal.WithLabelValues("save", string(kind), "ok").Inc()
	m.logger.Debug("记忆已保存", "id", r.ID, "kind", kind, "provenance", provenance)

	cp := *r
	return &cp, nil
}

// Delete 删除匹配 c 的记录，返回删除条数；没有匹配时为空操作
func (m *LongTerm) Delete(ctx context.Context, c Criterion) (int, error) {
	if c.ID == "" && c.Text == "" {
		return 0, fmt.Errorf("delete: %w: empty criterion", apperrors.ErrInvalidArg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byKind := make(map[Kind][]string)
	for id, r := range m.records {
		if c.matches(r) {
			byKind[r.Kind] = append(byKind[r.Kind], id)
		}
	}

	deleted := 0
	for kind, ids := range byKind {
		if err := m.backend.Delete(ctx, kind, ids...); err != nil {
			metrics.MemoryOpTotal.WithLabelValues("delete", string(kind), "error").Inc()
			return deleted, apperrors.Mark(apperrors.ErrMemoryStoreUnavailable, err)
		}
		_ = m.index.Delete(ctx, string(kind), ids...)
		for _, id := range ids {
			delete(m.records, id)
		}
		deleted += len(ids)
		metrics.MemoryOpTotal.WithLabelValues("delete", string(kind), "ok").Inc()
	}
	m.logger.Debug("记忆删除", "id", c.ID, "deleted", deleted)
	return deleted, nil
}

// Get 按 ID 读取记录
func (m *LongTerm) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Len 某类别的记录数
func (m *LongTerm) Len(kind Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(kind)
}

// Close 关闭后端
func (m *LongTerm) Close() error {
	return m.backend.Close()
}

func (m *LongTerm) countLocked(kind Kind) int {
	n, _ := m.index.Len(context.Background(), string(kind))
	return n
}

func (m *LongTerm) embedError(err error) error {
	return apperrors.Mark(apperrors.ErrMemoryStoreUnavailable, apperrors.Mark(apperrors.ErrBackendUnavailable, err))
}

func toVector(r *Record) *vector.Vector {
	return &vector.Vector{
		ID:        r.ID,
		Values:    r.Embedding,
		Metadata:  map[string]string{"owner": r.Owner, "provenance": string(r.Provenance)},
		CreatedAt: r.CreatedAt,
	}
}
