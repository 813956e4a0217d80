package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// ErrSealed 注册表已封存
var ErrSealed = errors.New("tool registry is sealed")

// Registry Agent 可发现的工具注册表。启动时注册，Seal 后只读
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Descriptor
	sealed bool
}

// NewRegistry 创建新 Registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register 注册工具；名称为空、重名、缺少 Handler 或注册表已封存时返回错误
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if d.Handler == nil {
		return fmt.Errorf("register tool %q: nil handler", d.Name)
	}
	if d.Description == "" {
		d.Description = d.Name + " tool"
	}
	for name, p := range d.Params {
		if p == nil {
			return fmt.Errorf("register tool %q: nil param %q", d.Name, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register tool %q: %w", d.Name, ErrSealed)
	}
	if _, ok := r.tools[d.Name]; ok {
		return fmt.Errorf("register tool %q: already registered", d.Name)
	}
	r.tools[d.Name] = &d
	return nil
}

// MustRegister 同 Register，失败时 panic；用于启动期的内置工具
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Seal 封存注册表，之后的 Register 都会失败
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed 是否已封存
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get 按名称获取工具
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// List 返回所有已注册工具，按名称排序
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Len 已注册工具数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ToolInfos 返回绑定到推理模型的工具描述；filter 为 nil 时返回全部
func (r *Registry) ToolInfos(filter func(*Descriptor) bool) []*schema.ToolInfo {
	list := r.List()
	infos := make([]*schema.ToolInfo, 0, len(list))
	for _, d := range list {
		if filter != nil && !filter(d) {
			continue
		}
		infos = append(infos, d.ToolInfo())
	}
	return infos
}

// ToolSchemaForLLM 供 LLM 使用的工具描述
type ToolSchemaForLLM struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ReadOnly    bool           `json:"read_only"`
	Parameters  map[string]any `json:"parameters"`
}

// SchemasForLLM 返回所有工具的 Schema 列表（JSON），用于 --verbose 下打印与调试
func (r *Registry) SchemasForLLM() ([]byte, error) {
	list := r.List()
	out := make([]ToolSchemaForLLM, 0, len(list))
	for _, d := range list {
		out = append(out, ToolSchemaForLLM{
			Name:        d.Name,
			Description: d.Description,
			ReadOnly:    d.ReadOnly,
			Parameters:  d.JSONSchema(),
		})
	}
	return json.Marshal(out)
}
