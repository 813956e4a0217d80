package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileBackend 每个用户、每个类别一个 JSON 快照文件；写入先落临时文件再 rename
type FileBackend struct {
	mu     sync.Mutex
	dir    string
	loaded map[string]map[string]*Record // 文件路径 -> id -> record
}

// NewFileBackend 创建文件后端
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file memory backend: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileBackend{dir: dir, loaded: make(map[string]map[string]*Record)}, nil
}

// Name 后端名称
func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) path(owner string, kind Kind) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s_memory_%s.json", kind, owner))
}

// snapshot 读取（并缓存）一个快照文件，调用方持有锁
func (b *FileBackend) snapshot(path string) (map[string]*Record, error) {
	if recs, ok := b.loaded[path]; ok {
		return recs, nil
	}
	recs := make(map[string]*Record)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		var list []*Record
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		for _, r := range list {
			recs[r.ID] = r
		}
	}
	b.loaded[path] = recs
	return recs, nil
}

func (b *FileBackend) flush(path string, recs map[string]*Record) error {
	list := make([]*Record, 0, len(recs))
	for _, r := range recs {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Put 写入记录并重写快照
func (b *FileBackend) Put(ctx context.Context, r *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := b.path(r.Owner, r.Kind)
	recs, err := b.snapshot(path)
	if err != nil {
		return err
	}
	prev, had := recs[r.ID]
	recs[r.ID] = r
	if err := b.flush(path, recs); err != nil {
		if had {
			recs[r.ID] = prev
		} else {
			delete(recs, r.ID)
		}
		return err
	}
	return nil
}

// Delete 删除记录；快照按 owner 分文件，因此需遍历已知 owner
func (b *FileBackend) Delete(ctx context.Context, kind Kind, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths, err := filepath.Glob(filepath.Join(b.dir, fmt.Sprintf("%s_memory_*.json", kind)))
	if err != nil {
		return err
	}
	for _, path := range paths {
		recs, err := b.snapshot(path)
		if err != nil {
			return err
		}
		removed := make(map[string]*Record)
		for _, id := range ids {
			if r, ok := recs[id]; ok {
				removed[id] = r
				delete(recs, id)
			}
		}
		if len(removed) == 0 {
			continue
		}
		if err := b.flush(path, recs); err != nil {
			for id, r := range removed {
				recs[id] = r
			}
			return err
		}
	}
	return nil
}

// List 读取 owner 的全部记录
func (b *FileBackend) List(ctx context.Context, owner string) ([]*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Record
	for _, kind := range Kinds {
		recs, err := b.snapshot(b.path(owner, kind))
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Close 无需释放资源
func (b *FileBackend) Close() error { return nil }
