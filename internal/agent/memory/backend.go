package memory

import (
	"context"
	"fmt"

	"fleet-copilot/pkg/config"
)

// Backend 长期记忆的持久化后端；相似度检索在进程内完成，后端只负责读写
type Backend interface {
	// Put 写入一条记录（同 ID 覆盖）
	Put(ctx context.Context, r *Record) error
	// Delete 删除记录，不存在的 ID 忽略
	Delete(ctx context.Context, kind Kind, ids ...string) error
	// List 列出 owner 的全部记录
	List(ctx context.Context, owner string) ([]*Record, error)
	// Name 后端名称（日志、指标使用）
	Name() string
	Close() error
}

// OpenBackend 根据配置创建后端
func OpenBackend(ctx context.Context, cfg config.MemoryConfig) (Backend, error) {
	switch cfg.Backend() {
	case "file":
		return NewFileBackend(cfg.Dir)
	case "postgres":
		return NewPgBackend(ctx, cfg.Database.DSN)
	case "sqlite":
		return NewSQLiteBackend(ctx, cfg.Database.DSN)
	case "redis":
		return NewRedisBackend(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", cfg.Backend())
	}
}
