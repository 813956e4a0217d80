package cache

import (
	"context"
	"time"
)

// Store 键值缓存；值以 JSON 形式保存，读取时反序列化到 dest
type Store interface {
	// Set 写入缓存，ttl <= 0 表示不过期
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Get 读取缓存；不存在或已过期时返回 ErrMiss
	Get(ctx context.Context, key string, dest any) error
	// Delete 删除缓存，不存在时忽略
	Delete(ctx context.Context, key string) error
	Close() error
}
