package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"fleet-copilot/pkg/config"
)

// RedisBackend 每个用户、每个类别一个 Hash：field 为记录 ID，value 为记录 JSON
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend 连接 Redis
func NewRedisBackend(ctx context.Context, cfg config.RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "copilot"
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

// Name 后端名称
func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) key(owner string, kind Kind) string {
	return fmt.Sprintf("%s:memory:%s:%s", b.prefix, owner, kind)
}

// ownersKey 记录出现过的 owner，删除时按 ID 查找所属 Hash
func (b *RedisBackend) ownersKey() string {
	return b.prefix + ":memory:owners"
}

func (b *RedisBackend) Put(ctx context.Context, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.key(r.Owner, r.Kind), r.ID, data)
		pipe.SAdd(ctx, b.ownersKey(), r.Owner)
		return nil
	})
	return err
}

func (b *RedisBackend) Delete(ctx context.Context, kind Kind, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	owners, err := b.client.SMembers(ctx, b.ownersKey()).Result()
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if err := b.client.HDel(ctx, b.key(owner, kind), ids...).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context, owner string) ([]*Record, error) {
	var out []*Record
	for _, kind := range Kinds {
		fields, err := b.client.HGetAll(ctx, b.key(owner, kind)).Result()
		if err != nil {
			return nil, err
		}
		for id, raw := range fields {
			var r Record
			if err := json.Unmarshal([]byte(raw), &r); err != nil {
				return nil, fmt.Errorf("decode memory %s: %w", id, err)
			}
			out = append(out, &r)
		}
	}
	return out, nil
}

// Close 关闭连接
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
