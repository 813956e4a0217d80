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

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "fleet-copilot/pkg/errors"
)

// ErrMiss 缓存未命中
var ErrMiss = fmt.Errorf("cache miss: %w", apperrors.ErrNotFound)

// MemoryStore 进程内缓存，过期项在读取时清理
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*cacheItem
	now   func() time.Time
}

type cacheItem struct {
	value     []byte
	expiresAt time.Time // 零值表示不过期
}

// NewMemoryStore 创建内存缓存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*cacheItem), now: time.Now}
}

// WithClock 替换时钟（测试使用）
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Set 写入缓存
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	item := &cacheItem{value: data}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
	return nil
}

// Get 读取缓存
func (s *MemoryStore) Get(_ context.Context, key string, dest any) error {
	s.mu.Lock()
	item, ok := s.items[key]
	if ok && !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt) {
		delete(s.items, key)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return ErrMiss
	}
	if err := json.Unmarshal(item.value, dest); err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	return nil
}

// Delete 删除缓存
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Len 当前缓存项数（含未清理的过期项）
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close 实现 Store
func (s *MemoryStore) Close() error { return nil }
