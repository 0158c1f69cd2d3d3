package store

import (
	"context"
	"time"

	lru "github.com/hnlq715/golang-lru"

	"github.com/rushteam/cropkit/core"
)

// DefaultMemorySize 是 MemoryStore 的默认容量（条目数）。
const DefaultMemorySize = 10000

// MemoryStore 是进程内 LRU 实现的 Store，单实例部署时用作预测缓存。
// 容量满时淘汰最久未使用的条目；支持 TTL（过期时间），进程重启后数据丢失。
// lru.Cache 自带锁，可并发使用。
type MemoryStore struct {
	cache *lru.Cache
	now   func() time.Time
}

type entry struct {
	value    []byte
	expireAt time.Time // 零值表示不过期
}

// NewMemoryStore 创建容量为 size 的内存存储，size<=0 时使用 DefaultMemorySize。
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	e := v.(*entry)
	if !e.expireAt.IsZero() && m.now().After(e.expireAt) {
		m.cache.Remove(key)
		return nil, core.ErrStoreNotFound
	}
	return e.value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	e := &entry{value: append([]byte(nil), value...)}
	if len(ttl) > 0 && ttl[0] > 0 {
		e.expireAt = m.now().Add(time.Duration(ttl[0]) * time.Second)
	}
	m.cache.Add(key, e)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.cache.Remove(key)
	return nil
}

// Len 返回当前条目数（包含已过期但尚未被访问清理的条目）。
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

func (m *MemoryStore) Close() error {
	m.cache.Purge()
	return nil
}

var _ core.Store = (*MemoryStore)(nil)
