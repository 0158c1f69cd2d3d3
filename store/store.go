package store

import (
	"context"
	"fmt"

	"github.com/rushteam/cropkit/core"
)

// 注意：此包只包含实现，接口定义在 core 包。
//
// 示例：
//   s, _ := store.New(ctx, store.Options{Backend: store.BackendMemory, Size: 1000})
//   var cache core.Store = s

// 缓存后端名称（配置 cache.backend）。
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Options 创建 Store 的参数。
type Options struct {
	Backend   string
	Size      int
	RedisAddr string
	RedisDB   int
}

// New 按后端名称创建 Store。Backend 为空或 "none" 时返回 (nil, nil)，表示不启用缓存。
func New(ctx context.Context, opts Options) (core.Store, error) {
	switch opts.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		s, err := NewMemoryStore(opts.Size)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, opts.RedisAddr, opts.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", opts.RedisAddr, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
