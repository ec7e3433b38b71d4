package adapter

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"nexus-payment/internal/service/payment/domain"
)

// StatusCacheRedisAdapter 是 port.StatusCache 接口的 Redis 实现。
// go-redis 客户端自带连接池，并发调用无需额外加锁。
type StatusCacheRedisAdapter struct {
	client goredis.Cmdable
}

func NewStatusCacheRedisAdapter(client goredis.Cmdable) *StatusCacheRedisAdapter {
	return &StatusCacheRedisAdapter{client: client}
}

// Put 覆盖写入，ttl 到期后由 Redis 自动删除
func (a *StatusCacheRedisAdapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", domain.ErrCacheUnavailable, key, err)
	}
	return nil
}

func (a *StatusCacheRedisAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := a.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %w", domain.ErrCacheUnavailable, key, err)
	}
	return value, true, nil
}
