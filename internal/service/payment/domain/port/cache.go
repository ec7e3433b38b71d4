package port

import (
	"context"
	"time"
)

// StatusCache 是支付状态缓存的出站端口。
type StatusCache interface {
	// Put 覆盖写入并在 ttl 后自动过期。
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get 读取缓存，key 不存在或已过期时 found 为 false。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
}
