package port

import (
	"context"
	"time"
)

// LedgerEntry 是一次成功请求的完整响应，重放时原样返回。
type LedgerEntry struct {
	StatusCode  int
	Body        []byte
	Fingerprint string
}

// IdempotencyLedger 是幂等记录的出站端口。
// scope 用于隔离不同调用方的键空间。
type IdempotencyLedger interface {
	// Get 读取记录，第二个返回值表示是否命中。
	Get(ctx context.Context, scope, key string) (*LedgerEntry, bool, error)

	// Put 仅在 key 不存在时写入（先写者胜），并设置过期时间。
	Put(ctx context.Context, scope, key string, entry LedgerEntry, ttl time.Duration) error
}
