package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"nexus-reservation/internal/pkg/redis"
	"nexus-reservation/internal/service/reservation/domain/port"
)

const idempotencyPutScriptName = "idempotency_put"

// IdempotencyRedisAdapter 是 port.IdempotencyLedger 的 Redis 实现。
// 每条记录是一个 hash：idem:<scope>:<key> -> {status_code, body, fingerprint}。
type IdempotencyRedisAdapter struct {
	redisClient *redis.Client
	prefix      string
}

// NewIdempotencyRedisAdapter 创建适配器并加载写入脚本。
func NewIdempotencyRedisAdapter(redisClient *redis.Client) (*IdempotencyRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(idempotencyPutScriptName, idempotencyPutScript); err != nil {
		return nil, fmt.Errorf("failed to load idempotency script: %w", err)
	}
	return &IdempotencyRedisAdapter{redisClient: redisClient, prefix: "idem"}, nil
}

func (a *IdempotencyRedisAdapter) key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", a.prefix, scope, key)
}

// Get 读取幂等记录，key 不存在时返回 ok=false。
func (a *IdempotencyRedisAdapter) Get(ctx context.Context, scope, key string) (*port.LedgerEntry, bool, error) {
	fields, err := a.redisClient.GetClient().HGetAll(ctx, a.key(scope, key)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency adapter failed to read %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	status, err := strconv.Atoi(fields["status_code"])
	if err != nil {
		return nil, false, fmt.Errorf("corrupt idempotency entry %s: %w", key, err)
	}
	return &port.LedgerEntry{
		StatusCode:  status,
		Body:        []byte(fields["body"]),
		Fingerprint: fields["fingerprint"],
	}, true, nil
}

// Put 只在记录不存在时写入，先写者胜。
func (a *IdempotencyRedisAdapter) Put(ctx context.Context, scope, key string, entry port.LedgerEntry, ttl time.Duration) error {
	result, err := a.redisClient.RunScript(ctx, idempotencyPutScriptName,
		[]string{a.key(scope, key)},
		entry.StatusCode,
		entry.Body,
		entry.Fingerprint,
		ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("idempotency adapter failed to run script: %w", err)
	}
	if _, ok := result.(int64); !ok {
		return fmt.Errorf("unexpected result type from idempotency script: %T", result)
	}
	return nil
}

var idempotencyPutScript = `
-- KEYS[1]: 幂等记录的 Key, 例如: idem:user-1:6f1c...
-- ARGV[1]: 响应状态码
-- ARGV[2]: 响应体
-- ARGV[3]: 请求指纹
-- ARGV[4]: 过期时间（毫秒）

if redis.call('exists', KEYS[1]) == 1 then
    return 0 -- 已存在，保留先写入的记录
end

redis.call('hset', KEYS[1], 'status_code', ARGV[1], 'body', ARGV[2], 'fingerprint', ARGV[3])
redis.call('pexpire', KEYS[1], ARGV[4])
return 1
`
