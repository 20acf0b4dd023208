package port

import (
	"context"
	"time"

	"nexus-reservation/internal/service/reservation/domain"
)

// AvailabilityCache 是可用量快照缓存的出站端口。它是尽力而为的，
// 任何错误都不应影响下单结果。
type AvailabilityCache interface {
	Get(ctx context.Context, resourceID string) (*domain.Availability, bool, error)
	Set(ctx context.Context, snapshot *domain.Availability, ttl time.Duration) error
	Delete(ctx context.Context, resourceID string) error
}
