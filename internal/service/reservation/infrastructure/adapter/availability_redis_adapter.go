package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nexus-reservation/internal/pkg/redis"
	"nexus-reservation/internal/service/reservation/domain"
)

// AvailabilityRedisAdapter 是 port.AvailabilityCache 的 Redis 实现，快照以 JSON 字符串保存。
type AvailabilityRedisAdapter struct {
	redisClient *redis.Client
}

func NewAvailabilityRedisAdapter(redisClient *redis.Client) *AvailabilityRedisAdapter {
	return &AvailabilityRedisAdapter{redisClient: redisClient}
}

func availabilityKey(resourceID string) string {
	return fmt.Sprintf("availability:{%s}", resourceID)
}

func (a *AvailabilityRedisAdapter) Get(ctx context.Context, resourceID string) (*domain.Availability, bool, error) {
	raw, err := a.redisClient.GetClient().Get(ctx, availabilityKey(resourceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap domain.Availability
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("decode availability snapshot: %w", err)
	}
	return &snap, true, nil
}

func (a *AvailabilityRedisAdapter) Set(ctx context.Context, snap *domain.Availability, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return a.redisClient.GetClient().Set(ctx, availabilityKey(snap.ResourceID), raw, ttl).Err()
}

func (a *AvailabilityRedisAdapter) Delete(ctx context.Context, resourceID string) error {
	return a.redisClient.GetClient().Del(ctx, availabilityKey(resourceID)).Err()
}
