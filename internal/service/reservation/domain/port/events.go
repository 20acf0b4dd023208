package port

import (
	"context"

	"nexus-reservation/internal/service/reservation/domain"
)

// EventPublisher 是领域事件的出站端口。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ReservationEvent) error
}

// AccessPolicy 判断调用方是否拥有管理权限（查看他人预订、维护目录）。
type AccessPolicy interface {
	IsElevated(caller domain.Caller) bool
}
