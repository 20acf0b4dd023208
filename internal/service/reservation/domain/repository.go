package domain

import (
	"context"
	"time"
)

// CapacityRepository 定义了容量记录的持久化接口。
// 所有修改 AvailableCount 的方法都必须是单条原子的条件更新，并在同一语句中递增 Revision。
type CapacityRepository interface {
	// FindActiveCapacity 查找未被软删除的容量记录，不存在时返回 ErrResourceNotFound。
	FindActiveCapacity(ctx context.Context, id string) (*Capacity, error)

	// ReserveCapacity 在 available_count >= quantity 时扣减，并返回本次更新后的记录。
	// 条件不满足返回 ErrSoldOut。
	ReserveCapacity(ctx context.Context, id string, quantity int64) (*Capacity, error)

	// ReleaseCapacity 无条件归还 quantity，是 ReserveCapacity 的补偿操作。
	ReleaseCapacity(ctx context.Context, id string, quantity int64) (*Capacity, error)

	// CreateCapacity 保存一条新的容量记录。
	CreateCapacity(ctx context.Context, c *Capacity) error

	// AdjustCapacity 把总容量调整为 newTotal，可用数量同步平移。
	// 调整后可用数量为负时返回 ErrCapacityBelowReserved。
	AdjustCapacity(ctx context.Context, id string, newTotal int64) (*Capacity, error)

	// UpdateStatus 以当前状态为 from 为条件迁移到 to，条件不满足返回 ErrInvalidStatusTransition。
	UpdateStatus(ctx context.Context, id string, from, to ResourceStatus) (*Capacity, error)

	// SoftDeleteCapacity 在没有已确认预订时软删除，否则返回 ErrResourceHasReservations。
	SoftDeleteCapacity(ctx context.Context, id string) error
}

// ReservationFilter 是列表查询的条件，OwnerID 为空表示不按所有者过滤。
type ReservationFilter struct {
	OwnerID    string
	ResourceID string
	Status     ReservationStatus
	Limit      int
	Offset     int
}

// ReservationRepository 定义了预订记录的持久化接口。
type ReservationRepository interface {
	// CreateReservation 插入记录。幂等键或票号冲突时分别返回
	// ErrDuplicateIdempotencyKey 和 ErrDuplicateTicketCode。
	CreateReservation(ctx context.Context, r *Reservation) error

	// FindActiveReservation 按 ID 查找未被软删除的记录。
	FindActiveReservation(ctx context.Context, id string) (*Reservation, error)

	// MarkCancelled 以 status = 'confirmed' 为条件把记录改为 cancelled。
	// 条件不满足时返回 ErrAlreadyCancelled。
	MarkCancelled(ctx context.Context, id, reason string, at time.Time) (*Reservation, error)

	// RevertCancellation 撤销 MarkCancelled，用于归还容量失败时的回滚。
	RevertCancellation(ctx context.Context, id string) error

	// ListReservations 按创建时间倒序返回记录。
	ListReservations(ctx context.Context, filter ReservationFilter) ([]*Reservation, error)
}
