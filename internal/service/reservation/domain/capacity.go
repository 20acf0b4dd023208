package domain

import (
	"strings"
	"time"
)

// ResourceStatus 是可预订资源（场次）的生命周期状态。
type ResourceStatus string

const (
	ResourceDraft     ResourceStatus = "draft"
	ResourceOpen      ResourceStatus = "open"
	ResourceClosed    ResourceStatus = "closed"
	ResourceCancelled ResourceStatus = "cancelled"
)

// 允许的状态迁移，cancelled 是终态。
var resourceTransitions = map[ResourceStatus][]ResourceStatus{
	ResourceDraft:  {ResourceOpen, ResourceCancelled},
	ResourceOpen:   {ResourceClosed, ResourceCancelled},
	ResourceClosed: {ResourceOpen, ResourceCancelled},
}

// ParseResourceStatus 解析外部输入的状态字符串。空字符串解析为 open。
func ParseResourceStatus(s string) (ResourceStatus, error) {
	switch st := ResourceStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return ResourceOpen, nil
	case ResourceDraft, ResourceOpen, ResourceClosed, ResourceCancelled:
		return st, nil
	default:
		return "", ErrInvalidResourceStatus
	}
}

// CanTransitionTo 判断能否从当前状态迁移到 next。迁移到自身视为合法（幂等）。
func (s ResourceStatus) CanTransitionTo(next ResourceStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range resourceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Capacity 是一个资源的容量记录，AvailableCount 是剩余可售数量的唯一事实来源。
// 它只能通过仓储的原子操作修改，每次修改都会让 Revision 加一。
type Capacity struct {
	ID             string
	Name           string
	TotalCapacity  int64
	AvailableCount int64
	Revision       int64
	Status         ResourceStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewCapacity 创建一个新的容量记录：可用数量等于总容量，版本号从 1 开始。
func NewCapacity(id, name string, total int64, status ResourceStatus, now time.Time) (*Capacity, error) {
	if total < 1 {
		return nil, ErrInvalidCapacity
	}
	if status == "" {
		status = ResourceOpen
	}
	return &Capacity{
		ID:             id,
		Name:           strings.TrimSpace(name),
		TotalCapacity:  total,
		AvailableCount: total,
		Revision:       1,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ConfirmedCount 是已确认预订占用的数量。
func (c *Capacity) ConfirmedCount() int64 {
	return c.TotalCapacity - c.AvailableCount
}

// CheckReservable 是下单前的快速拒绝检查。
// 它只读取快照，真正的防超卖保证来自仓储的条件更新。
func (c *Capacity) CheckReservable(quantity int64) error {
	if c.Status != ResourceOpen {
		return ErrResourceNotOpen
	}
	if c.AvailableCount < quantity {
		return ErrInsufficientCapacity
	}
	return nil
}
