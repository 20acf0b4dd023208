package infrastructure

import (
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// CapacityModel 对应数据库中的 capacity_records 表
type CapacityModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	Name           string `gorm:"size:255"`
	TotalCapacity  int64  `gorm:"not null"`
	AvailableCount int64  `gorm:"not null"`
	Revision       int64  `gorm:"not null;default:1"`
	Status         string `gorm:"size:16;not null;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

// TableName 指定 GORM 应该使用的表名
func (CapacityModel) TableName() string {
	return "capacity_records"
}

// ReservationModel 对应数据库中的 reservations 表。
// 幂等键和票号的唯一索引是并发竞争下的最后一道防线。
type ReservationModel struct {
	ID                 string `gorm:"primaryKey;size:36"`
	OwnerID            string `gorm:"size:64;not null;index"`
	ResourceID         string `gorm:"size:36;not null;index:idx_reservations_resource_status,priority:1"`
	TicketCode         string `gorm:"size:32;not null;uniqueIndex"`
	Quantity           int64  `gorm:"not null"`
	Status             string `gorm:"size:16;not null;index:idx_reservations_resource_status,priority:2"`
	IdempotencyKey     string `gorm:"size:64;not null;uniqueIndex"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        sql.NullTime
	CancellationReason string         `gorm:"size:500"` // domain.MaxCancellationReasonLength
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

// TableName 指定 GORM 应该使用的表名
func (ReservationModel) TableName() string {
	return "reservations"
}
