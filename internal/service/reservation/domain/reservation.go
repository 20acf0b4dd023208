package domain

import (
	"strings"
	"time"
)

// ReservationStatus 是预订记录的状态，只能从 confirmed 迁移到 cancelled 一次。
type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// MaxCancellationReasonLength 是取消原因能够持久化的最大字符数。
const MaxCancellationReasonLength = 500

// ParseReservationStatus 解析查询参数中的状态，空字符串表示不过滤。
func ParseReservationStatus(s string) (ReservationStatus, error) {
	switch st := ReservationStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case "", ReservationConfirmed, ReservationCancelled:
		return st, nil
	default:
		return "", newError(KindValidation, "invalid reservation status")
	}
}

// Caller 是已经由网关完成认证的调用方身份。
type Caller struct {
	UserID string
	Role   string
}

// Reservation 是一次预订调用产生的记录，一条记录承载整次调用的数量。
type Reservation struct {
	ID                 string
	OwnerID            string
	ResourceID         string
	TicketCode         string
	Quantity           int64
	Status             ReservationStatus
	IdempotencyKey     string
	CreatedAt          time.Time
	CancelledAt        *time.Time
	CancellationReason string
}

// NewReservation 创建一条已确认的预订记录。
func NewReservation(id, ownerID, resourceID, ticketCode string, quantity int64, idempotencyKey string, now time.Time) *Reservation {
	return &Reservation{
		ID:             id,
		OwnerID:        ownerID,
		ResourceID:     resourceID,
		TicketCode:     ticketCode,
		Quantity:       quantity,
		Status:         ReservationConfirmed,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}
}

// OwnedBy 判断记录是否属于 userID。
func (r *Reservation) OwnedBy(userID string) bool {
	return r.OwnerID == userID
}

// CanCancel 检查记录是否还能取消。
func (r *Reservation) CanCancel() error {
	if r.Status == ReservationCancelled {
		return ErrAlreadyCancelled
	}
	return nil
}
