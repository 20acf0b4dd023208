package application

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"nexus-reservation/internal/service/reservation/domain"
)

// CreateReservationRequest 是下单用例的输入。
type CreateReservationRequest struct {
	ResourceID     string
	Caller         domain.Caller
	Quantity       int64
	IdempotencyKey string
}

// CreateReservationResult 是下单用例的输出。Body 是对外返回的 JSON，
// 重放时原样返回首次请求写入幂等记录的字节。
type CreateReservationResult struct {
	Reservation *ReservationDTO
	StatusCode  int
	Body        []byte
	Replayed    bool
}

// CancelReservationRequest 是取消用例的输入。
type CancelReservationRequest struct {
	ReservationID string
	Caller        domain.Caller
	Reason        string
}

// ListReservationsRequest 是列表查询的输入。OwnerID 只对有管理权限的调用方生效。
type ListReservationsRequest struct {
	Caller     domain.Caller
	OwnerID    string
	ResourceID string
	Status     string
	Limit      int
	Offset     int
}

// ReservationDTO 是预订记录的对外表示。
type ReservationDTO struct {
	ID                 string                   `json:"id"`
	ResourceID         string                   `json:"resourceId"`
	OwnerID            string                   `json:"ownerId"`
	TicketCode         string                   `json:"ticketCode"`
	Quantity           int64                    `json:"quantity"`
	Status             domain.ReservationStatus `json:"status"`
	CreatedAt          time.Time                `json:"createdAt"`
	CancelledAt        *time.Time               `json:"cancelledAt,omitempty"`
	CancellationReason string                   `json:"cancellationReason,omitempty"`
}

// ToReservationDTO 将领域对象转换为 DTO。
func ToReservationDTO(r *domain.Reservation) *ReservationDTO {
	if r == nil {
		return nil
	}
	return &ReservationDTO{
		ID:                 r.ID,
		ResourceID:         r.ResourceID,
		OwnerID:            r.OwnerID,
		TicketCode:         r.TicketCode,
		Quantity:           r.Quantity,
		Status:             r.Status,
		CreatedAt:          r.CreatedAt,
		CancelledAt:        r.CancelledAt,
		CancellationReason: r.CancellationReason,
	}
}

// CreateResourceRequest 是创建资源的输入。
type CreateResourceRequest struct {
	Name          string `json:"name"`
	TotalCapacity int64  `json:"totalCapacity"`
	Status        string `json:"status"`
}

// ResourceDTO 是容量记录的对外表示。
type ResourceDTO struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Status         domain.ResourceStatus `json:"status"`
	TotalCapacity  int64                 `json:"totalCapacity"`
	AvailableCount int64                 `json:"availableCount"`
	ConfirmedCount int64                 `json:"confirmedCount"`
	Revision       int64                 `json:"revision"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// ToResourceDTO 将容量记录转换为 DTO。
func ToResourceDTO(c *domain.Capacity) *ResourceDTO {
	if c == nil {
		return nil
	}
	return &ResourceDTO{
		ID:             c.ID,
		Name:           c.Name,
		Status:         c.Status,
		TotalCapacity:  c.TotalCapacity,
		AvailableCount: c.AvailableCount,
		ConfirmedCount: c.ConfirmedCount(),
		Revision:       c.Revision,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// Fingerprint 标识一次下单请求的内容，同一个幂等键只能重放指纹相同的请求。
func Fingerprint(resourceID string, quantity int64) string {
	sum := sha256.Sum256([]byte(resourceID + "\x00" + strconv.FormatInt(quantity, 10)))
	return hex.EncodeToString(sum[:])
}
