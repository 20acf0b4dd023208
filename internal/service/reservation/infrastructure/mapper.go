package infrastructure

import (
	"database/sql"

	"nexus-reservation/internal/service/reservation/domain"
)

// ToDomainCapacity 将数据库模型转换为领域模型
func ToDomainCapacity(model *CapacityModel) *domain.Capacity {
	if model == nil {
		return nil
	}
	return &domain.Capacity{
		ID:             model.ID,
		Name:           model.Name,
		TotalCapacity:  model.TotalCapacity,
		AvailableCount: model.AvailableCount,
		Revision:       model.Revision,
		Status:         domain.ResourceStatus(model.Status),
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

// FromDomainCapacity 将领域模型转换为数据库模型（用于插入）
func FromDomainCapacity(c *domain.Capacity) *CapacityModel {
	if c == nil {
		return nil
	}
	return &CapacityModel{
		ID:             c.ID,
		Name:           c.Name,
		TotalCapacity:  c.TotalCapacity,
		AvailableCount: c.AvailableCount,
		Revision:       c.Revision,
		Status:         string(c.Status),
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// ToDomainReservation 将数据库模型转换为领域模型
func ToDomainReservation(model *ReservationModel) *domain.Reservation {
	if model == nil {
		return nil
	}
	r := &domain.Reservation{
		ID:                 model.ID,
		OwnerID:            model.OwnerID,
		ResourceID:         model.ResourceID,
		TicketCode:         model.TicketCode,
		Quantity:           model.Quantity,
		Status:             domain.ReservationStatus(model.Status),
		IdempotencyKey:     model.IdempotencyKey,
		CreatedAt:          model.CreatedAt,
		CancellationReason: model.CancellationReason,
	}
	if model.CancelledAt.Valid {
		at := model.CancelledAt.Time
		r.CancelledAt = &at
	}
	return r
}

// FromDomainReservation 将领域模型转换为数据库模型（用于插入）
func FromDomainReservation(r *domain.Reservation) *ReservationModel {
	if r == nil {
		return nil
	}
	m := &ReservationModel{
		ID:                 r.ID,
		OwnerID:            r.OwnerID,
		ResourceID:         r.ResourceID,
		TicketCode:         r.TicketCode,
		Quantity:           r.Quantity,
		Status:             string(r.Status),
		IdempotencyKey:     r.IdempotencyKey,
		CreatedAt:          r.CreatedAt,
		CancellationReason: r.CancellationReason,
	}
	if r.CancelledAt != nil {
		m.CancelledAt = sql.NullTime{Time: *r.CancelledAt, Valid: true}
	}
	return m
}
