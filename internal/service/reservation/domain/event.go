package domain

import "time"

// EventType 是对外发布的领域事件类型。
type EventType string

const (
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationCancelled EventType = "reservation.cancelled"
)

// ReservationEvent 在预订确认或取消后发布，供通知等下游服务消费。
type ReservationEvent struct {
	Type          EventType `json:"type"`
	ReservationID string    `json:"reservationId"`
	ResourceID    string    `json:"resourceId"`
	OwnerID       string    `json:"ownerId"`
	TicketCode    string    `json:"ticketCode"`
	Quantity      int64     `json:"quantity"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NewReservationEvent 从预订记录构造事件。
func NewReservationEvent(t EventType, r *Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          t,
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		OwnerID:       r.OwnerID,
		TicketCode:    r.TicketCode,
		Quantity:      r.Quantity,
		OccurredAt:    at,
	}
}
