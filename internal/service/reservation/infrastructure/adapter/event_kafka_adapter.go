package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"nexus-reservation/internal/pkg/mq"
	"nexus-reservation/internal/service/reservation/domain"
)

// EventKafkaAdapter 是 port.EventPublisher 的 Kafka 实现。
// 消息以资源 ID 为 key，同一资源的事件按顺序落在同一分区。
type EventKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewEventKafkaAdapter(writer mq.MessageWriter) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

func (a *EventKafkaAdapter) Publish(ctx context.Context, event domain.ReservationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	if err := mq.ProduceMessage(ctx, a.writer, []byte(event.ResourceID), value); err != nil {
		return fmt.Errorf("failed to publish %s event for reservation %s: %w", event.Type, event.ReservationID, err)
	}
	return nil
}
