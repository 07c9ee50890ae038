package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka. Topic выбирается
// по типу агрегата: события заказа и склада идут в разные topics.
type OutboxTopicPublisher struct {
	producer *Producer
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := OutboundEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(topicForAggregate(event.AggregateType), key, envelope)
}

func topicForAggregate(aggregateType string) string {
	if aggregateType == domain.AggregateInventory {
		return TopicInventoryEvents
	}
	return TopicOrderEvents
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
