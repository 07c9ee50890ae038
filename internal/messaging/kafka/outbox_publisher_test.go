package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var envelope OutboundEnvelope
		if err := json.Unmarshal(value, &envelope); err != nil {
			return err
		}
		if envelope.ID != "outbox-1" || envelope.EventType != "order.confirmed" {
			t.Fatalf("envelope mismatch: %+v", envelope)
		}
		if string(envelope.Payload) != `{"status":"confirmed"}` {
			t.Fatalf("payload must be embedded as-is, got %s", envelope.Payload)
		}
		if envelope.PublishedAt.IsZero() {
			t.Fatal("published_at must be set")
		}
		return nil
	})

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     "order.confirmed",
		Payload:       []byte(`{"status":"confirmed"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-outbox-publisher-test"),
	}
	publisher := NewOutboxPublisher(producer)

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-234",
		EventType:     "order.cancelled",
		Payload:       []byte(`{"status":"cancelled"}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestTopicForAggregate(t *testing.T) {
	t.Parallel()

	if got := topicForAggregate(domain.AggregateInventory); got != TopicInventoryEvents {
		t.Fatalf("inventory aggregate must map to %s, got %s", TopicInventoryEvents, got)
	}
	if got := topicForAggregate(domain.AggregateOrder); got != TopicOrderEvents {
		t.Fatalf("order aggregate must map to %s, got %s", TopicOrderEvents, got)
	}
	// Неизвестный агрегат по умолчанию идёт в topic заказов.
	if got := topicForAggregate("unknown"); got != TopicOrderEvents {
		t.Fatalf("unknown aggregate must default to %s, got %s", TopicOrderEvents, got)
	}
}
