package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func consumerMessage(value []byte, headers ...*sarama.RecordHeader) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     TopicPaymentEvents,
		Partition: 0,
		Offset:    42,
		Key:       []byte("order-123"),
		Value:     value,
		Headers:   headers,
	}
}

func TestParseInboundEvent(t *testing.T) {
	payload, err := json.Marshal(NewInboundEvent("payment.succeeded", "order-123", "", nil))
	if err != nil {
		t.Fatal(err)
	}

	event, err := ParseInboundEvent(consumerMessage(payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.EventType != "payment.succeeded" || event.OrderID != "order-123" {
		t.Fatalf("parsed event mismatch: %+v", event)
	}
}

func TestParseInboundEvent_Invalid(t *testing.T) {
	if _, err := ParseInboundEvent(consumerMessage([]byte("not json"))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
	// event_type обязателен.
	if _, err := ParseInboundEvent(consumerMessage([]byte(`{"order_id":"order-123"}`))); err == nil {
		t.Fatal("expected error for missing event_type")
	}
}

func TestParseOutboundEnvelope(t *testing.T) {
	envelope := OutboundEnvelope{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     "order.created",
		Payload:       json.RawMessage(`{"number":"ORD-20260828-000001"}`),
		PublishedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseOutboundEnvelope(consumerMessage(value))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.EventType != "order.created" || parsed.AggregateID != "order-123" {
		t.Fatalf("parsed envelope mismatch: %+v", parsed)
	}
	if string(parsed.Payload) != `{"number":"ORD-20260828-000001"}` {
		t.Fatalf("payload must survive round trip, got %s", parsed.Payload)
	}

	if _, err := ParseOutboundEnvelope(consumerMessage([]byte("not json"))); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestParseDLQRecord(t *testing.T) {
	record := DLQRecord{
		OriginalTopic:     TopicOrderEvents,
		OriginalPartition: 1,
		OriginalOffset:    7,
		OriginalKey:       "order-123",
		OriginalValue:     `{"event_type":"order.created"}`,
		ErrorMessage:      "handler failed",
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        3,
	}
	value, err := json.Marshal(record)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseDLQRecord(consumerMessage(value))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.OriginalTopic != TopicOrderEvents || parsed.RetryCount != 3 {
		t.Fatalf("parsed record mismatch: %+v", parsed)
	}
}

func TestConsumer_GetRetryCount(t *testing.T) {
	consumer := &Consumer{logger: log.WithField("component", "kafka-consumer-test")}

	if count := consumer.getRetryCount(consumerMessage(nil)); count != 0 {
		t.Fatalf("expected 0 without header, got %d", count)
	}

	withHeader := consumerMessage(nil, &sarama.RecordHeader{
		Key:   []byte(HeaderRetryCount),
		Value: []byte("5"),
	})
	if count := consumer.getRetryCount(withHeader); count != 5 {
		t.Fatalf("expected 5, got %d", count)
	}

	badHeader := consumerMessage(nil, &sarama.RecordHeader{
		Key:   []byte(HeaderRetryCount),
		Value: []byte("not a number"),
	})
	if count := consumer.getRetryCount(badHeader); count != 0 {
		t.Fatalf("expected 0 for unparseable header, got %d", count)
	}
}

func TestConsumer_HandleMessageWithRetry(t *testing.T) {
	handlerErr := errors.New("handler failed")
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return handlerErr },
		logger:     log.WithField("component", "kafka-consumer-test"),
		maxRetries: 3,
	}

	// Retry ещё не исчерпаны: ошибка возвращается, сообщение будет доставлено снова.
	if err := consumer.handleMessageWithRetry(context.Background(), consumerMessage(nil)); !errors.Is(err, handlerErr) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestConsumer_HandleMessageSendsToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var record DLQRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		if record.OriginalTopic != TopicPaymentEvents || record.ErrorMessage != "handler failed" {
			t.Fatalf("DLQ record mismatch: %+v", record)
		}
		return nil
	})

	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("handler failed") },
		logger:     log.WithField("component", "kafka-consumer-test"),
		maxRetries: 2,
		dlqProducer: &Producer{
			producer: mockProducer,
			logger:   log.WithField("component", "kafka-producer-test"),
		},
	}

	// Счётчик в header равен maxRetries: сообщение уходит в DLQ, ошибка гасится.
	exhausted := consumerMessage([]byte(`{}`), &sarama.RecordHeader{
		Key:   []byte(HeaderRetryCount),
		Value: []byte("2"),
	})
	if err := consumer.handleMessageWithRetry(context.Background(), exhausted); err != nil {
		t.Fatalf("expected nil after DLQ, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
