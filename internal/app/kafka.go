package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/messaging/kafka"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/coordinator"
)

// logPublisher — fallback-публикатор для запуска без Kafka: события outbox
// пишутся в лог и считаются доставленными. Используется только в локальной
// разработке с in-memory хранилищем.
type logPublisher struct {
	logger *log.Entry
}

func newLogPublisher(logger *log.Entry) domain.OutboxPublisher {
	return &logPublisher{logger: logger.WithField("component", "log-publisher")}
}

func (p *logPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	}).Info("outbox event (kafka disabled)")
	return nil
}

var _ domain.OutboxPublisher = (*logPublisher)(nil)

// newKafkaPublisher оборачивает producer в публикатор outbox-сообщений.
func newKafkaPublisher(producer *kafka.Producer) domain.OutboxPublisher {
	return kafka.NewOutboxPublisher(producer)
}

// newCoordinatorHandler адаптирует сообщения Kafka к координатору.
// События заказа приходят в конверте outbox (их публикует наш же worker
// или внешний инициатор отмены), события платежей и доставки — в плоском
// формате InboundEvent.
func newCoordinatorHandler(coord *coordinator.Coordinator) kafka.MessageHandler {
	return func(_ context.Context, message *sarama.ConsumerMessage) error {
		switch message.Topic {
		case kafka.TopicOrderEvents:
			envelope, err := kafka.ParseOutboundEnvelope(message)
			if err != nil {
				return err
			}
			switch envelope.EventType {
			case domain.EventOrderCreated:
				return coord.Handle(envelope.EventType, envelope.AggregateID, "")
			case domain.EventCancelRequested:
				return coord.Handle(envelope.EventType, envelope.AggregateID, cancelReason(envelope.Payload))
			default:
				// Остальные события заказа адресованы внешним подписчикам.
				return nil
			}

		case kafka.TopicPaymentEvents, kafka.TopicShipmentEvents:
			event, err := kafka.ParseInboundEvent(message)
			if err != nil {
				return err
			}
			return coord.Handle(event.EventType, event.OrderID, event.Reason)

		default:
			return fmt.Errorf("unexpected topic %s", message.Topic)
		}
	}
}

// cancelReason достаёт причину отмены из payload события, если инициатор
// её указал.
func cancelReason(payload []byte) string {
	var body struct {
		Reason string `json:"reason"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &body) != nil {
		return ""
	}
	return body.Reason
}

// initKafka создаёт producer и consumer координатора. Возвращает nil-пары,
// если брокеры не сконфигурированы.
func initKafka(cfg Config, coord *coordinator.Coordinator, logger *log.Entry) (*kafka.Producer, *kafka.Consumer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("kafka brokers are not configured, running without broker")
		return nil, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.KafkaBrokers,
		cfg.KafkaGroupID,
		[]string{kafka.TopicOrderEvents, kafka.TopicPaymentEvents, kafka.TopicShipmentEvents},
		newCoordinatorHandler(coord),
		producer,
		3,
	)
	if err != nil {
		_ = producer.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka initialized")
	return producer, consumer, nil
}
