package kafka

import (
	"encoding/json"
	"time"
)

// Topics для Kafka
const (
	// TopicOrderEvents — жизненный цикл заказа. Собственный координатор
	// потребляет отсюда order.created и order.cancel_requested; остальные
	// события адресованы внешним подписчикам.
	TopicOrderEvents = "commerce.order.events"
	// TopicInventoryEvents — складские события (reserved/released/low_stock).
	TopicInventoryEvents = "commerce.inventory.events"
	// TopicPaymentEvents — события платёжного сервиса.
	TopicPaymentEvents = "commerce.payment.events"
	// TopicShipmentEvents — события службы доставки.
	TopicShipmentEvents = "commerce.shipment.events"
	// TopicDeadLetterQueue — Dead Letter Queue для failed messages.
	TopicDeadLetterQueue = "commerce.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// InboundEvent — входящее событие, управляющее жизненным циклом заказа.
// Единый конверт для событий заказа, платежей и доставки.
type InboundEvent struct {
	EventType string                 `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Reason    string                 `json:"reason,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// OutboundEnvelope — конверт публикуемого outbox-события.
type OutboundEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewInboundEvent создаёт входящее событие с текущим временем.
func NewInboundEvent(eventType, orderID, reason string, metadata map[string]interface{}) *InboundEvent {
	return &InboundEvent{
		EventType: eventType,
		OrderID:   orderID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}
