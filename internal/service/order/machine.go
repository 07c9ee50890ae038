package order

import (
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/metrics"
)

// RetryConfig управляет повтором при конфликте optimistic locking.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Machine — единственная точка смены статуса заказа. Никакой другой код
// не пишет в Order.Status: каждый переход проверяется по таблице графа,
// пишет запись истории и ставит доменное событие в outbox.
type Machine struct {
	orders  domain.OrderRepository
	history domain.HistoryRepository
	outbox  domain.OutboxRepository
	metrics *metrics.CommerceMetrics
	retry   RetryConfig
	logger  *log.Entry
}

// MachineOption настраивает Machine.
type MachineOption func(*Machine)

// WithRetryConfig переопределяет политику повторов при конфликте версий.
func WithRetryConfig(cfg RetryConfig) MachineOption {
	return func(m *Machine) {
		if cfg.MaxAttempts > 0 {
			m.retry = cfg
		}
	}
}

// WithMachineMetrics подключает Prometheus-метрики переходов.
func WithMachineMetrics(metrics *metrics.CommerceMetrics) MachineOption {
	return func(m *Machine) {
		m.metrics = metrics
	}
}

// NewMachine создаёт state machine заказа.
func NewMachine(orders domain.OrderRepository, history domain.HistoryRepository, outbox domain.OutboxRepository, opts ...MachineOption) *Machine {
	m := &Machine{
		orders:  orders,
		history: history,
		outbox:  outbox,
		retry:   DefaultRetryConfig(),
		logger:  log.WithField("component", "order-machine"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transition переводит заказ в статус to. Переход по нелегальному ребру
// возвращает ErrInvalidTransition и не меняет заказ. При конфликте версий
// заказ перечитывается и переход повторяется с экспоненциальной задержкой:
// конкурентное обновление могло быть совместимым (другое поле), а могло
// уже увести заказ из исходного статуса.
func (m *Machine) Transition(orderID string, to domain.OrderStatus, actor, reason string) (domain.Order, error) {
	started := time.Now()

	var (
		lastErr error
		delay   = m.retry.InitialDelay
	)
	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		order, err := m.transitionOnce(orderID, to, actor, reason)
		if err == nil {
			if attempt > 1 {
				m.logger.WithFields(log.Fields{
					"order_id": orderID,
					"to":       to,
					"attempt":  attempt,
				}).Info("transition succeeded after retry")
			}
			if m.metrics != nil {
				m.metrics.RecordTransition(string(to))
				m.metrics.RecordTransitionDuration(time.Since(started))
			}
			return order, nil
		}

		lastErr = err
		if !domain.IsConflict(err) {
			if m.metrics != nil {
				m.metrics.RecordTransitionDenied()
			}
			return domain.Order{}, err
		}

		if m.metrics != nil {
			m.metrics.RecordVersionConflict()
		}
		if attempt < m.retry.MaxAttempts {
			m.logger.WithFields(log.Fields{
				"order_id": orderID,
				"to":       to,
				"attempt":  attempt,
				"delay":    delay,
			}).Warn("version conflict on transition, retrying")

			time.Sleep(delay)
			delay = time.Duration(float64(delay) * m.retry.BackoffFactor)
			if delay > m.retry.MaxDelay {
				delay = m.retry.MaxDelay
			}
		}
	}

	m.logger.WithFields(log.Fields{
		"order_id":     orderID,
		"to":           to,
		"max_attempts": m.retry.MaxAttempts,
	}).WithError(lastErr).Error("transition failed after all retry attempts")

	return domain.Order{}, lastErr
}

func (m *Machine) transitionOnce(orderID string, to domain.OrderStatus, actor, reason string) (domain.Order, error) {
	order, err := m.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	from := order.Status
	if !domain.CanTransition(from, to) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	order.Status = to
	order.UpdatedAt = now
	stampLifecycle(&order, to, now)

	if err := m.orders.Save(order); err != nil {
		return domain.Order{}, err
	}
	// Save увеличил версию в хранилище; локальная копия отражает это.
	order.Version++

	if err := m.history.Append(domain.HistoryEntry{
		OrderID:   order.ID,
		From:      &from,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: now,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("append history for order %s: %w", order.ID, err)
	}

	if eventType := domain.EventForTransition(from, to); eventType != "" {
		if err := m.enqueueEvent(order, eventType, reason); err != nil {
			return domain.Order{}, err
		}
	}

	m.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"number":   order.Number,
		"from":     from,
		"to":       to,
		"actor":    actor,
	}).Info("order status changed")

	return order, nil
}

func (m *Machine) enqueueEvent(order domain.Order, eventType, reason string) error {
	payload, err := json.Marshal(orderEventPayload{
		OrderID:    order.ID,
		Number:     order.Number,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		TotalMinor: order.TotalMinor,
		Currency:   order.Currency,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal order event payload: %w", err)
	}

	if _, err := m.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s for order %s: %w", eventType, order.ID, err)
	}

	return nil
}

// orderEventPayload — содержимое исходящего события заказа.
type orderEventPayload struct {
	OrderID    string    `json:"order_id"`
	Number     string    `json:"number"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status"`
	TotalMinor int64     `json:"total_minor"`
	Currency   string    `json:"currency"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// stampLifecycle проставляет таймстемп входа в статус. Повторного входа в
// один статус граф не допускает, поэтому перезапись невозможна.
func stampLifecycle(order *domain.Order, to domain.OrderStatus, now time.Time) {
	switch to {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	}
}
