package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

// ItemInput — позиция создаваемого заказа.
type ItemInput struct {
	ProductID  string
	SKU        string
	Qty        int32
	PriceMinor int64
	TaxMinor   int64
}

// CreateInput — параметры создания заказа.
type CreateInput struct {
	CustomerID      string
	Currency        string
	Items           []ItemInput
	ShippingAddress domain.Address
	BillingAddress  domain.Address
	ShippingMinor   int64
	DiscountMinor   int64
}

// Service — операции над заказом поверх state machine: создание, чтение,
// запрос перехода, история.
type Service struct {
	orders  domain.OrderRepository
	history domain.HistoryRepository
	outbox  domain.OutboxRepository
	machine *Machine
	logger  *log.Entry
}

// NewService создаёт сервис заказов.
func NewService(orders domain.OrderRepository, history domain.HistoryRepository, outbox domain.OutboxRepository, machine *Machine) *Service {
	return &Service{
		orders:  orders,
		history: history,
		outbox:  outbox,
		machine: machine,
		logger:  log.WithField("component", "order-service"),
	}
}

// Create собирает и сохраняет новый заказ в статусе draft, пишет запись
// истории о создании (From == nil) и ставит order.created в outbox —
// с него координатор начинает резервирование стока.
func (s *Service) Create(input CreateInput) (domain.Order, error) {
	now := time.Now().UTC()

	order := domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      input.CustomerID,
		Status:          domain.OrderStatusDraft,
		Currency:        input.Currency,
		ShippingMinor:   input.ShippingMinor,
		DiscountMinor:   input.DiscountMinor,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	order.Items = make([]domain.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  item.ProductID,
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
			TaxMinor:   item.TaxMinor,
			CreatedAt:  now,
		})
	}
	order.RecalculateTotals()

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("order validation failed: %w", errors.Join(errs...))
	}

	number, err := s.orders.NextNumber(now)
	if err != nil {
		return domain.Order{}, err
	}
	order.Number = number

	if err := s.orders.Create(order); err != nil {
		return domain.Order{}, err
	}

	if err := s.history.Append(domain.HistoryEntry{
		OrderID:   order.ID,
		From:      nil,
		To:        order.Status,
		Actor:     "customer",
		Reason:    "order created",
		CreatedAt: now,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("append creation history for order %s: %w", order.ID, err)
	}

	payload, err := json.Marshal(orderEventPayload{
		OrderID:    order.ID,
		Number:     order.Number,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		TotalMinor: order.TotalMinor,
		Currency:   order.Currency,
		OccurredAt: now,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("marshal order.created payload: %w", err)
	}
	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventOrderCreated,
		Payload:       payload,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("enqueue order.created for order %s: %w", order.ID, err)
	}

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"number":      order.Number,
		"customer_id": order.CustomerID,
		"total_minor": order.TotalMinor,
		"items":       len(order.Items),
	}).Info("order created")

	return order, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(orderID string) (domain.Order, error) {
	return s.orders.Get(orderID)
}

// GetByNumber возвращает заказ по бизнес-номеру.
func (s *Service) GetByNumber(number string) (domain.Order, error) {
	return s.orders.GetByNumber(number)
}

// List возвращает заказы по фильтру, новые первыми.
func (s *Service) List(filter domain.OrderFilter) ([]domain.Order, error) {
	return s.orders.List(filter)
}

// RequestTransition переводит заказ в новый статус через state machine.
func (s *Service) RequestTransition(orderID string, to domain.OrderStatus, actor, reason string) (domain.Order, error) {
	if !domain.KnownStatus(to) {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, to)
	}
	return s.machine.Transition(orderID, to, actor, reason)
}

// History возвращает историю смен статуса заказа в хронологическом порядке.
func (s *Service) History(orderID string) ([]domain.HistoryEntry, error) {
	if _, err := s.orders.Get(orderID); err != nil {
		return nil, err
	}
	return s.history.List(orderID)
}

// NextStatuses возвращает легальные следующие статусы заказа.
func (s *Service) NextStatuses(orderID string) ([]domain.OrderStatus, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	return domain.ValidTransitions(order.Status), nil
}
