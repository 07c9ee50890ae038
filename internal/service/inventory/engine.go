package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/metrics"
)

const (
	defaultReservationTTL = 30 * time.Minute
	conflictMaxAttempts   = 3
	conflictRetryDelay    = 50 * time.Millisecond
)

// ReserveLine — одна строка запроса на резервирование.
type ReserveLine struct {
	ProductID string
	Qty       int64
}

// Engine управляет жизненным циклом резервов: постановка, подтверждение,
// снятие. Атомарность check-and-decrement обеспечивает репозиторий; Engine
// добавляет TTL, компенсацию частичных отказов, события и метрики.
type Engine struct {
	repo    domain.InventoryRepository
	outbox  domain.OutboxRepository
	metrics *metrics.CommerceMetrics
	ttl     time.Duration
	logger  *log.Entry
}

// EngineOption настраивает Engine.
type EngineOption func(*Engine)

// WithReservationTTL задаёт срок жизни pending-резерва.
func WithReservationTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithEngineMetrics подключает Prometheus-метрики склада.
func WithEngineMetrics(m *metrics.CommerceMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine создаёт движок резервирования.
func NewEngine(repo domain.InventoryRepository, outbox domain.OutboxRepository, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:   repo,
		outbox: outbox,
		ttl:    defaultReservationTTL,
		logger: log.WithField("component", "reservation-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reserve удерживает qty товара под заказ и ставит inventory.reserved в outbox.
func (e *Engine) Reserve(productID string, qty int64, orderID string) (domain.Reservation, error) {
	if qty <= 0 {
		return domain.Reservation{}, domain.ErrReservationQtyInvalid
	}

	started := time.Now()
	expiresAt := started.UTC().Add(e.ttl)

	res, err := e.withConflictRetry(func() (domain.Reservation, error) {
		return e.repo.Reserve(productID, qty, orderID, expiresAt)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			if e.metrics != nil {
				e.metrics.RecordReservationDenied()
			}
			e.logger.WithFields(log.Fields{
				"product_id": productID,
				"order_id":   orderID,
				"qty":        qty,
			}).Warn("reservation denied: insufficient stock")
		}
		return domain.Reservation{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordReservation()
		e.metrics.RecordReservationDuration(time.Since(started))
	}

	e.enqueueReservationEvent(domain.EventInventoryReserved, res)

	e.logger.WithFields(log.Fields{
		"reservation_id": res.ID,
		"product_id":     res.ProductID,
		"order_id":       res.OrderID,
		"qty":            res.Qty,
		"expires_at":     res.ExpiresAt,
	}).Info("stock reserved")

	return res, nil
}

// ReserveAll резервирует все строки заказа. При отказе любой строки уже
// поставленные резервы снимаются, чтобы не оставить сток удержанным под
// заказ, который не состоится. Ошибка называет отказавший SKU.
func (e *Engine) ReserveAll(orderID string, lines []ReserveLine) ([]domain.Reservation, error) {
	placed := make([]domain.Reservation, 0, len(lines))

	for _, line := range lines {
		res, err := e.Reserve(line.ProductID, line.Qty, orderID)
		if err != nil {
			e.compensate(placed)
			sku := line.ProductID
			if item, lookupErr := e.repo.GetByProduct(line.ProductID); lookupErr == nil {
				sku = item.SKU
			}
			if errors.Is(err, domain.ErrInsufficientStock) {
				// Текст попадает в историю заказа как причина отказа.
				return nil, fmt.Errorf("%w for %s", domain.ErrInsufficientStock, sku)
			}
			return nil, fmt.Errorf("reserve %s for order %s: %w", sku, orderID, err)
		}
		placed = append(placed, res)
	}

	return placed, nil
}

// Confirm превращает pending-резерв в окончательное списание.
func (e *Engine) Confirm(reservationID string) (domain.Reservation, error) {
	res, err := e.withConflictRetry(func() (domain.Reservation, error) {
		return e.repo.Confirm(reservationID)
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordConfirmation()
	}
	e.logger.WithFields(log.Fields{
		"reservation_id": res.ID,
		"product_id":     res.ProductID,
		"order_id":       res.OrderID,
		"qty":            res.Qty,
	}).Info("reservation confirmed")

	return res, nil
}

// ConfirmOrder подтверждает все pending-резервы заказа.
func (e *Engine) ConfirmOrder(orderID string) error {
	pending, err := e.repo.ListPendingByOrder(orderID)
	if err != nil {
		return err
	}

	for _, res := range pending {
		if _, err := e.Confirm(res.ID); err != nil {
			// Гонка со sweeper'ом или повторная доставка события: резерв уже
			// закрыт, остальные всё равно нужно подтвердить.
			if errors.Is(err, domain.ErrReservationNotPending) {
				continue
			}
			return fmt.Errorf("confirm reservation %s for order %s: %w", res.ID, orderID, err)
		}
	}

	return nil
}

// Release снимает pending-резерв и ставит inventory.released в outbox.
// status задаёт терминальное состояние: released или expired.
func (e *Engine) Release(reservationID string, status domain.ReservationStatus) (domain.Reservation, error) {
	res, err := e.withConflictRetry(func() (domain.Reservation, error) {
		return e.repo.Release(reservationID, status)
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordRelease(string(res.Status))
	}

	e.enqueueReservationEvent(domain.EventInventoryReleased, res)

	e.logger.WithFields(log.Fields{
		"reservation_id": res.ID,
		"product_id":     res.ProductID,
		"order_id":       res.OrderID,
		"qty":            res.Qty,
		"status":         res.Status,
	}).Info("reservation released")

	return res, nil
}

// ReleaseOrder снимает все pending-резервы заказа.
func (e *Engine) ReleaseOrder(orderID string, status domain.ReservationStatus) error {
	pending, err := e.repo.ListPendingByOrder(orderID)
	if err != nil {
		return err
	}

	for _, res := range pending {
		if _, err := e.Release(res.ID, status); err != nil {
			if errors.Is(err, domain.ErrReservationNotPending) {
				continue
			}
			return fmt.Errorf("release reservation %s for order %s: %w", res.ID, orderID, err)
		}
	}

	return nil
}

// GetReservation возвращает резерв по идентификатору.
func (e *Engine) GetReservation(id string) (domain.Reservation, error) {
	return e.repo.GetReservation(id)
}

// ListPendingByOrder возвращает pending-резервы заказа.
func (e *Engine) ListPendingByOrder(orderID string) ([]domain.Reservation, error) {
	return e.repo.ListPendingByOrder(orderID)
}

// ListExpiredReservations возвращает до limit pending-резервов с истёкшим дедлайном.
func (e *Engine) ListExpiredReservations(before time.Time, limit int) ([]domain.Reservation, error) {
	return e.repo.ListExpired(before, limit)
}

// compensate снимает резервы, поставленные до отказавшей строки.
func (e *Engine) compensate(placed []domain.Reservation) {
	for _, res := range placed {
		if _, err := e.Release(res.ID, domain.ReservationStatusReleased); err != nil {
			// Резерв останется pending и будет снят sweeper'ом по TTL.
			e.logger.WithError(err).WithField("reservation_id", res.ID).
				Warn("failed to compensate reservation, sweeper will expire it")
		}
	}
}

// withConflictRetry повторяет операцию при временном конфликте хранилища.
func (e *Engine) withConflictRetry(fn func() (domain.Reservation, error)) (domain.Reservation, error) {
	var lastErr error
	for attempt := 1; attempt <= conflictMaxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrStorageConflict) {
			return domain.Reservation{}, err
		}
		lastErr = err
		if attempt < conflictMaxAttempts {
			time.Sleep(conflictRetryDelay * time.Duration(attempt))
		}
	}
	return domain.Reservation{}, lastErr
}

func (e *Engine) enqueueReservationEvent(eventType string, res domain.Reservation) {
	payload, err := json.Marshal(reservationPayload{
		ReservationID: res.ID,
		OrderID:       res.OrderID,
		ProductID:     res.ProductID,
		SKU:           res.SKU,
		Qty:           res.Qty,
		Status:        string(res.Status),
		ExpiresAt:     res.ExpiresAt,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		e.logger.WithError(err).WithField("reservation_id", res.ID).Warn("failed to marshal reservation event")
		return
	}

	if _, err := e.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateInventory,
		AggregateID:   res.ProductID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"reservation_id": res.ID,
			"event_type":     eventType,
		}).Warn("failed to enqueue reservation event")
	}
}

type reservationPayload struct {
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id,omitempty"`
	ProductID     string    `json:"product_id"`
	SKU           string    `json:"sku"`
	Qty           int64     `json:"qty"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	OccurredAt    time.Time `json:"occurred_at"`
}
