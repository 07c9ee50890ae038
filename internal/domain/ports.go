package domain

import "time"

// InventoryRepository — атомарные операции над складской позицией и её резервами.
// Каждый метод, меняющий количества, выполняется как одна транзакция на строку
// позиции (включая запись движения): проверка и изменение не разделимы, поэтому
// два конкурентных Reserve по одному SKU никогда не пробьют пол available.
type InventoryRepository interface {
	// GetOrCreate возвращает существующую позицию или создаёт новую с
	// available = total = item.Total, reserved = 0. Второе значение — true,
	// если позиция была создана этим вызовом (движение initial пишется
	// только при создании).
	GetOrCreate(item InventoryItem) (InventoryItem, bool, error)
	// GetByProduct возвращает позицию по product_id или ErrItemNotFound.
	GetByProduct(productID string) (InventoryItem, error)
	// Adjust атомарно прибавляет delta к available и total.
	// Возвращает ErrInvalidAdjustment, если available ушёл бы в минус.
	Adjust(productID string, delta int64, movement MovementType, reason string) (InventoryItem, error)

	// Reserve атомарно переносит qty из available в reserved и создаёт
	// pending-резерв с дедлайном expiresAt. ErrInsufficientStock при нехватке.
	Reserve(productID string, qty int64, orderID string, expiresAt time.Time) (Reservation, error)
	// Confirm атомарно списывает qty резерва из reserved и total (окончательная
	// продажа). ErrReservationNotPending, если резерв уже терминален.
	Confirm(reservationID string) (Reservation, error)
	// Release атомарно возвращает qty резерва в available и помечает резерв
	// статусом status (released или expired).
	Release(reservationID string, status ReservationStatus) (Reservation, error)

	GetReservation(id string) (Reservation, error)
	// ListPendingByOrder возвращает все pending-резервы заказа.
	ListPendingByOrder(orderID string) ([]Reservation, error)
	// ListExpired возвращает до limit pending-резервов с истёкшим дедлайном.
	ListExpired(before time.Time, limit int) ([]Reservation, error)
	// ListLowStock возвращает позиции с available <= low_stock_threshold.
	ListLowStock() ([]InventoryItem, error)
	// ListMovements возвращает журнал движений позиции, новые первыми.
	ListMovements(productID string, limit int) ([]StockMovement, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxMessage хранит данные публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
