package domain

import "time"

// OrderFilter задаёт условия выборки заказов для листинга.
type OrderFilter struct {
	// CustomerID фильтрует по владельцу; пустая строка — без фильтра.
	CustomerID string
	// Status фильтрует по статусу; пустое значение — без фильтра.
	Status OrderStatus
	// Limit/Offset — постраничная выборка; Limit <= 0 означает "без ограничения".
	Limit  int
	Offset int
}

// OrderRepository — durable-хранилище агрегата заказа.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями. Возвращает ошибку,
	// если запись с таким ID или Number уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// GetByNumber возвращает заказ по бизнес-номеру или ErrOrderNotFound.
	GetByNumber(number string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(filter OrderFilter) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// при несовпадении версии возвращает ErrOrderVersionConflict.
	Save(order Order) error
	// NextNumber выделяет следующий последовательный номер заказа в пределах дня.
	NextNumber(day time.Time) (string, error)
}

// HistoryRepository хранит append-only историю смен статуса заказа.
type HistoryRepository interface {
	Append(entry HistoryEntry) error
	List(orderID string) ([]HistoryEntry, error)
}
