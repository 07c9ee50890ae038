package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound возвращается, если позиция склада не зарегистрирована.
	ErrItemNotFound = errors.New("inventory item not found")
	// ErrReservationNotFound возвращается, если резерв не найден.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidTransition — попытка перевести заказ по нелегальному ребру графа статусов.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrReservationNotPending — резерв уже в терминальном состоянии, операция невозможна.
	ErrReservationNotPending = errors.New("reservation is not pending")
	// ErrInsufficientStock — доступного остатка не хватает для резервирования.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidAdjustment — корректировка увела бы доступный остаток в минус.
	ErrInvalidAdjustment = errors.New("stock adjustment would drive available negative")

	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStorageConflict — временный конфликт на уровне хранилища; операцию можно повторить.
	ErrStorageConflict = errors.New("storage conflict")

	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one line item")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("line item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("line item price must be non-negative")
	// Ошибка несоответствия итоговой суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order grand total does not match line totals")
	// Ошибка отсутствующего SKU или product_id при регистрации стока.
	ErrProductRequired = errors.New("product reference is required")
	// Ошибка некорректного количества в резерве.
	ErrReservationQtyInvalid = errors.New("reservation qty must be greater than zero")
	// Ошибка нарушения инварианта складской позиции.
	ErrLedgerInvariant = errors.New("inventory invariant violated: available + reserved != total")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNotFound проверяет, относится ли ошибка к семейству not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsConflict проверяет, является ли ошибка конфликтом, который имеет смысл повторить.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrStorageConflict)
}
