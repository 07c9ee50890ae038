package domain

import "time"

// HistoryEntry — неизменяемая запись о смене статуса заказа.
// Создаётся исключительно как побочный эффект успешного перехода;
// у записи о создании заказа From == nil.
type HistoryEntry struct {
	ID      string
	OrderID string
	From    *OrderStatus
	To      OrderStatus
	// Actor — кто инициировал переход: customer, system, coordinator, sweeper...
	Actor  string
	Reason string
	// CreatedAt фиксируется в UTC на момент перехода.
	CreatedAt time.Time
}
