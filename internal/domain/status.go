package domain

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusDraft — заказ собран на checkout, но ещё не отправлен в обработку.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPending — заказ принят, резервирование стока ещё не завершено.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaymentPending — сток зарезервирован, ожидаем исход оплаты.
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	// OrderStatusPaid — оплата подтверждена платёжным провайдером.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusConfirmed — заказ финализирован, резервы превращены в списание.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing — заказ комплектуется на складе.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted — терминальный успешный статус.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён до завершения цикла. Терминальный.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — деньги возвращены клиенту. Терминальный.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusFailed — обработка провалилась (нет стока, оплата отклонена). Терминальный.
	OrderStatusFailed OrderStatus = "failed"
)

// orderTransitions — единственный источник истины о легальных переходах.
// И проверка перехода, и перечисление следующих статусов читают эту таблицу:
// дублирующих кодировок графа в системе нет.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:          {OrderStatusPending, OrderStatusCancelled},
	OrderStatusPending:        {OrderStatusPaymentPending, OrderStatusCancelled},
	OrderStatusPaymentPending: {OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusPaid:           {OrderStatusConfirmed, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusProcessing, OrderStatusRefunded, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:        {OrderStatusDelivered},
	OrderStatusDelivered:      {OrderStatusCompleted, OrderStatusRefunded},
	OrderStatusCompleted:      {},
	OrderStatusCancelled:      {},
	OrderStatusRefunded:       {},
	OrderStatusFailed:         {},
}

// KnownStatus сообщает, входит ли статус в граф жизненного цикла.
func KnownStatus(s OrderStatus) bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransition проверяет, разрешён ли переход from -> to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidTransitions возвращает копию списка легальных следующих статусов.
func ValidTransitions(from OrderStatus) []OrderStatus {
	next := orderTransitions[from]
	result := make([]OrderStatus, len(next))
	copy(result, next)
	return result
}

// IsTerminalStatus сообщает, что из статуса нет исходящих переходов.
func IsTerminalStatus(s OrderStatus) bool {
	return KnownStatus(s) && len(orderTransitions[s]) == 0
}

// EventForTransition возвращает имя доменного события для ребра from -> to.
// Пустая строка означает, что ребро не имеет внешне значимого события
// (например, draft -> pending при первичной подаче заказа).
// Вход в cancelled всегда даёт order.cancelled независимо от исходного статуса.
func EventForTransition(from, to OrderStatus) string {
	_ = from
	switch to {
	case OrderStatusConfirmed:
		return EventOrderConfirmed
	case OrderStatusProcessing:
		return EventOrderProcessing
	case OrderStatusShipped:
		return EventOrderShipped
	case OrderStatusDelivered:
		return EventOrderDelivered
	case OrderStatusCancelled:
		return EventOrderCancelled
	case OrderStatusRefunded:
		return EventOrderRefunded
	default:
		return ""
	}
}
