package domain

// Имена доменных событий. Контракт с внешними потребителями и продюсерами:
// менять значения нельзя без миграции всех подписчиков.
const (
	// Входящие события (консюмер координатора).
	EventOrderCreated       = "order.created"
	EventPaymentSucceeded   = "payment.succeeded"
	EventPaymentFailed      = "payment.failed"
	EventCancelRequested    = "order.cancel_requested"
	EventShipmentDispatched = "shipment.dispatched"
	EventShipmentDelivered  = "shipment.delivered"

	// Исходящие события заказа.
	EventOrderConfirmed  = "order.confirmed"
	EventOrderProcessing = "order.processing"
	EventOrderShipped    = "order.shipped"
	EventOrderDelivered  = "order.delivered"
	EventOrderCancelled  = "order.cancelled"
	EventOrderRefunded   = "order.refunded"

	// Исходящие события склада.
	EventInventoryReserved = "inventory.reserved"
	EventInventoryReleased = "inventory.released"
	EventInventoryLowStock = "inventory.low_stock"
)

// Типы агрегатов для transactional outbox: по ним публикатор выбирает topic.
const (
	AggregateOrder     = "order"
	AggregateInventory = "inventory"
)
