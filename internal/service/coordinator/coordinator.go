package coordinator

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/inventory"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/order"
)

const actorCoordinator = "coordinator"

// Coordinator связывает state machine заказа и движок резервирования:
// подписан на входящие доменные события и ведёт заказ по двухфазной
// последовательности (резерв -> оплата -> списание) с компенсирующим
// снятием резервов при частичном отказе. Это best-effort saga, не
// распределённая транзакция: неудавшаяся компенсация остаётся pending
// и добирается sweeper'ом по TTL.
type Coordinator struct {
	orders  domain.OrderRepository
	machine *order.Machine
	engine  *inventory.Engine
	logger  *log.Entry
}

// New создаёт координатор.
func New(orders domain.OrderRepository, machine *order.Machine, engine *inventory.Engine) *Coordinator {
	return &Coordinator{
		orders:  orders,
		machine: machine,
		engine:  engine,
		logger:  log.WithField("component", "coordinator"),
	}
}

// Handle обрабатывает входящее доменное событие. Ошибка означает, что
// обработку имеет смысл повторить; событие по нелегальному для текущего
// статуса ребру логируется и считается обработанным — повторная доставка
// того же события не должна зацикливать consumer.
func (c *Coordinator) Handle(eventType, orderID, reason string) error {
	logger := c.logger.WithFields(log.Fields{
		"event_type": eventType,
		"order_id":   orderID,
	})

	var err error
	switch eventType {
	case domain.EventOrderCreated:
		err = c.handleOrderCreated(orderID)
	case domain.EventPaymentSucceeded:
		err = c.handlePaymentSucceeded(orderID, reason)
	case domain.EventPaymentFailed:
		err = c.handlePaymentFailed(orderID, reason)
	case domain.EventCancelRequested:
		err = c.handleCancelRequested(orderID, reason)
	case domain.EventShipmentDispatched:
		err = c.handleShipmentDispatched(orderID, reason)
	case domain.EventShipmentDelivered:
		_, err = c.machine.Transition(orderID, domain.OrderStatusDelivered, actorCoordinator, reason)
	default:
		logger.Debug("event is not handled by coordinator, skipping")
		return nil
	}

	if errors.Is(err, domain.ErrInvalidTransition) {
		logger.WithError(err).Warn("event arrived for incompatible order status, dropping")
		return nil
	}
	if err != nil {
		logger.WithError(err).Error("event handling failed")
		return err
	}

	return nil
}

// handleOrderCreated запускает первую фазу saga: принимает заказ и
// резервирует сток по всем позициям. При нехватке стока заказ уводится
// в failed по легальному пути pending -> payment_pending -> failed,
// уже поставленные резервы снимаются.
func (c *Coordinator) handleOrderCreated(orderID string) error {
	ord, err := c.orders.Get(orderID)
	if err != nil {
		return err
	}

	if ord.Status == domain.OrderStatusDraft {
		if _, err := c.machine.Transition(orderID, domain.OrderStatusPending, actorCoordinator, "order submitted"); err != nil {
			return err
		}
	} else if ord.Status != domain.OrderStatusPending {
		// Повторная доставка события: заказ уже ушёл дальше по циклу.
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, orderID, ord.Status)
	}

	lines := make([]inventory.ReserveLine, 0, len(ord.Items))
	for _, item := range ord.Items {
		lines = append(lines, inventory.ReserveLine{
			ProductID: item.ProductID,
			Qty:       int64(item.Qty),
		})
	}

	if _, err := c.engine.ReserveAll(orderID, lines); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			// err.Error() имеет вид "insufficient stock for <sku>".
			return c.failOrder(orderID, err.Error())
		}
		return err
	}

	if _, err := c.machine.Transition(orderID, domain.OrderStatusPaymentPending, actorCoordinator, "stock reserved"); err != nil {
		return err
	}

	return nil
}

// failOrder уводит заказ из pending в failed. Прямого ребра pending -> failed
// в графе нет, поэтому заказ проходит через payment_pending; обе записи
// попадают в историю.
func (c *Coordinator) failOrder(orderID, reason string) error {
	if _, err := c.machine.Transition(orderID, domain.OrderStatusPaymentPending, actorCoordinator, reason); err != nil {
		return err
	}
	if _, err := c.machine.Transition(orderID, domain.OrderStatusFailed, actorCoordinator, reason); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) handlePaymentSucceeded(orderID, reason string) error {
	if reason == "" {
		reason = "payment confirmed"
	}
	if _, err := c.machine.Transition(orderID, domain.OrderStatusPaid, actorCoordinator, reason); err != nil {
		return err
	}

	if err := c.engine.ConfirmOrder(orderID); err != nil {
		// Заказ оплачен, но списание не прошло: оставляем paid, событие
		// будет доставлено повторно и подтверждение продолжится с того же
		// места (уже закрытые резервы пропускаются).
		return fmt.Errorf("commit reservations for order %s: %w", orderID, err)
	}

	if _, err := c.machine.Transition(orderID, domain.OrderStatusConfirmed, actorCoordinator, "reservations committed"); err != nil {
		return err
	}

	return nil
}

func (c *Coordinator) handlePaymentFailed(orderID, reason string) error {
	if reason == "" {
		reason = "payment failed"
	}
	if _, err := c.machine.Transition(orderID, domain.OrderStatusFailed, actorCoordinator, reason); err != nil {
		return err
	}
	return c.engine.ReleaseOrder(orderID, domain.ReservationStatusReleased)
}

func (c *Coordinator) handleCancelRequested(orderID, reason string) error {
	if reason == "" {
		reason = "cancel requested"
	}
	if _, err := c.machine.Transition(orderID, domain.OrderStatusCancelled, actorCoordinator, reason); err != nil {
		return err
	}
	// Снимаются только pending-резервы: подтверждённые списания требуют
	// refund-процесса, а не отмены.
	return c.engine.ReleaseOrder(orderID, domain.ReservationStatusReleased)
}

// handleShipmentDispatched переводит заказ в shipped. Если склад ещё не
// отметил комплектацию (заказ в confirmed), проходим через processing.
func (c *Coordinator) handleShipmentDispatched(orderID, reason string) error {
	ord, err := c.orders.Get(orderID)
	if err != nil {
		return err
	}

	if ord.Status == domain.OrderStatusConfirmed {
		if _, err := c.machine.Transition(orderID, domain.OrderStatusProcessing, actorCoordinator, "fulfillment started"); err != nil {
			return err
		}
	}

	if _, err := c.machine.Transition(orderID, domain.OrderStatusShipped, actorCoordinator, reason); err != nil {
		return err
	}

	return nil
}
