package coordinator_test

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/coordinator"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/inventory"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/order"
	"github.com/DarkDragonEl/commerce-sub000/internal/storage/memory"
)

// CoordinatorTestSuite прогоняет saga координатора на in-memory хранилище.
type CoordinatorTestSuite struct {
	suite.Suite
	orders    domain.OrderRepository
	history   domain.HistoryRepository
	inventory domain.InventoryRepository
	service   *order.Service
	engine    *inventory.Engine
	ledger    *inventory.Ledger
	coord     *coordinator.Coordinator
}

func (s *CoordinatorTestSuite) SetupTest() {
	log.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах

	s.orders = memory.NewOrderRepository()
	s.history = memory.NewHistoryRepository()
	s.inventory = memory.NewInventoryRepository()
	outbox := memory.NewOutboxRepository()

	machine := order.NewMachine(s.orders, s.history, outbox)
	s.service = order.NewService(s.orders, s.history, outbox, machine)
	s.engine = inventory.NewEngine(s.inventory, outbox, inventory.WithReservationTTL(time.Hour))
	s.ledger = inventory.NewLedger(s.inventory, outbox, nil)
	s.coord = coordinator.New(s.orders, machine, s.engine)
}

func (s *CoordinatorTestSuite) registerStock(productID string, total int64) {
	_, _, err := s.ledger.RegisterItem(inventory.RegisterInput{
		ProductID: productID,
		SKU:       "SKU-" + productID,
		Total:     total,
	})
	require.NoError(s.T(), err)
}

func (s *CoordinatorTestSuite) createOrder(items ...order.ItemInput) domain.Order {
	created, err := s.service.Create(order.CreateInput{
		CustomerID: "customer-1",
		Currency:   "RUB",
		Items:      items,
	})
	require.NoError(s.T(), err)
	return created
}

func (s *CoordinatorTestSuite) requireStatus(orderID string, status domain.OrderStatus) domain.Order {
	ord, err := s.orders.Get(orderID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), status, ord.Status)
	return ord
}

func (s *CoordinatorTestSuite) requireCounts(productID string, available, reserved, total int64) {
	item, err := s.inventory.GetByProduct(productID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), available, item.Available, "available")
	require.Equal(s.T(), reserved, item.Reserved, "reserved")
	require.Equal(s.T(), total, item.Total, "total")
	require.NoError(s.T(), item.CheckInvariant())
}

func (s *CoordinatorTestSuite) TestOrderCreatedReservesStock() {
	s.registerStock("prod-1", 10)
	s.registerStock("prod-2", 5)
	created := s.createOrder(
		order.ItemInput{ProductID: "prod-1", SKU: "SKU-prod-1", Qty: 3, PriceMinor: 100000},
		order.ItemInput{ProductID: "prod-2", SKU: "SKU-prod-2", Qty: 2, PriceMinor: 50000},
	)

	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))

	s.requireStatus(created.ID, domain.OrderStatusPaymentPending)
	s.requireCounts("prod-1", 7, 3, 10)
	s.requireCounts("prod-2", 3, 2, 5)

	pending, err := s.engine.ListPendingByOrder(created.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), pending, 2)

	// История: created -> pending -> payment_pending.
	entries, err := s.history.List(created.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), entries, 3)
	require.Equal(s.T(), "stock reserved", entries[2].Reason)
	require.Equal(s.T(), "coordinator", entries[2].Actor)
}

func (s *CoordinatorTestSuite) TestOrderCreatedInsufficientStock() {
	s.registerStock("prod-1", 10)
	s.registerStock("prod-2", 1)
	created := s.createOrder(
		order.ItemInput{ProductID: "prod-1", SKU: "SKU-prod-1", Qty: 3, PriceMinor: 100000},
		order.ItemInput{ProductID: "prod-2", SKU: "SKU-prod-2", Qty: 5, PriceMinor: 50000},
	)

	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))

	s.requireStatus(created.ID, domain.OrderStatusFailed)
	// Компенсация сняла резерв первой строки.
	s.requireCounts("prod-1", 10, 0, 10)
	s.requireCounts("prod-2", 1, 0, 1)

	pending, err := s.engine.ListPendingByOrder(created.ID)
	require.NoError(s.T(), err)
	require.Empty(s.T(), pending)

	// Причина отказа называет SKU и попадает в обе записи пути в failed.
	entries, err := s.history.List(created.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), entries, 4) // created, pending, payment_pending, failed
	require.Equal(s.T(), "insufficient stock for SKU-prod-2", entries[2].Reason)
	require.Equal(s.T(), "insufficient stock for SKU-prod-2", entries[3].Reason)
	require.Equal(s.T(), domain.OrderStatusFailed, entries[3].To)
}

func (s *CoordinatorTestSuite) TestOrderCreatedRedelivery() {
	s.registerStock("prod-1", 10)
	created := s.createOrder(order.ItemInput{ProductID: "prod-1", SKU: "SKU-prod-1", Qty: 3, PriceMinor: 100000})

	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))
	// Повторная доставка: заказ уже в payment_pending, событие дропается без ошибки.
	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))

	s.requireStatus(created.ID, domain.OrderStatusPaymentPending)
	// Сток не резервируется второй раз.
	s.requireCounts("prod-1", 7, 3, 10)
}

func (s *CoordinatorTestSuite) TestPaymentSucceededCommitsReservations() {
	s.registerStock("prod-1", 10)
	created := s.createOrder(order.ItemInput{ProductID: "prod-1", SKU: "SKU-prod-1", Qty: 4, PriceMinor: 100000})
	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))

	require.NoError(s.T(), s.coord.Handle(domain.EventPaymentSucceeded, created.ID, ""))

	ord := s.requireStatus(created.ID, domain.OrderStatusConfirmed)
	require.NotNil(s.T(), ord.PaidAt)
	require.NotNil(s.T(), ord.ConfirmedAt)

	// Резерв превращён в окончательное списание.
	s.requireCounts("prod-1", 6, 0, 6)

	pending, err := s.engine.ListPendingByOrder(created.ID)
	require.NoError(s.T(), err)
	require.Empty(s.T(), pending)
}

func (s *CoordinatorTestSuite) TestPaymentFailedReleasesStock() {
	s.registerStock("prod-1", 10)
	created := s.createOrder(order.ItemInput{ProductID: "prod-1", SKU: "SKU-prod-1", Qty: 4, PriceMinor: 100000})
	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))

	require.NoError(s.T(), s.coord.Handle(domain.EventPaymentFailed, created.ID, "card declined"))

	s.requireStatus(created.ID, domain.OrderStatusFailed)
	s.requireCounts("prod-1", 10, 0, 10)

	entries, err := s.history.List(created.ID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), "card declined", entries[len(entries)-1].Reason)
}

func (s *CoordinatorTestSuite) TestCancelRequestedReleasesStock() {
	s.registerStock("prod-1", 10)
	created := s.createOrder(order.ItemInput{ProductID: "prod-1", SKU: "SKU-prod-1", Qty: 4, PriceMinor: 100000})
	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))

	require.NoError(s.T(), s.coord.Handle(domain.EventCancelRequested, created.ID, ""))

	ord := s.requireStatus(created.ID, domain.OrderStatusCancelled)
	require.NotNil(s.T(), ord.CancelledAt)
	s.requireCounts("prod-1", 10, 0, 10)

	// Повторная отмена терминального заказа дропается, consumer не зацикливается.
	require.NoError(s.T(), s.coord.Handle(domain.EventCancelRequested, created.ID, ""))
	s.requireStatus(created.ID, domain.OrderStatusCancelled)
}

func (s *CoordinatorTestSuite) TestShipmentFlow() {
	s.registerStock("prod-1", 10)
	created := s.createOrder(order.ItemInput{ProductID: "prod-1", SKU: "SKU-prod-1", Qty: 2, PriceMinor: 100000})
	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))
	require.NoError(s.T(), s.coord.Handle(domain.EventPaymentSucceeded, created.ID, ""))

	// Заказ в confirmed: dispatch проводит его через processing в shipped.
	require.NoError(s.T(), s.coord.Handle(domain.EventShipmentDispatched, created.ID, "courier picked up"))
	ord := s.requireStatus(created.ID, domain.OrderStatusShipped)
	require.NotNil(s.T(), ord.ShippedAt)

	require.NoError(s.T(), s.coord.Handle(domain.EventShipmentDelivered, created.ID, ""))
	ord = s.requireStatus(created.ID, domain.OrderStatusDelivered)
	require.NotNil(s.T(), ord.DeliveredAt)
}

func (s *CoordinatorTestSuite) TestUnknownEventIgnored() {
	require.NoError(s.T(), s.coord.Handle("unknown.event", "order-1", ""))
}

func (s *CoordinatorTestSuite) TestMissingOrderIsRetryable() {
	require.Error(s.T(), s.coord.Handle(domain.EventOrderCreated, "missing", ""))
}

func (s *CoordinatorTestSuite) TestFullLifecycle() {
	s.registerStock("prod-1", 10)
	created := s.createOrder(order.ItemInput{ProductID: "prod-1", SKU: "SKU-prod-1", Qty: 3, PriceMinor: 200000})

	require.NoError(s.T(), s.coord.Handle(domain.EventOrderCreated, created.ID, ""))
	require.NoError(s.T(), s.coord.Handle(domain.EventPaymentSucceeded, created.ID, ""))
	require.NoError(s.T(), s.coord.Handle(domain.EventShipmentDispatched, created.ID, ""))
	require.NoError(s.T(), s.coord.Handle(domain.EventShipmentDelivered, created.ID, ""))

	s.requireStatus(created.ID, domain.OrderStatusDelivered)
	s.requireCounts("prod-1", 7, 0, 7)

	// Полная история: created + 7 переходов.
	entries, err := s.history.List(created.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), entries, 8)
	statuses := make([]domain.OrderStatus, 0, len(entries))
	for _, entry := range entries {
		statuses = append(statuses, entry.To)
	}
	require.Equal(s.T(), []domain.OrderStatus{
		domain.OrderStatusDraft,
		domain.OrderStatusPending,
		domain.OrderStatusPaymentPending,
		domain.OrderStatusPaid,
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}, statuses)
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}
