package inventory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/inventory"
	"github.com/DarkDragonEl/commerce-sub000/internal/storage/memory"
)

type engineFixture struct {
	repo   domain.InventoryRepository
	outbox interface {
		domain.OutboxRepository
		AllPending() []domain.OutboxMessage
	}
	engine *inventory.Engine
	ledger *inventory.Ledger
}

func newEngineFixture(t *testing.T, opts ...inventory.EngineOption) *engineFixture {
	t.Helper()
	repo := memory.NewInventoryRepository()
	outbox := memory.NewOutboxRepository()
	return &engineFixture{
		repo:   repo,
		outbox: outbox,
		engine: inventory.NewEngine(repo, outbox, opts...),
		ledger: inventory.NewLedger(repo, outbox, nil),
	}
}

func (f *engineFixture) register(t *testing.T, productID string, total, threshold int64) {
	t.Helper()
	if _, _, err := f.ledger.RegisterItem(inventory.RegisterInput{
		ProductID:         productID,
		SKU:               "SKU-" + productID,
		Total:             total,
		LowStockThreshold: threshold,
	}); err != nil {
		t.Fatalf("register item failed: %v", err)
	}
}

func (f *engineFixture) counts(t *testing.T, productID string) (int64, int64, int64) {
	t.Helper()
	item, err := f.repo.GetByProduct(productID)
	if err != nil {
		t.Fatalf("get by product failed: %v", err)
	}
	if err := item.CheckInvariant(); err != nil {
		t.Fatalf("invariant broken for %s: %v", productID, err)
	}
	return item.Available, item.Reserved, item.Total
}

func (f *engineFixture) eventTypes() []string {
	pending := f.outbox.AllPending()
	types := make([]string, 0, len(pending))
	for _, msg := range pending {
		types = append(types, msg.EventType)
	}
	return types
}

func TestEngine_ReserveConfirmRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 0)

	res, err := f.engine.Reserve("prod-1", 4, "order-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if res.Status != domain.ReservationStatusPending {
		t.Fatalf("expected pending, got %s", res.Status)
	}
	if !res.ExpiresAt.After(time.Now()) {
		t.Fatal("reservation must expire in the future")
	}

	if available, reserved, total := f.counts(t, "prod-1"); available != 6 || reserved != 4 || total != 10 {
		t.Fatalf("unexpected counts after reserve: %d/%d/%d", available, reserved, total)
	}

	confirmed, err := f.engine.Confirm(res.ID)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Status != domain.ReservationStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}
	if available, reserved, total := f.counts(t, "prod-1"); available != 6 || reserved != 0 || total != 6 {
		t.Fatalf("unexpected counts after confirm: %d/%d/%d", available, reserved, total)
	}

	types := f.eventTypes()
	if len(types) != 1 || types[0] != domain.EventInventoryReserved {
		t.Fatalf("expected inventory.reserved event, got %v", types)
	}
}

func TestEngine_ReserveReleaseRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 0)

	res, err := f.engine.Reserve("prod-1", 4, "order-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	released, err := f.engine.Release(res.ID, domain.ReservationStatusReleased)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if released.Status != domain.ReservationStatusReleased {
		t.Fatalf("expected released, got %s", released.Status)
	}
	if available, reserved, total := f.counts(t, "prod-1"); available != 10 || reserved != 0 || total != 10 {
		t.Fatalf("release must restore counts: %d/%d/%d", available, reserved, total)
	}

	types := f.eventTypes()
	if len(types) != 2 || types[0] != domain.EventInventoryReserved || types[1] != domain.EventInventoryReleased {
		t.Fatalf("expected reserved+released events, got %v", types)
	}
}

func TestEngine_ReserveInvalidQty(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 0)

	if _, err := f.engine.Reserve("prod-1", 0, "order-1"); !errors.Is(err, domain.ErrReservationQtyInvalid) {
		t.Fatalf("expected ErrReservationQtyInvalid, got %v", err)
	}
	if _, err := f.engine.Reserve("prod-1", -1, "order-1"); !errors.Is(err, domain.ErrReservationQtyInvalid) {
		t.Fatalf("expected ErrReservationQtyInvalid, got %v", err)
	}
}

func TestEngine_ReservationTTL(t *testing.T) {
	f := newEngineFixture(t, inventory.WithReservationTTL(time.Minute))
	f.register(t, "prod-1", 10, 0)

	res, err := f.engine.Reserve("prod-1", 1, "order-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	ttl := time.Until(res.ExpiresAt)
	if ttl <= 0 || ttl > time.Minute+time.Second {
		t.Fatalf("expected ~1m TTL, got %v", ttl)
	}
}

func TestEngine_ReserveAll(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 0)
	f.register(t, "prod-2", 5, 0)

	placed, err := f.engine.ReserveAll("order-1", []inventory.ReserveLine{
		{ProductID: "prod-1", Qty: 3},
		{ProductID: "prod-2", Qty: 2},
	})
	if err != nil {
		t.Fatalf("reserve all failed: %v", err)
	}
	if len(placed) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(placed))
	}

	pending, err := f.engine.ListPendingByOrder("order-1")
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending reservations, got %d", len(pending))
	}
}

func TestEngine_ReserveAllCompensatesOnFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 0)
	f.register(t, "prod-2", 1, 0)

	_, err := f.engine.ReserveAll("order-1", []inventory.ReserveLine{
		{ProductID: "prod-1", Qty: 3},
		{ProductID: "prod-2", Qty: 5},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	// Текст ошибки попадает в историю заказа и должен называть SKU.
	if err.Error() != "insufficient stock for SKU-prod-2" {
		t.Fatalf("unexpected error text: %q", err.Error())
	}

	// Уже поставленный резерв prod-1 снят компенсацией.
	if available, reserved, total := f.counts(t, "prod-1"); available != 10 || reserved != 0 || total != 10 {
		t.Fatalf("compensation must restore prod-1: %d/%d/%d", available, reserved, total)
	}
	if available, reserved, total := f.counts(t, "prod-2"); available != 1 || reserved != 0 || total != 1 {
		t.Fatalf("prod-2 must be untouched: %d/%d/%d", available, reserved, total)
	}

	pending, err := f.engine.ListPendingByOrder("order-1")
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending reservations, got %d", len(pending))
	}
}

func TestEngine_ConfirmOrderSkipsClosed(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 0)
	f.register(t, "prod-2", 10, 0)

	first, err := f.engine.Reserve("prod-1", 2, "order-1")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := f.engine.Reserve("prod-2", 3, "order-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// Один резерв уже подтверждён (повторная доставка события).
	if _, err := f.engine.Confirm(first.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if err := f.engine.ConfirmOrder("order-1"); err != nil {
		t.Fatalf("confirm order failed: %v", err)
	}

	if available, reserved, total := f.counts(t, "prod-1"); available != 8 || reserved != 0 || total != 8 {
		t.Fatalf("unexpected prod-1 counts: %d/%d/%d", available, reserved, total)
	}
	if available, reserved, total := f.counts(t, "prod-2"); available != 7 || reserved != 0 || total != 7 {
		t.Fatalf("unexpected prod-2 counts: %d/%d/%d", available, reserved, total)
	}
}

func TestEngine_ReleaseOrder(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 0)
	f.register(t, "prod-2", 10, 0)

	if _, err := f.engine.Reserve("prod-1", 2, "order-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := f.engine.Reserve("prod-2", 3, "order-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if err := f.engine.ReleaseOrder("order-1", domain.ReservationStatusReleased); err != nil {
		t.Fatalf("release order failed: %v", err)
	}

	if available, _, _ := f.counts(t, "prod-1"); available != 10 {
		t.Fatalf("prod-1 not restored: %d", available)
	}
	if available, _, _ := f.counts(t, "prod-2"); available != 10 {
		t.Fatalf("prod-2 not restored: %d", available)
	}
}

func TestLedger_RegisterItemValidation(t *testing.T) {
	f := newEngineFixture(t)

	if _, _, err := f.ledger.RegisterItem(inventory.RegisterInput{SKU: "SKU-1", Total: 1}); !errors.Is(err, domain.ErrProductRequired) {
		t.Fatalf("expected ErrProductRequired, got %v", err)
	}
	if _, _, err := f.ledger.RegisterItem(inventory.RegisterInput{ProductID: "prod-1", Total: 1}); !errors.Is(err, domain.ErrProductRequired) {
		t.Fatalf("expected ErrProductRequired, got %v", err)
	}
	if _, _, err := f.ledger.RegisterItem(inventory.RegisterInput{ProductID: "prod-1", SKU: "SKU-1", Total: -1}); !errors.Is(err, domain.ErrInvalidAdjustment) {
		t.Fatalf("expected ErrInvalidAdjustment, got %v", err)
	}
}

func TestLedger_AdjustStock(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 3)

	item, err := f.ledger.AdjustStock("prod-1", 5, domain.MovementRestock, "delivery")
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if item.Available != 15 || item.Total != 15 {
		t.Fatalf("expected 15/15, got %d/%d", item.Available, item.Total)
	}

	// Типы движений, порождаемые резервами, для ручной корректировки запрещены.
	if _, err := f.ledger.AdjustStock("prod-1", 1, domain.MovementReserve, ""); err == nil {
		t.Fatal("expected manual adjustment with reserve type to fail")
	}

	// delta == 0 — чтение без движения.
	same, err := f.ledger.AdjustStock("prod-1", 0, domain.MovementAdjustment, "")
	if err != nil {
		t.Fatalf("zero adjust failed: %v", err)
	}
	if same.Available != 15 {
		t.Fatalf("expected unchanged item, got %+v", same)
	}
	movements, err := f.ledger.Movements("prod-1", 0)
	if err != nil {
		t.Fatalf("movements failed: %v", err)
	}
	if len(movements) != 2 { // initial + restock
		t.Fatalf("zero adjust must not write a movement, got %d", len(movements))
	}
}

func TestLedger_AdjustEmitsLowStockAlert(t *testing.T) {
	f := newEngineFixture(t)
	f.register(t, "prod-1", 10, 3)

	// Остаток падает ровно на порог: порог включительный.
	if _, err := f.ledger.AdjustStock("prod-1", -7, domain.MovementAdjustment, "shrinkage"); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	types := f.eventTypes()
	if len(types) != 1 || types[0] != domain.EventInventoryLowStock {
		t.Fatalf("expected inventory.low_stock event, got %v", types)
	}

	low, err := f.ledger.ListLowStock()
	if err != nil {
		t.Fatalf("list low stock failed: %v", err)
	}
	if len(low) != 1 || low[0].ProductID != "prod-1" {
		t.Fatalf("expected prod-1 in low stock list, got %+v", low)
	}
}
