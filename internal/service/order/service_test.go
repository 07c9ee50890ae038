package order_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/order"
	"github.com/DarkDragonEl/commerce-sub000/internal/storage/memory"
)

type serviceFixture struct {
	*machineFixture
	service *order.Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	orders := memory.NewOrderRepository()
	history := memory.NewHistoryRepository()
	outbox := memory.NewOutboxRepository()
	machine := order.NewMachine(orders, history, outbox)
	return &serviceFixture{
		machineFixture: &machineFixture{
			orders:  orders,
			history: history,
			outbox:  outbox,
			machine: machine,
		},
		service: order.NewService(orders, history, outbox, machine),
	}
}

func createInput() order.CreateInput {
	return order.CreateInput{
		CustomerID: "customer-1",
		Currency:   "RUB",
		Items: []order.ItemInput{
			{ProductID: "prod-1", SKU: "SKU-1", Qty: 2, PriceMinor: 150000, TaxMinor: 30000},
			{ProductID: "prod-2", SKU: "SKU-2", Qty: 1, PriceMinor: 50000},
		},
		ShippingMinor: 25000,
		DiscountMinor: 10000,
	}
}

func TestService_Create(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.service.Create(createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if created.Status != domain.OrderStatusDraft {
		t.Fatalf("new order must be draft, got %s", created.Status)
	}
	if created.ID == "" {
		t.Fatal("order ID must be assigned")
	}
	expectedNumber := fmt.Sprintf("ORD-%s-000001", time.Now().UTC().Format("20060102"))
	if created.Number != expectedNumber {
		t.Fatalf("expected number %s, got %s", expectedNumber, created.Number)
	}
	if created.TotalMinor != 395000 {
		t.Fatalf("expected total 395000, got %d", created.TotalMinor)
	}
	for _, item := range created.Items {
		if item.ID == "" {
			t.Fatal("item IDs must be assigned")
		}
	}

	stored, err := f.orders.Get(created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Number != created.Number {
		t.Fatalf("order not persisted: %+v", stored)
	}

	entries, err := f.history.List(created.ID)
	if err != nil {
		t.Fatalf("history list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected creation history entry, got %d", len(entries))
	}
	if entries[0].From != nil || entries[0].To != domain.OrderStatusDraft || entries[0].Actor != "customer" {
		t.Fatalf("creation entry mismatch: %+v", entries[0])
	}

	pending := f.outbox.AllPending()
	if len(pending) != 1 || pending[0].EventType != domain.EventOrderCreated {
		t.Fatalf("expected order.created in outbox, got %+v", pending)
	}
	var payload map[string]any
	if err := json.Unmarshal(pending[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload failed: %v", err)
	}
	if payload["order_id"] != created.ID || payload["number"] != created.Number {
		t.Fatalf("payload mismatch: %v", payload)
	}
}

func TestService_CreateValidation(t *testing.T) {
	f := newServiceFixture(t)

	input := createInput()
	input.CustomerID = ""
	if _, err := f.service.Create(input); !errors.Is(err, domain.ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired, got %v", err)
	}

	input = createInput()
	input.Items = nil
	if _, err := f.service.Create(input); !errors.Is(err, domain.ErrItemsRequired) {
		t.Fatalf("expected ErrItemsRequired, got %v", err)
	}

	input = createInput()
	input.Items[0].Qty = 0
	if _, err := f.service.Create(input); !errors.Is(err, domain.ErrItemQtyInvalid) {
		t.Fatalf("expected ErrItemQtyInvalid, got %v", err)
	}

	// Отклонённый заказ не должен оставить следов.
	all, err := f.orders.List(domain.OrderFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("rejected orders must not be stored, got %d", len(all))
	}
}

func TestService_SequentialNumbers(t *testing.T) {
	f := newServiceFixture(t)

	first, err := f.service.Create(createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := f.service.Create(createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.Number == second.Number {
		t.Fatalf("order numbers must be unique: %s", first.Number)
	}

	byNumber, err := f.service.GetByNumber(second.Number)
	if err != nil {
		t.Fatalf("get by number failed: %v", err)
	}
	if byNumber.ID != second.ID {
		t.Fatalf("expected %s, got %s", second.ID, byNumber.ID)
	}
}

func TestService_RequestTransition(t *testing.T) {
	f := newServiceFixture(t)
	created, err := f.service.Create(createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := f.service.RequestTransition(created.ID, domain.OrderStatusPending, "customer", "checkout")
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", updated.Status)
	}

	// Статус вне графа отклоняется до обращения к хранилищу.
	if _, err := f.service.RequestTransition(created.ID, "bogus", "customer", ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown status, got %v", err)
	}
}

func TestService_NextStatuses(t *testing.T) {
	f := newServiceFixture(t)
	created, err := f.service.Create(createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	next, err := f.service.NextStatuses(created.ID)
	if err != nil {
		t.Fatalf("next statuses failed: %v", err)
	}
	if len(next) != 2 {
		t.Fatalf("draft must have 2 next statuses, got %v", next)
	}

	if _, err := f.service.NextStatuses("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestService_History(t *testing.T) {
	f := newServiceFixture(t)
	created, err := f.service.Create(createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := f.service.RequestTransition(created.ID, domain.OrderStatusPending, "customer", "checkout"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}

	entries, err := f.service.History(created.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if _, err := f.service.History("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestService_ListFilters(t *testing.T) {
	f := newServiceFixture(t)

	first, err := f.service.Create(createInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	input := createInput()
	input.CustomerID = "customer-2"
	if _, err := f.service.Create(input); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	mine, err := f.service.List(domain.OrderFilter{CustomerID: "customer-1"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != first.ID {
		t.Fatalf("customer filter broken: %+v", mine)
	}
}
