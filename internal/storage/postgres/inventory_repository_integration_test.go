package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

func registerIntegrationItem(t *testing.T, repo domain.InventoryRepository, total int64) domain.InventoryItem {
	t.Helper()

	item, created, err := repo.GetOrCreate(domain.InventoryItem{
		ProductID:         "prod-1",
		SKU:               "SKU-prod-1",
		Total:             total,
		LowStockThreshold: 2,
	})
	if err != nil {
		t.Fatalf("register item: %v", err)
	}
	if !created {
		t.Fatal("expected item to be created")
	}
	return item
}

func requireIntegrationCounts(t *testing.T, repo domain.InventoryRepository, available, reserved, total int64) {
	t.Helper()

	item, err := repo.GetByProduct("prod-1")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.Available != available || item.Reserved != reserved || item.Total != total {
		t.Fatalf("expected %d/%d/%d, got %d/%d/%d",
			available, reserved, total, item.Available, item.Reserved, item.Total)
	}
	if err := item.CheckInvariant(); err != nil {
		t.Fatalf("ledger invariant broken: %v", err)
	}
}

func TestInventoryRepositoryPostgres_GetOrCreateIdempotent(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)

	first := registerIntegrationItem(t, repo, 10)

	second, created, err := repo.GetOrCreate(domain.InventoryItem{
		ProductID: "prod-1",
		SKU:       "SKU-prod-1",
		Total:     99,
	})
	if err != nil {
		t.Fatalf("repeat get or create: %v", err)
	}
	if created {
		t.Fatal("repeat registration must not create a new item")
	}
	if second.ID != first.ID || second.Total != 10 {
		t.Fatalf("repeat registration must not touch stock: %+v", second)
	}

	movements, err := repo.ListMovements("prod-1", 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 || movements[0].Type != domain.MovementInitial {
		t.Fatalf("expected single initial movement, got %+v", movements)
	}
}

func TestInventoryRepositoryPostgres_ReserveConfirmRelease(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	registerIntegrationItem(t, repo, 10)

	orderID := uuid.NewString()
	expiresAt := time.Now().UTC().Add(30 * time.Minute)

	res, err := repo.Reserve("prod-1", 4, orderID, expiresAt)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != domain.ReservationStatusPending || res.Qty != 4 {
		t.Fatalf("unexpected reservation: %+v", res)
	}
	requireIntegrationCounts(t, repo, 6, 4, 10)

	confirmed, err := repo.Confirm(res.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.ReservationStatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("unexpected confirmed reservation: %+v", confirmed)
	}
	requireIntegrationCounts(t, repo, 6, 0, 6)

	// Терминальный резерв нельзя подтвердить или снять повторно
	if _, err := repo.Confirm(res.ID); !errors.Is(err, domain.ErrReservationNotPending) {
		t.Fatalf("expected ErrReservationNotPending, got %v", err)
	}
	if _, err := repo.Release(res.ID, domain.ReservationStatusReleased); !errors.Is(err, domain.ErrReservationNotPending) {
		t.Fatalf("expected ErrReservationNotPending, got %v", err)
	}

	// Новый резерв снимаем: qty возвращается в available
	second, err := repo.Reserve("prod-1", 2, orderID, expiresAt)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	released, err := repo.Release(second.ID, domain.ReservationStatusExpired)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != domain.ReservationStatusExpired || released.ReleasedAt == nil {
		t.Fatalf("unexpected released reservation: %+v", released)
	}
	requireIntegrationCounts(t, repo, 6, 0, 6)
}

func TestInventoryRepositoryPostgres_ReserveInsufficientStock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	registerIntegrationItem(t, repo, 5)

	orderID := uuid.NewString()
	expiresAt := time.Now().UTC().Add(30 * time.Minute)

	if _, err := repo.Reserve("prod-1", 6, orderID, expiresAt); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	requireIntegrationCounts(t, repo, 5, 0, 5)

	if _, err := repo.Reserve("missing-product", 1, orderID, expiresAt); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestInventoryRepositoryPostgres_Adjust(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	registerIntegrationItem(t, repo, 10)

	item, err := repo.Adjust("prod-1", 5, domain.MovementRestock, "delivery")
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if item.Available != 15 || item.Total != 15 {
		t.Fatalf("expected 15/15 after restock, got %d/%d", item.Available, item.Total)
	}

	if _, err := repo.Adjust("prod-1", -20, domain.MovementAdjustment, "writeoff"); !errors.Is(err, domain.ErrInvalidAdjustment) {
		t.Fatalf("expected ErrInvalidAdjustment, got %v", err)
	}
	requireIntegrationCounts(t, repo, 15, 0, 15)
}

func TestInventoryRepositoryPostgres_ListExpiredAndPending(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	registerIntegrationItem(t, repo, 10)

	orderID := uuid.NewString()
	now := time.Now().UTC()

	stale, err := repo.Reserve("prod-1", 2, orderID, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("reserve stale: %v", err)
	}
	if _, err := repo.Reserve("prod-1", 3, orderID, now.Add(time.Hour)); err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	pending, err := repo.ListPendingByOrder(orderID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending reservations, got %d", len(pending))
	}

	expired, err := repo.ListExpired(now, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Fatalf("expected only the stale reservation, got %+v", expired)
	}

	// Снятый резерв из выборки пропадает
	if _, err := repo.Release(stale.ID, domain.ReservationStatusExpired); err != nil {
		t.Fatalf("release stale: %v", err)
	}
	expired, err = repo.ListExpired(now, 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expected no expired reservations, got %+v", expired)
	}
}

func TestInventoryRepositoryPostgres_ListLowStock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	registerIntegrationItem(t, repo, 10)

	orderID := uuid.NewString()
	if _, err := repo.Reserve("prod-1", 8, orderID, time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// available == 2 == порогу: алерт включительный
	low, err := repo.ListLowStock()
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if len(low) != 1 || low[0].ProductID != "prod-1" {
		t.Fatalf("expected prod-1 in low stock list, got %+v", low)
	}
}

func TestInventoryRepositoryPostgres_Movements(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)
	registerIntegrationItem(t, repo, 10)

	orderID := uuid.NewString()
	res, err := repo.Reserve("prod-1", 4, orderID, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := repo.Release(res.ID, domain.ReservationStatusExpired); err != nil {
		t.Fatalf("release: %v", err)
	}

	movements, err := repo.ListMovements("prod-1", 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 3 {
		t.Fatalf("expected 3 movements, got %d", len(movements))
	}
	// Новые первыми: release, reserve, initial
	if movements[0].Type != domain.MovementRelease || movements[0].QtyDelta != 4 {
		t.Fatalf("unexpected latest movement: %+v", movements[0])
	}
	if movements[1].Type != domain.MovementReserve || movements[1].QtyDelta != -4 {
		t.Fatalf("unexpected reserve movement: %+v", movements[1])
	}
	if movements[2].Type != domain.MovementInitial {
		t.Fatalf("unexpected oldest movement: %+v", movements[2])
	}

	limited, err := repo.ListMovements("prod-1", 1)
	if err != nil {
		t.Fatalf("list movements with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 movement with limit, got %d", len(limited))
	}
}
