package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

// inventoryRepositoryInMemory — in-memory реализация InventoryRepository.
// Один мьютекс на репозиторий сериализует все мутации, что даёт ту же
// гарантию, что row-level транзакция в PostgreSQL: проверка и изменение
// количества неразделимы.
type inventoryRepositoryInMemory struct {
	mu           sync.RWMutex
	items        map[string]domain.InventoryItem // ключ — product_id
	reservations map[string]domain.Reservation
	movements    []domain.StockMovement
}

// NewInventoryRepository возвращает in-memory склад для разработки и тестов.
func NewInventoryRepository() domain.InventoryRepository {
	return &inventoryRepositoryInMemory{
		items:        make(map[string]domain.InventoryItem),
		reservations: make(map[string]domain.Reservation),
	}
}

// GetOrCreate возвращает существующую позицию или регистрирует новую.
// Идемпотентен: повторный вызов с тем же product_id не пишет второе
// движение initial.
func (r *inventoryRepositoryInMemory) GetOrCreate(item domain.InventoryItem) (domain.InventoryItem, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[item.ProductID]; ok {
		return existing, false, nil
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Available = item.Total
	item.Reserved = 0
	item.CreatedAt = now
	item.UpdatedAt = now
	r.items[item.ProductID] = item

	r.appendMovement(item, domain.MovementInitial, item.Total, "initial stock registration", "")
	return item, true, nil
}

// GetByProduct возвращает позицию по product_id.
func (r *inventoryRepositoryInMemory) GetByProduct(productID string) (domain.InventoryItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[productID]
	if !ok {
		return domain.InventoryItem{}, domain.ErrItemNotFound
	}
	return item, nil
}

// Adjust атомарно применяет delta к available и total.
func (r *inventoryRepositoryInMemory) Adjust(productID string, delta int64, movement domain.MovementType, reason string) (domain.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[productID]
	if !ok {
		return domain.InventoryItem{}, domain.ErrItemNotFound
	}
	if item.Available+delta < 0 {
		return domain.InventoryItem{}, domain.ErrInvalidAdjustment
	}

	item.Available += delta
	item.Total += delta
	item.UpdatedAt = time.Now().UTC()
	r.items[productID] = item

	r.appendMovement(item, movement, delta, reason, "")
	return item, nil
}

// Reserve атомарно удерживает qty под заказ: available -> reserved.
func (r *inventoryRepositoryInMemory) Reserve(productID string, qty int64, orderID string, expiresAt time.Time) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[productID]
	if !ok {
		return domain.Reservation{}, domain.ErrItemNotFound
	}
	if item.Available < qty {
		return domain.Reservation{}, domain.ErrInsufficientStock
	}

	now := time.Now().UTC()
	item.Available -= qty
	item.Reserved += qty
	item.UpdatedAt = now
	r.items[productID] = item

	res := domain.Reservation{
		ID:        uuid.NewString(),
		ItemID:    item.ID,
		ProductID: item.ProductID,
		SKU:       item.SKU,
		OrderID:   orderID,
		Qty:       qty,
		Status:    domain.ReservationStatusPending,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	r.reservations[res.ID] = res

	r.appendMovement(item, domain.MovementReserve, -qty, "", res.ID)
	return res, nil
}

// Confirm превращает pending-резерв в окончательное списание: reserved и total
// уменьшаются, available не меняется.
func (r *inventoryRepositoryInMemory) Confirm(reservationID string) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if res.Status != domain.ReservationStatusPending {
		return domain.Reservation{}, domain.ErrReservationNotPending
	}

	item := r.items[res.ProductID]
	now := time.Now().UTC()
	item.Reserved -= res.Qty
	item.Total -= res.Qty
	item.UpdatedAt = now
	r.items[res.ProductID] = item

	res.Status = domain.ReservationStatusConfirmed
	res.ConfirmedAt = &now
	r.reservations[reservationID] = res

	r.appendMovement(item, domain.MovementCommit, -res.Qty, "", res.ID)
	return res, nil
}

// Release возвращает qty pending-резерва в available; status задаёт терминальное
// состояние резерва (released или expired).
func (r *inventoryRepositoryInMemory) Release(reservationID string, status domain.ReservationStatus) (domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if res.Status != domain.ReservationStatusPending {
		return domain.Reservation{}, domain.ErrReservationNotPending
	}
	if status != domain.ReservationStatusExpired {
		status = domain.ReservationStatusReleased
	}

	item := r.items[res.ProductID]
	now := time.Now().UTC()
	item.Reserved -= res.Qty
	item.Available += res.Qty
	item.UpdatedAt = now
	r.items[res.ProductID] = item

	res.Status = status
	res.ReleasedAt = &now
	r.reservations[reservationID] = res

	r.appendMovement(item, domain.MovementRelease, res.Qty, string(status), res.ID)
	return res, nil
}

// GetReservation возвращает резерв по идентификатору.
func (r *inventoryRepositoryInMemory) GetReservation(id string) (domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return res, nil
}

// ListPendingByOrder возвращает pending-резервы заказа.
func (r *inventoryRepositoryInMemory) ListPendingByOrder(orderID string) ([]domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Reservation, 0)
	for _, res := range r.reservations {
		if res.OrderID == orderID && res.Status == domain.ReservationStatusPending {
			result = append(result, res)
		}
	}
	sortReservations(result)
	return result, nil
}

// ListExpired возвращает до limit pending-резервов с истёкшим дедлайном.
func (r *inventoryRepositoryInMemory) ListExpired(before time.Time, limit int) ([]domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Reservation, 0)
	for _, res := range r.reservations {
		if res.Status == domain.ReservationStatusPending && res.ExpiresAt.Before(before) {
			result = append(result, res)
		}
	}
	sortReservations(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListLowStock возвращает позиции с available <= порога.
func (r *inventoryRepositoryInMemory) ListLowStock() ([]domain.InventoryItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.InventoryItem, 0)
	for _, item := range r.items {
		if item.IsLowStock() {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SKU < result[j].SKU })
	return result, nil
}

// ListMovements возвращает журнал движений позиции, новые первыми.
func (r *inventoryRepositoryInMemory) ListMovements(productID string, limit int) ([]domain.StockMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	// Журнал append-only: идём с конца, чтобы отдать новые первыми.
	for i := len(r.movements) - 1; i >= 0; i-- {
		if r.movements[i].ProductID != productID {
			continue
		}
		result = append(result, r.movements[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// appendMovement пишет строку журнала; вызывается только под r.mu.
func (r *inventoryRepositoryInMemory) appendMovement(item domain.InventoryItem, movement domain.MovementType, delta int64, reason, reference string) {
	r.movements = append(r.movements, domain.StockMovement{
		ID:        uuid.NewString(),
		ItemID:    item.ID,
		ProductID: item.ProductID,
		Type:      movement,
		QtyDelta:  delta,
		Reason:    reason,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	})
}

func sortReservations(res []domain.Reservation) {
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
}

var _ domain.InventoryRepository = (*inventoryRepositoryInMemory)(nil)
