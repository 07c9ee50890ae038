package domain

import "time"

// InventoryItem — складская позиция. Единственная точка конкуренции в системе:
// все мутации количеств идут через атомарные операции InventoryRepository,
// никакой другой код не пишет в Available/Reserved/Total.
type InventoryItem struct {
	ID        string
	ProductID string
	SKU       string

	// Инвариант: Available + Reserved == Total, все три неотрицательны.
	Available int64
	Reserved  int64
	Total     int64

	// LowStockThreshold — порог алерта о низком остатке (Available <= порога).
	LowStockThreshold int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckInvariant возвращает ошибку, если учёт количества разошёлся.
func (i *InventoryItem) CheckInvariant() error {
	if i.Available < 0 || i.Reserved < 0 || i.Available+i.Reserved != i.Total {
		return ErrLedgerInvariant
	}
	return nil
}

// IsLowStock сообщает, что доступный остаток достиг порога (включительно).
func (i *InventoryItem) IsLowStock() bool {
	return i.Available <= i.LowStockThreshold
}

// MovementType — тип движения в append-only журнале склада.
type MovementType string

const (
	// MovementInitial — первичная регистрация позиции.
	MovementInitial MovementType = "initial"
	// MovementReserve — постановка резерва (available -> reserved).
	MovementReserve MovementType = "reserve"
	// MovementCommit — подтверждение резерва: окончательное списание из total.
	MovementCommit MovementType = "commit"
	// MovementRelease — возврат резерва в available.
	MovementRelease MovementType = "release"
	// MovementRestock — пополнение остатка.
	MovementRestock MovementType = "restock"
	// MovementAdjustment — ручная корректировка (усушка, брак, инвентаризация).
	MovementAdjustment MovementType = "adjustment"
)

// StockMovement — строка журнала движений. Пишется один раз, не обновляется.
type StockMovement struct {
	ID        string
	ItemID    string
	ProductID string
	Type      MovementType
	// QtyDelta — знаковое изменение; знак трактуется относительно available
	// (reserve уменьшает available, release возвращает).
	QtyDelta int64
	Reason   string
	// Reference — id заказа или резерва, породившего движение.
	Reference string
	CreatedAt time.Time
}
