package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

// inventoryRepositoryPostgres реализует атомарные складские операции.
// Каждая мутация — одна транзакция с SELECT ... FOR UPDATE по строке позиции:
// проверка остатка и его изменение неразделимы, конкурентные Reserve по
// одному SKU выстраиваются в очередь на блокировке строки.
type inventoryRepositoryPostgres struct {
	db *sql.DB
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepositoryPostgres{db: store.DB()}
}

// GetOrCreate возвращает существующую позицию или регистрирует новую.
func (r *inventoryRepositoryPostgres) GetOrCreate(item domain.InventoryItem) (domain.InventoryItem, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.InventoryItem{}, false, fmt.Errorf("begin inventory tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := lockItem(ctx, tx, item.ProductID)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return domain.InventoryItem{}, false, fmt.Errorf("commit inventory tx: %w", err)
		}
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrItemNotFound) {
		return domain.InventoryItem{}, false, err
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Available = item.Total
	item.Reserved = 0
	item.CreatedAt = now
	item.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, product_id, sku, available, reserved, total,
			low_stock_threshold, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		item.ID, item.ProductID, item.SKU, item.Available, item.Reserved, item.Total,
		item.LowStockThreshold, item.CreatedAt, item.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			// Конкурентная регистрация того же товара выиграла гонку.
			return domain.InventoryItem{}, false, domain.ErrStorageConflict
		}
		return domain.InventoryItem{}, false, fmt.Errorf("insert inventory item %s: %w", item.ProductID, err)
	}

	if err := insertMovement(ctx, tx, item, domain.MovementInitial, item.Total, "initial stock registration", ""); err != nil {
		return domain.InventoryItem{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return domain.InventoryItem{}, false, fmt.Errorf("commit inventory tx: %w", err)
	}

	return item, true, nil
}

// GetByProduct возвращает позицию без блокировки.
func (r *inventoryRepositoryPostgres) GetByProduct(productID string) (domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, itemSelect+` WHERE product_id = $1`, productID)
	return scanItem(row)
}

// Adjust атомарно применяет delta к available и total.
func (r *inventoryRepositoryPostgres) Adjust(productID string, delta int64, movement domain.MovementType, reason string) (domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var updated domain.InventoryItem
	err := r.withItemTx(ctx, productID, func(tx *sql.Tx, item domain.InventoryItem) error {
		if item.Available+delta < 0 {
			return domain.ErrInvalidAdjustment
		}

		item.Available += delta
		item.Total += delta
		item.UpdatedAt = time.Now().UTC()
		if err := updateItemCounts(ctx, tx, item); err != nil {
			return err
		}
		if err := insertMovement(ctx, tx, item, movement, delta, reason, ""); err != nil {
			return err
		}

		updated = item
		return nil
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}

	return updated, nil
}

// Reserve атомарно удерживает qty под заказ: available -> reserved.
func (r *inventoryRepositoryPostgres) Reserve(productID string, qty int64, orderID string, expiresAt time.Time) (domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var res domain.Reservation
	err := r.withItemTx(ctx, productID, func(tx *sql.Tx, item domain.InventoryItem) error {
		if item.Available < qty {
			return domain.ErrInsufficientStock
		}

		now := time.Now().UTC()
		item.Available -= qty
		item.Reserved += qty
		item.UpdatedAt = now
		if err := updateItemCounts(ctx, tx, item); err != nil {
			return err
		}

		res = domain.Reservation{
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
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reservations (
				id, item_id, product_id, sku, order_id, qty, status,
				created_at, expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			res.ID, res.ItemID, res.ProductID, res.SKU, res.OrderID, res.Qty, string(res.Status),
			res.CreatedAt, res.ExpiresAt,
		); err != nil {
			return fmt.Errorf("insert reservation for %s: %w", productID, err)
		}

		return insertMovement(ctx, tx, item, domain.MovementReserve, -qty, "", res.ID)
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	return res, nil
}

// Confirm превращает pending-резерв в окончательное списание.
func (r *inventoryRepositoryPostgres) Confirm(reservationID string) (domain.Reservation, error) {
	return r.finishReservation(reservationID, domain.ReservationStatusConfirmed)
}

// Release возвращает qty pending-резерва в available.
func (r *inventoryRepositoryPostgres) Release(reservationID string, status domain.ReservationStatus) (domain.Reservation, error) {
	if status != domain.ReservationStatusExpired {
		status = domain.ReservationStatusReleased
	}
	return r.finishReservation(reservationID, status)
}

// finishReservation переводит pending-резерв в терминальный статус и
// корректирует учёт позиции в одной транзакции. Блокируем сперва строку
// позиции, затем резерва: тот же порядок, что у Reserve, дедлок исключён.
func (r *inventoryRepositoryPostgres) finishReservation(reservationID string, target domain.ReservationStatus) (domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("begin reservation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := peekReservation(ctx, tx, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}

	item, err := lockItem(ctx, tx, res.ProductID)
	if err != nil {
		return domain.Reservation{}, err
	}

	// Повторное чтение под блокировкой строки позиции: статус мог смениться
	// между peek и lock.
	res, err = lockReservation(ctx, tx, reservationID)
	if err != nil {
		return domain.Reservation{}, err
	}
	if res.Status != domain.ReservationStatusPending {
		return domain.Reservation{}, domain.ErrReservationNotPending
	}

	now := time.Now().UTC()
	var (
		movement domain.MovementType
		delta    int64
	)

	switch target {
	case domain.ReservationStatusConfirmed:
		item.Reserved -= res.Qty
		item.Total -= res.Qty
		movement = domain.MovementCommit
		delta = -res.Qty
		res.ConfirmedAt = &now
	default:
		item.Reserved -= res.Qty
		item.Available += res.Qty
		movement = domain.MovementRelease
		delta = res.Qty
		res.ReleasedAt = &now
	}
	item.UpdatedAt = now
	res.Status = target

	if err := updateItemCounts(ctx, tx, item); err != nil {
		return domain.Reservation{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = $1, confirmed_at = $2, released_at = $3
		WHERE id = $4
	`, string(res.Status), res.ConfirmedAt, res.ReleasedAt, res.ID); err != nil {
		return domain.Reservation{}, fmt.Errorf("update reservation %s: %w", res.ID, err)
	}

	reason := ""
	if movement == domain.MovementRelease {
		reason = string(target)
	}
	if err := insertMovement(ctx, tx, item, movement, delta, reason, res.ID); err != nil {
		return domain.Reservation{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Reservation{}, fmt.Errorf("commit reservation tx: %w", err)
	}

	return res, nil
}

// GetReservation возвращает резерв по идентификатору.
func (r *inventoryRepositoryPostgres) GetReservation(id string) (domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, reservationSelect+` WHERE id = $1`, id)
	return scanReservation(row)
}

// ListPendingByOrder возвращает pending-резервы заказа.
func (r *inventoryRepositoryPostgres) ListPendingByOrder(orderID string) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, reservationSelect+`
		WHERE order_id = $1 AND status = $2
		ORDER BY created_at, id
	`, orderID, string(domain.ReservationStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending reservations for order %s: %w", orderID, err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

// ListExpired возвращает до limit pending-резервов с истёкшим дедлайном.
func (r *inventoryRepositoryPostgres) ListExpired(before time.Time, limit int) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, reservationSelect+`
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at, id
		LIMIT $3
	`, string(domain.ReservationStatusPending), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired reservations: %w", err)
	}
	defer rows.Close()

	return collectReservations(rows)
}

// ListLowStock возвращает позиции с available <= порога.
func (r *inventoryRepositoryPostgres) ListLowStock() ([]domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, itemSelect+`
		WHERE available <= low_stock_threshold
		ORDER BY sku
	`)
	if err != nil {
		return nil, fmt.Errorf("list low stock items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate low stock items: %w", err)
	}

	return items, nil
}

// ListMovements возвращает журнал движений позиции, новые первыми.
func (r *inventoryRepositoryPostgres) ListMovements(productID string, limit int) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, item_id, product_id, movement_type, qty_delta, reason, reference, created_at
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock movements %s: %w", productID, err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var (
			m            domain.StockMovement
			movementType string
		)
		if err := rows.Scan(&m.ID, &m.ItemID, &m.ProductID, &movementType, &m.QtyDelta, &m.Reason, &m.Reference, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Type = domain.MovementType(movementType)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}

	return movements, nil
}

// withItemTx выполняет fn под блокировкой строки позиции и коммитит транзакцию.
func (r *inventoryRepositoryPostgres) withItemTx(ctx context.Context, productID string, fn func(tx *sql.Tx, item domain.InventoryItem) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin inventory tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := lockItem(ctx, tx, productID)
	if err != nil {
		return err
	}

	if err := fn(tx, item); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit inventory tx: %w", err)
	}

	return nil
}

const itemSelect = `
	SELECT id, product_id, sku, available, reserved, total,
	       low_stock_threshold, created_at, updated_at
	FROM inventory_items`

const reservationSelect = `
	SELECT id, item_id, product_id, sku, order_id, qty, status,
	       created_at, expires_at, confirmed_at, released_at
	FROM reservations`

func lockItem(ctx context.Context, tx *sql.Tx, productID string) (domain.InventoryItem, error) {
	row := tx.QueryRowContext(ctx, itemSelect+` WHERE product_id = $1 FOR UPDATE`, productID)
	return scanItem(row)
}

func peekReservation(ctx context.Context, tx *sql.Tx, id string) (domain.Reservation, error) {
	row := tx.QueryRowContext(ctx, reservationSelect+` WHERE id = $1`, id)
	return scanReservation(row)
}

func lockReservation(ctx context.Context, tx *sql.Tx, id string) (domain.Reservation, error) {
	row := tx.QueryRowContext(ctx, reservationSelect+` WHERE id = $1 FOR UPDATE`, id)
	return scanReservation(row)
}

func updateItemCounts(ctx context.Context, tx *sql.Tx, item domain.InventoryItem) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET available = $1, reserved = $2, total = $3, updated_at = $4
		WHERE id = $5
	`, item.Available, item.Reserved, item.Total, item.UpdatedAt, item.ID); err != nil {
		return fmt.Errorf("update inventory item %s: %w", item.ProductID, err)
	}
	return nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, item domain.InventoryItem, movement domain.MovementType, delta int64, reason, reference string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, item_id, product_id, movement_type, qty_delta, reason, reference, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		uuid.NewString(), item.ID, item.ProductID, string(movement), delta, reason, reference, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert stock movement %s: %w", item.ProductID, err)
	}
	return nil
}

func scanItem(row rowScanner) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(
		&item.ID, &item.ProductID, &item.SKU, &item.Available, &item.Reserved, &item.Total,
		&item.LowStockThreshold, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("scan inventory item: %w", err)
	}
	return item, nil
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	err := row.Scan(
		&res.ID, &res.ItemID, &res.ProductID, &res.SKU, &res.OrderID, &res.Qty, &status,
		&res.CreatedAt, &res.ExpiresAt, &res.ConfirmedAt, &res.ReleasedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("scan reservation: %w", err)
	}
	res.Status = domain.ReservationStatus(status)
	return res, nil
}

func collectReservations(rows *sql.Rows) ([]domain.Reservation, error) {
	result := make([]domain.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return result, nil
}

var _ domain.InventoryRepository = (*inventoryRepositoryPostgres)(nil)
