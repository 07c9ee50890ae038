package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

const (
	queryTimeout = 5 * time.Second

	pgUniqueViolation = "23505"
)

// orderRepositoryPostgres хранит агрегат заказа в таблицах orders/order_items.
// Save использует optimistic locking по колонке version.
type orderRepositoryPostgres struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryPostgres{db: store.DB()}
}

// Create сохраняет заказ вместе с позициями в одной транзакции.
func (r *orderRepositoryPostgres) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create order tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	shippingJSON, billingJSON, err := marshalAddresses(order)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, customer_id, status, currency,
			subtotal_minor, tax_minor, shipping_minor, discount_minor, total_minor,
			shipping_address, billing_address, version, created_at, updated_at,
			paid_at, confirmed_at, shipped_at, delivered_at, cancelled_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		order.ID, order.Number, order.CustomerID, string(order.Status), order.Currency,
		order.SubtotalMinor, order.TaxMinor, order.ShippingMinor, order.DiscountMinor, order.TotalMinor,
		shippingJSON, billingJSON, order.Version, order.CreatedAt, order.UpdatedAt,
		order.PaidAt, order.ConfirmedAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt, order.CompletedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrStorageConflict
		}
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, sku, qty,
				price_minor, subtotal_minor, tax_minor, total_minor, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			item.ID, order.ID, item.ProductID, item.SKU, item.Qty,
			item.PriceMinor, item.SubtotalMinor, item.TaxMinor, item.TotalMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create order tx: %w", err)
	}

	return nil
}

// Get возвращает заказ по идентификатору.
func (r *orderRepositoryPostgres) Get(id string) (domain.Order, error) {
	return r.getByField("id", id)
}

// GetByNumber возвращает заказ по бизнес-номеру.
func (r *orderRepositoryPostgres) GetByNumber(number string) (domain.Order, error) {
	return r.getByField("number", number)
}

func (r *orderRepositoryPostgres) getByField(field, value string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, number, customer_id, status, currency,
		       subtotal_minor, tax_minor, shipping_minor, discount_minor, total_minor,
		       shipping_address, billing_address, version, created_at, updated_at,
		       paid_at, confirmed_at, shipped_at, delivered_at, cancelled_at, completed_at
		FROM orders
		WHERE %s = $1
	`, field), value)

	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, err
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

// List возвращает заказы по фильтру, новые первыми. Позиции подгружаются
// для каждого заказа отдельно: листинг ограничен, N невелик.
func (r *orderRepositoryPostgres) List(filter domain.OrderFilter) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	query := `
		SELECT id, number, customer_id, status, currency,
		       subtotal_minor, tax_minor, shipping_minor, discount_minor, total_minor,
		       shipping_address, billing_address, version, created_at, updated_at,
		       paid_at, confirmed_at, shipped_at, delivered_at, cancelled_at, completed_at
		FROM orders
		WHERE ($1 = '' OR customer_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, query, filter.CustomerID, string(filter.Status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// Save обновляет шапку заказа с проверкой версии. Позиции заказа неизменяемы
// после создания, поэтому order_items не трогаем.
func (r *orderRepositoryPostgres) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	shippingJSON, billingJSON, err := marshalAddresses(order)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, currency = $2,
			subtotal_minor = $3, tax_minor = $4, shipping_minor = $5,
			discount_minor = $6, total_minor = $7,
			shipping_address = $8, billing_address = $9,
			version = version + 1, updated_at = $10,
			paid_at = $11, confirmed_at = $12, shipped_at = $13,
			delivered_at = $14, cancelled_at = $15, completed_at = $16
		WHERE id = $17 AND version = $18
	`,
		string(order.Status), order.Currency,
		order.SubtotalMinor, order.TaxMinor, order.ShippingMinor,
		order.DiscountMinor, order.TotalMinor,
		shippingJSON, billingJSON,
		order.UpdatedAt,
		order.PaidAt, order.ConfirmedAt, order.ShippedAt,
		order.DeliveredAt, order.CancelledAt, order.CompletedAt,
		order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for order %s: %w", order.ID, err)
	}
	if affected == 0 {
		// Либо заказа нет, либо версия устарела. Различаем по наличию строки.
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check order existence %s: %w", order.ID, err)
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

// NextNumber выделяет следующий номер заказа дня через upsert счётчика.
// INSERT ... ON CONFLICT DO UPDATE атомарен, гонки двух процессов невозможны.
func (r *orderRepositoryPostgres) NextNumber(day time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	key := day.UTC().Format("20060102")

	var counter int64
	if err := r.db.QueryRowContext(ctx, `
		INSERT INTO order_number_counters (day, counter)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET counter = order_number_counters.counter + 1
		RETURNING counter
	`, key).Scan(&counter); err != nil {
		return "", fmt.Errorf("allocate order number for %s: %w", key, err)
	}

	return fmt.Sprintf("ORD-%s-%06d", key, counter), nil
}

func (r *orderRepositoryPostgres) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, sku, qty, price_minor, subtotal_minor, tax_minor, total_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 4)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.SKU, &item.Qty,
			&item.PriceMinor, &item.SubtotalMinor, &item.TaxMinor, &item.TotalMinor,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items %s: %w", orderID, err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                     domain.Order
		status                    string
		shippingJSON, billingJSON []byte
	)

	err := row.Scan(
		&order.ID, &order.Number, &order.CustomerID, &status, &order.Currency,
		&order.SubtotalMinor, &order.TaxMinor, &order.ShippingMinor, &order.DiscountMinor, &order.TotalMinor,
		&shippingJSON, &billingJSON, &order.Version, &order.CreatedAt, &order.UpdatedAt,
		&order.PaidAt, &order.ConfirmedAt, &order.ShippedAt, &order.DeliveredAt, &order.CancelledAt, &order.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}

	order.Status = domain.OrderStatus(status)
	if len(shippingJSON) > 0 {
		if err := json.Unmarshal(shippingJSON, &order.ShippingAddress); err != nil {
			return domain.Order{}, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	if len(billingJSON) > 0 {
		if err := json.Unmarshal(billingJSON, &order.BillingAddress); err != nil {
			return domain.Order{}, fmt.Errorf("unmarshal billing address: %w", err)
		}
	}

	return order, nil
}

func marshalAddresses(order domain.Order) ([]byte, []byte, error) {
	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal shipping address: %w", err)
	}
	billingJSON, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal billing address: %w", err)
	}
	return shippingJSON, billingJSON, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ domain.OrderRepository = (*orderRepositoryPostgres)(nil)
