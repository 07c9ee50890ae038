package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

// historyRepositoryPostgres хранит append-only историю статусов в order_history.
type historyRepositoryPostgres struct {
	db *sql.DB
}

// NewHistoryRepository создаёт PostgreSQL-реализацию HistoryRepository.
func NewHistoryRepository(store *Store) domain.HistoryRepository {
	return &historyRepositoryPostgres{db: store.DB()}
}

// Append добавляет запись в историю заказа.
func (r *historyRepositoryPostgres) Append(entry domain.HistoryEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var fromStatus *string
	if entry.From != nil {
		s := string(*entry.From)
		fromStatus = &s
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO order_history (id, order_id, from_status, to_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		entry.ID, entry.OrderID, fromStatus, string(entry.To), entry.Actor, entry.Reason, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert history entry for order %s: %w", entry.OrderID, err)
	}

	return nil
}

// List возвращает историю заказа в хронологическом порядке.
func (r *historyRepositoryPostgres) List(orderID string) ([]domain.HistoryEntry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, actor, reason, created_at
		FROM order_history
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list history for order %s: %w", orderID, err)
	}
	defer rows.Close()

	entries := make([]domain.HistoryEntry, 0, 8)
	for rows.Next() {
		var (
			entry      domain.HistoryEntry
			fromStatus sql.NullString
			toStatus   string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &fromStatus, &toStatus, &entry.Actor, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if fromStatus.Valid {
			from := domain.OrderStatus(fromStatus.String)
			entry.From = &from
		}
		entry.To = domain.OrderStatus(toStatus)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history entries: %w", err)
	}

	return entries, nil
}

var _ domain.HistoryRepository = (*historyRepositoryPostgres)(nil)
