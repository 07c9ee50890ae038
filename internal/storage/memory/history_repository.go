package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
)

// historyRepositoryInMemory хранит историю статусов в памяти (для разработки/тестов).
type historyRepositoryInMemory struct {
	mu      sync.RWMutex
	entries map[string][]domain.HistoryEntry
}

// NewHistoryRepository создаёт in-memory реализацию HistoryRepository.
func NewHistoryRepository() domain.HistoryRepository {
	return &historyRepositoryInMemory{entries: make(map[string][]domain.HistoryEntry)}
}

// Append добавляет запись в историю заказа.
func (r *historyRepositoryInMemory) Append(entry domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.entries[entry.OrderID] = append(r.entries[entry.OrderID], entry)

	sort.SliceStable(r.entries[entry.OrderID], func(i, j int) bool {
		return r.entries[entry.OrderID][i].CreatedAt.Before(r.entries[entry.OrderID][j].CreatedAt)
	})

	return nil
}

// List возвращает историю заказа в хронологическом порядке.
func (r *historyRepositoryInMemory) List(orderID string) ([]domain.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.entries[orderID]
	result := make([]domain.HistoryEntry, len(entries))
	copy(result, entries)
	return result, nil
}

var _ domain.HistoryRepository = (*historyRepositoryInMemory)(nil)
