package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/storage/memory"
	"github.com/DarkDragonEl/commerce-sub000/internal/storage/postgres"
)

// Dependencies содержит хранилища приложения и ссылку на postgres store
// (nil при in-memory драйвере).
type Dependencies struct {
	Orders    domain.OrderRepository
	History   domain.HistoryRepository
	Inventory domain.InventoryRepository
	Outbox    domain.OutboxRepository

	Store  *postgres.Store
	Logger *log.Entry
}

// NewDependencies создаёт хранилища по драйверу из конфигурации.
// Для postgres применяются pending-миграции.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("postgres storage initialized")

		return &Dependencies{
			Orders:    postgres.NewOrderRepository(store),
			History:   postgres.NewHistoryRepository(store),
			Inventory: postgres.NewInventoryRepository(store),
			Outbox:    postgres.NewOutboxRepository(store),
			Store:     store,
			Logger:    logger,
		}, nil

	case StorageMemory:
		logger.Info("in-memory storage initialized")
		return &Dependencies{
			Orders:    memory.NewOrderRepository(),
			History:   memory.NewHistoryRepository(),
			Inventory: memory.NewInventoryRepository(),
			Outbox:    memory.NewOutboxRepository(),
			Logger:    logger,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() error {
	if d.Store != nil {
		return d.Store.Close()
	}
	return nil
}
