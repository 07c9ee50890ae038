package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/metrics"
)

// RegisterInput — параметры регистрации складской позиции.
type RegisterInput struct {
	ProductID         string
	SKU               string
	Total             int64
	LowStockThreshold int64
}

// Ledger — учётные операции склада: регистрация позиций, корректировки,
// журнал движений и алерты о низком остатке. Резервами занимается Engine.
type Ledger struct {
	repo    domain.InventoryRepository
	outbox  domain.OutboxRepository
	metrics *metrics.CommerceMetrics
	logger  *log.Entry
}

// NewLedger создаёт учётный сервис склада. metrics может быть nil.
func NewLedger(repo domain.InventoryRepository, outbox domain.OutboxRepository, m *metrics.CommerceMetrics) *Ledger {
	return &Ledger{
		repo:    repo,
		outbox:  outbox,
		metrics: m,
		logger:  log.WithField("component", "inventory-ledger"),
	}
}

// RegisterItem регистрирует позицию или возвращает существующую.
// Идемпотентен по product_id: повторная регистрация не трогает остатки.
func (l *Ledger) RegisterItem(input RegisterInput) (domain.InventoryItem, bool, error) {
	if input.ProductID == "" || input.SKU == "" {
		return domain.InventoryItem{}, false, domain.ErrProductRequired
	}
	if input.Total < 0 {
		return domain.InventoryItem{}, false, domain.ErrInvalidAdjustment
	}

	item, created, err := l.repo.GetOrCreate(domain.InventoryItem{
		ProductID:         input.ProductID,
		SKU:               input.SKU,
		Total:             input.Total,
		LowStockThreshold: input.LowStockThreshold,
	})
	if err != nil {
		return domain.InventoryItem{}, false, err
	}

	if created {
		l.logger.WithFields(log.Fields{
			"product_id": item.ProductID,
			"sku":        item.SKU,
			"total":      item.Total,
		}).Info("inventory item registered")
	}

	return item, created, nil
}

// AdjustStock применяет корректировку остатка. Допустимы только типы
// restock и adjustment: остальные движения порождаются резервами.
func (l *Ledger) AdjustStock(productID string, delta int64, movement domain.MovementType, reason string) (domain.InventoryItem, error) {
	if movement != domain.MovementRestock && movement != domain.MovementAdjustment {
		return domain.InventoryItem{}, fmt.Errorf("movement type %q is not a manual adjustment", movement)
	}
	if delta == 0 {
		return l.repo.GetByProduct(productID)
	}

	item, err := l.repo.Adjust(productID, delta, movement, reason)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAdjustment) {
			l.logger.WithFields(log.Fields{
				"product_id": productID,
				"delta":      delta,
			}).Warn("stock adjustment rejected: available would go negative")
		}
		return domain.InventoryItem{}, err
	}

	l.logger.WithFields(log.Fields{
		"product_id": item.ProductID,
		"sku":        item.SKU,
		"delta":      delta,
		"movement":   movement,
		"available":  item.Available,
	}).Info("stock adjusted")

	if item.IsLowStock() {
		l.EmitLowStockAlert(item)
	}

	return item, nil
}

// Get возвращает позицию по product_id.
func (l *Ledger) Get(productID string) (domain.InventoryItem, error) {
	return l.repo.GetByProduct(productID)
}

// ListLowStock возвращает позиции с остатком на пороге или ниже.
func (l *Ledger) ListLowStock() ([]domain.InventoryItem, error) {
	return l.repo.ListLowStock()
}

// Movements возвращает журнал движений позиции, новые первыми.
func (l *Ledger) Movements(productID string, limit int) ([]domain.StockMovement, error) {
	return l.repo.ListMovements(productID, limit)
}

// EmitLowStockAlert ставит inventory.low_stock в outbox.
func (l *Ledger) EmitLowStockAlert(item domain.InventoryItem) {
	payload, err := json.Marshal(lowStockPayload{
		ProductID:  item.ProductID,
		SKU:        item.SKU,
		Available:  item.Available,
		Threshold:  item.LowStockThreshold,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		l.logger.WithError(err).WithField("product_id", item.ProductID).Warn("failed to marshal low stock alert")
		return
	}

	if _, err := l.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateInventory,
		AggregateID:   item.ProductID,
		EventType:     domain.EventInventoryLowStock,
		Payload:       payload,
	}); err != nil {
		l.logger.WithError(err).WithField("product_id", item.ProductID).Warn("failed to enqueue low stock alert")
		return
	}

	if l.metrics != nil {
		l.metrics.RecordLowStockAlert()
	}
	l.logger.WithFields(log.Fields{
		"product_id": item.ProductID,
		"sku":        item.SKU,
		"available":  item.Available,
		"threshold":  item.LowStockThreshold,
	}).Warn("low stock alert")
}

type lowStockPayload struct {
	ProductID  string    `json:"product_id"`
	SKU        string    `json:"sku"`
	Available  int64     `json:"available"`
	Threshold  int64     `json:"threshold"`
	OccurredAt time.Time `json:"occurred_at"`
}
