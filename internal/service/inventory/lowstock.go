package inventory

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const defaultLowStockScanInterval = 5 * time.Minute

var (
	lowStockScanRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_low_stock_scan_runs_total",
		Help: "Total number of low stock scan runs grouped by result.",
	}, []string{"result"})
	lowStockItemsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commerce_low_stock_items",
		Help: "Number of inventory items currently at or below their low stock threshold.",
	})
)

// LowStockMonitor периодически сканирует склад и алертит о позициях с
// остатком на пороге или ниже. Алерт отправляется на каждом проходе, пока
// позиция остаётся низкой: дедупликация и rate limiting — ответственность
// потребителя события.
type LowStockMonitor struct {
	ledger   *Ledger
	interval time.Duration
	logger   *log.Entry
}

// MonitorOption настраивает LowStockMonitor.
type MonitorOption func(*LowStockMonitor)

// WithScanInterval задаёт интервал между сканированиями.
func WithScanInterval(interval time.Duration) MonitorOption {
	return func(m *LowStockMonitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// NewLowStockMonitor создаёт монитор низких остатков.
func NewLowStockMonitor(ledger *Ledger, opts ...MonitorOption) *LowStockMonitor {
	m := &LowStockMonitor{
		ledger:   ledger,
		interval: defaultLowStockScanInterval,
		logger:   log.WithField("component", "low-stock-monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run запускает периодическое сканирование до отмены ctx.
func (m *LowStockMonitor) Run(ctx context.Context) {
	if m.ledger == nil {
		m.logger.Warn("low stock monitor is disabled: ledger is nil")
		return
	}

	m.ScanOnce()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ScanOnce()
		}
	}
}

// ScanOnce выполняет один проход сканирования: по одному алерту на каждую
// низкую позицию за проход.
func (m *LowStockMonitor) ScanOnce() {
	items, err := m.ledger.ListLowStock()
	if err != nil {
		lowStockScanRunsTotal.WithLabelValues("error").Inc()
		m.logger.WithError(err).Warn("low stock scan failed")
		return
	}

	lowStockScanRunsTotal.WithLabelValues("ok").Inc()
	lowStockItemsGauge.Set(float64(len(items)))

	for _, item := range items {
		m.ledger.EmitLowStockAlert(item)
	}
}
