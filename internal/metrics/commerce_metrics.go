package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CommerceMetrics содержит метрики жизненного цикла заказа и склада.
type CommerceMetrics struct {
	// Счётчики переходов state machine, с меткой целевого статуса
	transitions      *prometheus.CounterVec
	transitionDenied prometheus.Counter
	versionConflicts prometheus.Counter

	// Счётчики складских операций
	reservations       prometheus.Counter
	reservationsDenied prometheus.Counter
	confirmations      prometheus.Counter
	releases           *prometheus.CounterVec
	lowStockAlerts     prometheus.Counter

	// Гистограммы времени выполнения
	transitionDuration  prometheus.Histogram
	reservationDuration prometheus.Histogram

	// Gauge для pending-резервов
	pendingReservations prometheus.Gauge
}

// NewCommerceMetrics создаёт новый экземпляр метрик.
func NewCommerceMetrics() *CommerceMetrics {
	return newCommerceMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCommerceMetricsWithRegisterer(registerer prometheus.Registerer) *CommerceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CommerceMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_order_transitions_total",
			Help: "Total number of successful order status transitions",
		}, []string{"to_status"}),
		transitionDenied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_order_transitions_denied_total",
			Help: "Total number of rejected order status transitions",
		}),
		versionConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_order_version_conflicts_total",
			Help: "Total number of optimistic locking conflicts on order save",
		}),
		reservations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_inventory_reservations_total",
			Help: "Total number of stock reservations placed",
		}),
		reservationsDenied: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_inventory_reservations_denied_total",
			Help: "Total number of reservations denied due to insufficient stock",
		}),
		confirmations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_inventory_confirmations_total",
			Help: "Total number of reservations confirmed (stock committed)",
		}),
		releases: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "commerce_inventory_releases_total",
			Help: "Total number of reservations released back to available stock",
		}, []string{"status"}),
		lowStockAlerts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "commerce_inventory_low_stock_alerts_total",
			Help: "Total number of low stock alerts emitted",
		}),
		transitionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "commerce_order_transition_duration_seconds",
			Help:    "Duration of order status transitions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		reservationDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "commerce_inventory_reservation_duration_seconds",
			Help:    "Duration of stock reservation operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		pendingReservations: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "commerce_inventory_pending_reservations",
			Help: "Number of currently pending stock reservations",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTransition увеличивает счётчик успешных переходов.
func (m *CommerceMetrics) RecordTransition(toStatus string) {
	m.transitions.WithLabelValues(toStatus).Inc()
}

// RecordTransitionDenied увеличивает счётчик отклонённых переходов.
func (m *CommerceMetrics) RecordTransitionDenied() {
	m.transitionDenied.Inc()
}

// RecordVersionConflict увеличивает счётчик конфликтов optimistic locking.
func (m *CommerceMetrics) RecordVersionConflict() {
	m.versionConflicts.Inc()
}

// RecordReservation увеличивает счётчик резервов и gauge pending-резервов.
func (m *CommerceMetrics) RecordReservation() {
	m.reservations.Inc()
	m.pendingReservations.Inc()
}

// RecordReservationDenied увеличивает счётчик отказов из-за нехватки стока.
func (m *CommerceMetrics) RecordReservationDenied() {
	m.reservationsDenied.Inc()
}

// RecordConfirmation фиксирует подтверждение резерва.
func (m *CommerceMetrics) RecordConfirmation() {
	m.confirmations.Inc()
	m.pendingReservations.Dec()
}

// RecordRelease фиксирует снятие резерва; status — released или expired.
func (m *CommerceMetrics) RecordRelease(status string) {
	m.releases.WithLabelValues(status).Inc()
	m.pendingReservations.Dec()
}

// RecordLowStockAlert увеличивает счётчик алертов о низком остатке.
func (m *CommerceMetrics) RecordLowStockAlert() {
	m.lowStockAlerts.Inc()
}

// RecordTransitionDuration записывает время выполнения перехода.
func (m *CommerceMetrics) RecordTransitionDuration(duration time.Duration) {
	m.transitionDuration.Observe(duration.Seconds())
}

// RecordReservationDuration записывает время постановки резерва.
func (m *CommerceMetrics) RecordReservationDuration(duration time.Duration) {
	m.reservationDuration.Observe(duration.Seconds())
}
