package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/inventory"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/order"
)

const (
	defaultSweepInterval  = 1 * time.Minute
	defaultSweepBatchSize = 200

	actorSweeper = "sweeper"
)

var (
	sweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commerce_sweeper_runs_total",
		Help: "Total number of expiry sweeper runs grouped by result.",
	}, []string{"result"})
	sweeperExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commerce_sweeper_expired_reservations_total",
		Help: "Total number of reservations expired by the sweeper.",
	})
	sweeperCancelledOrdersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commerce_sweeper_cancelled_orders_total",
		Help: "Total number of pre-payment orders cancelled by the sweeper.",
	})
	sweeperLastExpired = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commerce_sweeper_last_expired",
		Help: "Number of reservations expired during the last sweep.",
	})
)

// Options задаёт параметры sweeper'а.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// Option настраивает Sweeper.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задаёт размер batch для одного прохода.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Sweeper — страховочный механизм консистентности: периодически снимает
// pending-резервы с истёкшим дедлайном и отменяет брошенные заказы,
// не дошедшие до оплаты. Единственный путь возврата стока, удержанного
// заказами с незавершённым checkout.
type Sweeper struct {
	engine    *inventory.Engine
	machine   *order.Machine
	orders    domain.OrderRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// New создаёт sweeper.
func New(engine *inventory.Engine, machine *order.Machine, orders domain.OrderRepository, options ...Option) *Sweeper {
	opts := Options{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "expiry-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		engine:    engine,
		machine:   machine,
		orders:    orders,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.engine == nil {
		s.logger.Warn("expiry sweeper is disabled: engine is nil")
		return
	}

	s.sweep(ctx, time.Now().UTC())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	expired, err := s.SweepOnce(ctx, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweeperRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("sweep run failed")
		return
	}

	sweeperRunsTotal.WithLabelValues("ok").Inc()
	sweeperLastExpired.Set(float64(expired))
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("sweep completed")
	}
}

// SweepOnce снимает все резервы с дедлайном раньше now порциями batchSize
// и возвращает количество снятых. Для каждого резерва: release со статусом
// expired; если родительский заказ ещё не дошёл до оплаты, он отменяется
// с причиной "reservation expired".
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	totalExpired := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalExpired, err
		}

		batch, err := s.engine.ListExpiredReservations(now, s.batchSize)
		if err != nil {
			return totalExpired, err
		}
		if len(batch) == 0 {
			break
		}

		released := 0
		for _, res := range batch {
			if err := ctx.Err(); err != nil {
				return totalExpired, err
			}

			if _, err := s.engine.Release(res.ID, domain.ReservationStatusExpired); err != nil {
				// Резерв могли закрыть конкурентно (оплата успела раньше).
				if errors.Is(err, domain.ErrReservationNotPending) {
					released++ // резерв уже не pending и выпадет из выборки
					continue
				}
				s.logger.WithError(err).WithField("reservation_id", res.ID).Warn("failed to expire reservation")
				continue
			}
			released++
			totalExpired++
			sweeperExpiredTotal.Inc()

			if res.OrderID != "" {
				s.cancelAbandonedOrder(res.OrderID)
			}
		}

		// Если из батча не ушёл ни один резерв, повторное перечитывание
		// вернёт ту же выборку: оставляем backlog следующему проходу.
		if released == 0 || len(batch) < s.batchSize {
			break
		}
	}

	return totalExpired, nil
}

// cancelAbandonedOrder отменяет заказ, если он всё ещё не дошёл до оплаты.
func (s *Sweeper) cancelAbandonedOrder(orderID string) {
	ord, err := s.orders.Get(orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to load order for expired reservation")
		return
	}

	if ord.Status != domain.OrderStatusPending && ord.Status != domain.OrderStatusPaymentPending {
		return
	}

	if _, err := s.machine.Transition(orderID, domain.OrderStatusCancelled, actorSweeper, "reservation expired"); err != nil {
		// Конкурентный переход мог успеть раньше; это не ошибка sweeper'а.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return
		}
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to cancel abandoned order")
		return
	}

	sweeperCancelledOrdersTotal.Inc()
	s.logger.WithField("order_id", orderID).Info("abandoned order cancelled")
}
