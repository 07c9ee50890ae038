package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/domain"
	healthcheck "github.com/DarkDragonEl/commerce-sub000/internal/health"
	"github.com/DarkDragonEl/commerce-sub000/internal/metrics"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/coordinator"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/inventory"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/order"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/outbox"
	"github.com/DarkDragonEl/commerce-sub000/internal/service/sweeper"
	"github.com/DarkDragonEl/commerce-sub000/internal/version"
)

// Run собирает и запускает сервис: хранилище, state machine, движок
// резервирования, координатор, воркеры и HTTP-эндпоинт метрик/health.
// Блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close storage")
		}
	}()

	commerceMetrics := metrics.NewCommerceMetrics()

	machine := order.NewMachine(deps.Orders, deps.History, deps.Outbox,
		order.WithMachineMetrics(commerceMetrics),
	)
	engine := inventory.NewEngine(deps.Inventory, deps.Outbox,
		inventory.WithReservationTTL(cfg.ReservationTTL),
		inventory.WithEngineMetrics(commerceMetrics),
	)
	ledger := inventory.NewLedger(deps.Inventory, deps.Outbox, commerceMetrics)
	coord := coordinator.New(deps.Orders, machine, engine)

	producer, consumer, err := initKafka(cfg, coord, logger)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			if closeErr := producer.Close(); closeErr != nil {
				logger.WithError(closeErr).Warn("failed to close kafka producer")
			}
		}
	}()

	var publisher domain.OutboxPublisher
	if producer != nil {
		publisher = newKafkaPublisher(producer)
	} else {
		publisher = newLogPublisher(logger)
	}

	outboxWorker := outbox.NewWorker(deps.Outbox, publisher,
		outbox.WithPollInterval(cfg.OutboxPollInterval),
	)
	expirySweeper := sweeper.New(engine, machine, deps.Orders,
		sweeper.WithInterval(cfg.SweepInterval),
	)
	lowStockMonitor := inventory.NewLowStockMonitor(ledger,
		inventory.WithScanInterval(cfg.LowStockScanInterval),
	)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var wg sync.WaitGroup
	runWorker := func(run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(workerCtx)
		}()
	}
	runWorker(outboxWorker.Run)
	runWorker(expirySweeper.Run)
	runWorker(lowStockMonitor.Run)

	if consumer != nil {
		if err := consumer.Start(workerCtx); err != nil {
			return err
		}
	}

	healthHandler := healthcheck.NewHandler(version.Version())
	if deps.Store != nil {
		store := deps.Store
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}))
	}

	httpSrv := startHTTPServer(ctx, cfg.HTTPAddr, logger, healthHandler)

	logger.WithFields(log.Fields{
		"http_addr": cfg.HTTPAddr,
		"storage":   cfg.StorageDriver,
		"version":   version.String(),
	}).Info("commerce service started")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	cancelWorkers()
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	wg.Wait()
	shutdownHTTP(httpSrv, logger)

	logger.Info("commerce service stopped")
	return ctx.Err()
}

// startHTTPServer запускает HTTP-обработчики /metrics, /healthz, /readyz и /livez.
func startHTTPServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
