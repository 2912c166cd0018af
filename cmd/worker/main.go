package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kirillkom/docvault/internal/bootstrap"
	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/infrastructure/scheduler"
	"github.com/kirillkom/docvault/internal/infrastructure/workerpool"
	"github.com/kirillkom/docvault/internal/observability/logging"
	"github.com/kirillkom/docvault/internal/observability/metrics"
)

const serviceName = "docvault-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug("maxprocs", "detail", fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("maxprocs_set_failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service: serviceName,
		Logger:  logger,
		Metrics: workerMetrics,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	pool, err := workerpool.New(cfg.WorkerConcurrency, workerpool.Options{
		MaxWaiting: cfg.WorkerConcurrency * 16,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("worker_pool_init_failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := pool.Release(cfg.ProcessTimeout); err != nil {
			logger.Warn("worker_pool_release_failed", "error", err)
		}
	}()
	workerMetrics.RegisterPoolGauge(pool.Running)

	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, workerMetrics.Handler(), logger)
	defer shutdown(metricsServer, logger)

	run := &runner{
		ctx:     ctx,
		app:     app,
		pool:    pool,
		logger:  logger,
		timeout: cfg.ProcessTimeout,
	}

	if cfg.WorkerStartupScan {
		go run.startupScan()
	}

	sched := scheduler.New(logger, time.Minute)
	if err := sched.Add("queue_health_sweep", cfg.SweepSchedule, func(jobCtx context.Context) error {
		result, err := app.Sweeper.Sweep(jobCtx)
		if err != nil {
			return err
		}
		if result.Count > 0 {
			logger.Info("queue_sweep_reclaimed", "count", result.Count)
		}
		return nil
	}); err != nil {
		logger.Error("scheduler_init_failed", "schedule", cfg.SweepSchedule, "error", err)
		os.Exit(1)
	}
	go sched.Run(ctx)

	logger.Info("worker_subscribed", "subject", cfg.NATSEventsSubject, "group", cfg.NATSWorkerGroup, "concurrency", pool.Cap())
	err = app.Events.SubscribeQueueEvents(ctx, cfg.NATSWorkerGroup, func(_ context.Context, event domain.QueueEvent) error {
		if !event.TriggersProcessing() {
			return nil
		}
		return run.submit(event.Item.ID)
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}

// runner hands queue rows to the pool. Submit blocks while the pool is full,
// which slows the subscription down instead of piling up goroutines.
type runner struct {
	ctx     context.Context
	app     *bootstrap.App
	pool    *workerpool.Pool
	logger  *slog.Logger
	timeout time.Duration
}

func (r *runner) submit(queueID string) error {
	return r.pool.Submit(r.ctx, func(taskCtx context.Context) {
		processCtx, cancel := context.WithTimeout(taskCtx, r.timeout)
		defer cancel()
		result, err := r.app.Processor.ProcessByID(processCtx, queueID, domain.ProcessOptions{})
		if err != nil {
			r.logger.Error("queue_process_failed", "queue_id", queueID, "error", err)
			return
		}
		if !result.Success {
			r.logger.Info("queue_process_unsuccessful", "queue_id", queueID, "message", result.Message)
		}
	})
}

// startupScan picks up rows that were waiting while no worker was running.
func (r *runner) startupScan() {
	ids, err := r.app.QueueRepo.ListWaitingIDs(r.ctx)
	if err != nil {
		r.logger.Error("startup_scan_failed", "error", err)
		return
	}
	r.logger.Info("startup_scan", "waiting", len(ids))
	for _, id := range ids {
		if err := r.submit(id); err != nil {
			if !errors.Is(err, context.Canceled) {
				r.logger.Warn("startup_scan_submit_failed", "queue_id", id, "error", err)
			}
			return
		}
	}
}

func startMetricsServer(port string, handler http.Handler, logger *slog.Logger) *http.Server {
	if port == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	return server
}

func shutdown(server *http.Server, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("worker_metrics_shutdown_failed", "error", err)
	}
}
