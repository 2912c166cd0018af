package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/docvault/internal/adapters/http"
	"github.com/kirillkom/docvault/internal/bootstrap"
	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/observability/logging"
	"github.com/kirillkom/docvault/internal/observability/metrics"
)

const serviceName = "docvault-api"

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

	apiMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service: serviceName,
		Logger:  logger,
		Metrics: apiMetrics,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router, err := httpadapter.NewRouter(httpadapter.Services{
		Ingestor:  app.Ingestor,
		Processor: app.Processor,
		Sweeper:   app.Sweeper,
		Queue:     app.Queue,
		Review:    app.Review,
		Documents: app.Documents,
		Entities:  app.Entities,
		Folders:   app.Folders,
		Sessions:  app.Sessions,
		Feed:      app.Feed,
	}, httpadapter.Options{
		Logger:           logger,
		Metrics:          apiMetrics,
		AuthSecret:       cfg.AuthJWTSecret,
		RateLimitRPS:     cfg.APIRateLimitRPS,
		RateLimitBurst:   cfg.APIRateLimitBurst,
		BackpressureMax:  cfg.APIBackpressureMax,
		BackpressureWait: cfg.APIBackpressureWait,
		UploadMaxBytes:   cfg.APIUploadMaxBytes,
		ProcessTimeout:   cfg.ProcessTimeout,
		ValidateRequests: cfg.APIOpenAPIValidation,
		HealthCheck:      app.HealthCheck,
	})
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	// Every API instance receives all events so each can feed its own
	// stream subscribers.
	go func() {
		err := app.Events.SubscribeQueueEvents(ctx, "", func(_ context.Context, event domain.QueueEvent) error {
			if dropped := app.Feed.Publish(event); dropped > 0 {
				logger.Debug("queue_feed_dropped", "subscribers", dropped, "kind", event.Kind)
			}
			return nil
		})
		if err != nil {
			logger.Error("queue_feed_subscribe_failed", "error", err)
		}
	}()

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("api_listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConns)
	}

	server := &http.Server{
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads and inline processing outlive the usual write budget.
		WriteTimeout: cfg.ProcessTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_conns", cfg.APIMaxConns)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.APIShutdownGracePeriod)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
	logger.Info("api_stopped")
}
