package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/docvault/internal/adapters/mcp"
	"github.com/kirillkom/docvault/internal/bootstrap"
	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/observability/logging"
)

const serviceName = "docvault-mcp"

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.MCPServiceUserID == "" {
		logger.Error("mcp_user_missing", "env", "MCP_USER_ID")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: serviceName, Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	logger.Info("mcp_serving", "user_id", cfg.MCPServiceUserID, "tools", mcpadapter.ToolNames())
	err = mcpadapter.Run(mcpadapter.Services{
		Queue:     app.Queue,
		Processor: app.Processor,
		Sweeper:   app.Sweeper,
		Entities:  app.Entities,
	}, mcpadapter.Options{
		UserID:         cfg.MCPServiceUserID,
		ProcessTimeout: cfg.ProcessTimeout,
		Logger:         logger,
	}, Version)
	if err != nil {
		logger.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
