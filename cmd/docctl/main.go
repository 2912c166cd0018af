package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kirillkom/docvault/internal/bootstrap"
	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/observability/logging"
)

const serviceName = "docvault-docctl"

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)

	open := func(ctx context.Context) (*backend, func(), error) {
		app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: serviceName, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return &backend{
			Sweeper:   app.Sweeper,
			Processor: app.Processor,
			Queue:     app.Queue,
			Folders:   app.Folders,
		}, app.Close, nil
	}

	app := newCLIApp(cfg, open, os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
