package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adaptivelab/bitly-historics/config"
	"github.com/adaptivelab/bitly-historics/internal/infra/logger"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.MustNew(logger.FromApp(cfg.App))
	defer func() { _ = logger.Sync(log) }()

	if err := run(ctx, cfg, log, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Error("command failed", zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
}
