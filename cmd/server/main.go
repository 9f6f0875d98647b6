package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adaptivelab/bitly-historics/config"
	"github.com/adaptivelab/bitly-historics/internal/app/bootstrap"
	appserver "github.com/adaptivelab/bitly-historics/internal/app/server"
	"github.com/adaptivelab/bitly-historics/internal/app/service"
	"github.com/adaptivelab/bitly-historics/internal/http/handler"
	"github.com/adaptivelab/bitly-historics/internal/infra/logger"
	infraPrometheus "github.com/adaptivelab/bitly-historics/internal/infra/prometheus"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.MustNew(logger.FromApp(cfg.App))

	err = run(ctx, cfg, log)
	if err != nil {
		log.Error("server exited", zap.Error(err))
	}
	_ = logger.Sync(log)
	if err != nil {
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. Every deferred close runs before it
// returns, including on startup failures.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("configuration loaded",
		zap.String("env", cfg.App.Env),
		zap.String("store", cfg.Store.Driver),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("nats_host", cfg.NATS.Host),
	)

	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{Name: "historics-server"})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if app.JetStream != nil {
		consumer := service.NewRefreshConsumer(app.JetStream, log.Named("auditor"), app.Events)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start refresh consumer: %w", err)
		}
		log.Info("refresh consumer started")
	}

	if cfg.Prometheus.Enabled || cfg.App.Production() {
		go infraPrometheus.Serve(ctx, infraPrometheus.NewServer(cfg.Prometheus), log)
	} else {
		log.Info("skipping prometheus metrics server")
	}

	reportDeps := handler.ReportDeps{
		Logger:  log.Named("http"),
		Reports: app.Reports,
		Events:  app.Events,
		Ping:    app.Ping,
	}
	if app.HasAPI() {
		reportDeps.Discoverer = app.Discovery
		reportDeps.Cycles = app.Updater
	}

	deps := appserver.Dependencies{
		Logger:             log.Named("http"),
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		CORSOrigin:         cfg.HTTP.CORSOrigin,
		Reports:            reportDeps,
	}
	if app.Redis != nil {
		deps.Redis = app.Redis
	}
	server := appserver.New(ctx, deps)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown", zap.Error(err))
		}
	}()

	port := cfg.HTTP.Port
	if port == 0 {
		port = 8080
	}
	log.Info("http server listening", zap.Int("port", port))
	if err := server.Listen(fmt.Sprintf(":%d", port)); err != nil {
		return fmt.Errorf("fiber server: %w", err)
	}
	return nil
}
