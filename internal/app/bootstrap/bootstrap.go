// Package bootstrap assembles stores, clients and services from config.
// Both binaries share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adaptivelab/bitly-historics/config"
	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/app/repository"
	"github.com/adaptivelab/bitly-historics/internal/app/service"
	"github.com/adaptivelab/bitly-historics/internal/bitly"
	natsclient "github.com/adaptivelab/bitly-historics/internal/infra/nats"
	infraPostgres "github.com/adaptivelab/bitly-historics/internal/infra/postgres"
	infraRedis "github.com/adaptivelab/bitly-historics/internal/infra/redis"
	infraSQLite "github.com/adaptivelab/bitly-historics/internal/infra/sqlite"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cycleLockKey   = "historics:refresh:cycle"
	callsKeyPrefix = "historics:bitly:calls"
)

// Options tunes what New connects to.
type Options struct {
	// Name identifies the process to NATS.
	Name string
	// RequireAPI fails New when no bitly access token is configured.
	RequireAPI bool
	// Registerer receives the service metrics. Nil uses the default registry.
	Registerer prometheus.Registerer
}

// App holds the wired components. Optional parts are nil when not configured:
// Redis, NATS and everything that needs the bitly API.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB        *gorm.DB
	Redis     *redis.Client
	NATS      *nats.Conn
	JetStream nats.JetStreamContext

	Links  repository.LinkRepository
	Series repository.SeriesRepository
	Events repository.RefreshEventRepository

	Metrics   *service.Metrics
	Reports   *service.Reports
	Scheduler *service.Scheduler
	Bitly     *bitly.Client
	Discovery *service.Discovery
	Refresher *service.Refresher
	Updater   *service.Updater

	// Ping checks the primary store.
	Ping func(ctx context.Context) error

	closers []func()
}

// New opens the store, runs migrations and builds every service cfg allows.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// HasAPI reports whether the bitly-backed services are available.
func (a *App) HasAPI() bool {
	return a.Bitly != nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config
	log := a.Logger

	if err := a.openStore(ctx); err != nil {
		return err
	}

	a.Links = repository.NewLinkRepository(a.DB)
	a.Series = repository.NewSeriesRepository(a.DB)
	a.Events = repository.NewRefreshEventRepository(a.DB)

	if infraRedis.Enabled(cfg.Redis) {
		client, err := infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		log.Info("connected to redis", zap.String("addr", infraRedis.Addr(cfg.Redis)))
	}

	if natsclient.Enabled(cfg.NATS) {
		conn, js, err := natsclient.Connect(cfg.NATS, opts.Name)
		if err != nil {
			return err
		}
		a.NATS = conn
		a.JetStream = js
		a.closers = append(a.closers, func() { _ = conn.Drain() })
		log.Info("connected to nats", zap.String("url", natsclient.URL(cfg.NATS)))
	}

	a.Metrics = service.NewMetrics(opts.Registerer)
	a.Reports = service.NewReports(a.Links, a.Series, cfg.Refresh.InactivityThreshold, cfg.Bitly.ShortPrefix)
	a.Scheduler = service.NewScheduler(a.Links, a.Series, service.SchedulerOptions{
		Interval:            cfg.Refresh.Interval,
		InactivityThreshold: cfg.Refresh.InactivityThreshold,
		ShortPrefix:         cfg.Bitly.ShortPrefix,
	})

	return a.initAPI(opts)
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Store.Driver {
	case "", "postgres":
		db, err := infraPostgres.NewGorm(cfg.Postgres)
		if err != nil {
			return err
		}
		if err := a.useDB(db); err != nil {
			return err
		}
		probe, err := infraPostgres.NewProbe(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("store: connect probe: %w", err)
		}
		a.closers = append(a.closers, probe.Close)
		a.Ping = probe.Ping
	case "sqlite":
		db, err := infraSQLite.NewGorm(cfg.SQLite)
		if err != nil {
			return err
		}
		if err := a.useDB(db); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}

	return infraPostgres.AutoMigrate(ctx, a.DB, &model.ShortLink{}, &model.ClickSeries{}, &model.RefreshEvent{})
}

// useDB adopts db as the document store and registers it for Close
// before anything else can fail.
func (a *App) useDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("store: access sql db: %w", err)
	}
	a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	a.DB = db
	a.Ping = sqlDB.PingContext
	return nil
}

func (a *App) initAPI(opts Options) error {
	cfg := a.Config
	log := a.Logger

	var throttle bitly.Throttle
	if a.Redis != nil && cfg.Bitly.CallsPerMinute > 0 {
		throttle = infraRedis.NewThrottle(a.Redis, callsKeyPrefix, cfg.Bitly.CallsPerMinute, time.Minute, log.Named("throttle"))
	}

	client, err := bitly.New(bitly.Options{
		BaseURL:     cfg.Bitly.BaseURL,
		AccessToken: cfg.Bitly.AccessToken,
		Timeout:     cfg.Bitly.Timeout,
		Throttle:    throttle,
		Logger:      log.Named("bitly"),
	})
	if err != nil {
		if errors.Is(err, bitly.ErrMissingToken) && !opts.RequireAPI {
			log.Info("bitly access token not configured, discovery and refresh disabled")
			return nil
		}
		return err
	}
	a.Bitly = client

	refreshOpts := service.RefresherOptions{
		Unit:     cfg.Refresh.Unit,
		PoolSize: cfg.Refresh.PoolSize,
		Retry: service.RetryPolicy{
			RetryDelay:      cfg.Refresh.RetryDelay,
			QuotaBackoff:    cfg.Refresh.QuotaBackoff,
			QuotaBackoffMax: cfg.Refresh.QuotaBackoffMax,
		},
		ShortPrefix: cfg.Bitly.ShortPrefix,
		Logger:      log.Named("refresher"),
		Metrics:     a.Metrics,
	}
	if a.Redis != nil {
		refreshOpts.Lock = infraRedis.NewCycleLock(a.Redis, cycleLockKey, cfg.Refresh.LockTTL)
	}
	if a.JetStream != nil {
		publisher, err := service.NewRefreshPublisher(a.JetStream)
		if err != nil {
			return err
		}
		refreshOpts.Publisher = publisher
	}

	a.Refresher = service.NewRefresher(client, a.Series, refreshOpts)
	a.Discovery = service.NewDiscovery(a.Links, client, service.DiscoveryOptions{
		SearchLimit: cfg.Bitly.SearchLimit,
		PoolSize:    cfg.Refresh.PoolSize,
		Logger:      log.Named("discovery"),
		Metrics:     a.Metrics,
	})
	a.Updater = &service.Updater{
		Discovery: a.Discovery,
		Scheduler: a.Scheduler,
		Refresher: a.Refresher,
	}
	return nil
}
