package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/history"
	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/app/repository"
	"github.com/adaptivelab/bitly-historics/internal/bitly"
	"go.uber.org/zap"
)

// DefaultPoolSize is the number of links refreshed concurrently.
const DefaultPoolSize = 10

// ClickSource fetches the click history of a short link.
type ClickSource interface {
	Clicks(ctx context.Context, shortLink, unit string, rollup bool) ([]model.Sample, error)
}

// EventPublisher announces the outcome of refreshing a link.
type EventPublisher interface {
	Publish(ctx context.Context, event model.RefreshEvent) error
}

// Locker guards a refresh cycle against concurrent runs. Acquire returns the
// release func.
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// RefresherOptions configures a Refresher. Zero values fall back to defaults.
type RefresherOptions struct {
	Unit        string
	PoolSize    int
	Retry       RetryPolicy
	ShortPrefix string
	Logger      *zap.Logger
	Metrics     *Metrics
	Publisher   EventPublisher
	Lock        Locker
	Sleep       Sleeper
	Now         func() time.Time
}

// Refresher fetches click history and merges it into the stored series.
type Refresher struct {
	source      ClickSource
	series      repository.SeriesRepository
	unit        string
	poolSize    int
	retry       RetryPolicy
	shortPrefix string
	logger      *zap.Logger
	metrics     *Metrics
	publisher   EventPublisher
	lock        Locker
	sleep       Sleeper
	now         func() time.Time
}

// CycleReport summarises one refresh cycle.
type CycleReport struct {
	Due       int
	Refreshed int
	Abandoned int
	Duration  time.Duration
}

// NewRefresher builds a Refresher around source and the series store.
func NewRefresher(source ClickSource, series repository.SeriesRepository, opts RefresherOptions) *Refresher {
	if opts.Unit == "" {
		opts.Unit = bitly.UnitHour
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.ShortPrefix == "" {
		opts.ShortPrefix = model.DefaultShortPrefix
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Refresher{
		source:      source,
		series:      series,
		unit:        opts.Unit,
		poolSize:    opts.PoolSize,
		retry:       opts.Retry.withDefaults(),
		shortPrefix: opts.ShortPrefix,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		publisher:   opts.Publisher,
		lock:        opts.Lock,
		sleep:       opts.Sleep,
		now:         opts.Now,
	}
}

// RefreshOne fetches the full hourly history of shortLink, merges it into
// the stored series and stamps the refresh time. Transient API errors are
// retried; any other failure abandons the link and is returned.
func (r *Refresher) RefreshOne(ctx context.Context, shortLink string) (*model.ClickSeries, error) {
	return r.refresh(ctx, r.logger, shortLink)
}

// RunCycle refreshes due with a bounded pool of workers. Failures of single
// links are logged and counted; the cycle always visits every link. The only
// error is a failure to take the cycle lock.
func (r *Refresher) RunCycle(ctx context.Context, due []model.ShortLink) (CycleReport, error) {
	if r.lock != nil {
		release, err := r.lock.Acquire(ctx)
		if err != nil {
			return CycleReport{}, fmt.Errorf("acquire cycle lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("release cycle lock", zap.Error(err))
			}
		}()
	}

	start := r.now()
	workers := r.poolSize
	if len(due) < workers {
		workers = len(due)
	}

	r.logger.Info("refresh cycle started",
		zap.Int("due", len(due)),
		zap.Int("workers", workers),
	)

	var (
		refreshed atomic.Int64
		abandoned atomic.Int64
		wg        sync.WaitGroup
	)
	jobs := make(chan model.ShortLink)

	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log := r.logger.With(zap.Int("worker_id", workerID))
			for link := range jobs {
				if _, err := r.refresh(ctx, log, link.ShortLink); err != nil {
					abandoned.Add(1)
					continue
				}
				refreshed.Add(1)
			}
		}(i)
	}

	for _, link := range due {
		jobs <- link
	}
	close(jobs)
	wg.Wait()

	report := CycleReport{
		Due:       len(due),
		Refreshed: int(refreshed.Load()),
		Abandoned: int(abandoned.Load()),
		Duration:  r.now().Sub(start),
	}
	r.metrics.cycle(report.Due, report.Duration)
	r.logger.Info("refresh cycle finished",
		zap.Int("due", report.Due),
		zap.Int("refreshed", report.Refreshed),
		zap.Int("abandoned", report.Abandoned),
		zap.Duration("took", report.Duration),
	)
	return report, nil
}

func (r *Refresher) refresh(ctx context.Context, log *zap.Logger, shortLink string) (*model.ClickSeries, error) {
	hash := model.HashOf(shortLink, r.shortPrefix)
	log = log.With(zap.String("short_link", shortLink), zap.String("hash", hash))

	samples, err := r.fetch(ctx, log, shortLink)
	if err != nil {
		log.Error("abandoning link for this cycle", zap.Error(err))
		r.abandon(ctx, log, shortLink, hash, err)
		return nil, err
	}

	refreshedAt := r.now().UTC()
	series, err := r.series.Update(ctx, hash, func(s *model.ClickSeries) error {
		s.Samples = history.Merge(s.Samples, samples)
		history.MustBeOrdered(s.Samples)
		s.LastRefreshed = refreshedAt
		return nil
	})
	if err != nil {
		err = fmt.Errorf("store series %s: %w", hash, err)
		log.Error("abandoning link for this cycle", zap.Error(err))
		r.abandon(ctx, log, shortLink, hash, err)
		return nil, err
	}

	log.Debug("link refreshed",
		zap.Int("samples_fetched", len(samples)),
		zap.Int("samples_total", len(series.Samples)),
	)
	r.metrics.refreshed(model.RefreshOutcomeRefreshed)
	r.publish(ctx, log, model.RefreshEvent{
		ShortLink:      shortLink,
		Hash:           hash,
		Outcome:        model.RefreshOutcomeRefreshed,
		SamplesFetched: len(samples),
		SamplesTotal:   len(series.Samples),
		Timestamp:      refreshedAt,
	})
	return series, nil
}

// fetch retries rate-limited calls after a short pause and quota errors with
// a growing backoff. It gives up on anything else.
func (r *Refresher) fetch(ctx context.Context, log *zap.Logger, shortLink string) ([]model.Sample, error) {
	quotaErrors := 0
	for {
		samples, err := r.source.Clicks(ctx, shortLink, r.unit, false)
		if err == nil {
			return samples, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		kind := bitly.Classify(err)
		r.metrics.apiError(kind)

		var delay time.Duration
		switch kind {
		case bitly.KindRateLimited:
			delay = r.retry.RetryDelay
		case bitly.KindQuotaExceeded:
			quotaErrors++
			delay = r.retry.QuotaDelay(quotaErrors)
		default:
			return nil, err
		}

		log.Warn("retrying click fetch",
			zap.Stringer("kind", kind),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		r.metrics.slept(kind, delay)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (r *Refresher) abandon(ctx context.Context, log *zap.Logger, shortLink, hash string, cause error) {
	r.metrics.refreshed(model.RefreshOutcomeAbandoned)
	r.publish(ctx, log, model.RefreshEvent{
		ShortLink: shortLink,
		Hash:      hash,
		Outcome:   model.RefreshOutcomeAbandoned,
		Error:     cause.Error(),
		Timestamp: r.now().UTC(),
	})
}

func (r *Refresher) publish(ctx context.Context, log *zap.Logger, event model.RefreshEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		log.Warn("failed to publish refresh event", zap.Error(err))
	}
}
