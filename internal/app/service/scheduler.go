package service

import (
	"context"
	"fmt"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/history"
	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/app/repository"
)

// DefaultRefreshInterval is the minimum age of a series before it is fetched again.
const DefaultRefreshInterval = time.Hour

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval            time.Duration
	InactivityThreshold time.Duration
	ShortPrefix         string
	Now                 func() time.Time
}

// Scheduler picks the links whose click history should be fetched again.
type Scheduler struct {
	links       repository.LinkRepository
	series      repository.SeriesRepository
	interval    time.Duration
	classifier  history.Classifier
	shortPrefix string
	now         func() time.Time
}

// NewScheduler returns a Scheduler reading from the given stores.
func NewScheduler(links repository.LinkRepository, series repository.SeriesRepository, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultRefreshInterval
	}
	if opts.ShortPrefix == "" {
		opts.ShortPrefix = model.DefaultShortPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		links:       links,
		series:      series,
		interval:    opts.Interval,
		classifier:  history.NewClassifier(opts.InactivityThreshold),
		shortPrefix: opts.ShortPrefix,
		now:         opts.Now,
	}
}

// DueLinks loads every tracked link and series and returns the links due now.
func (s *Scheduler) DueLinks(ctx context.Context) ([]model.ShortLink, error) {
	links, err := s.links.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	series, err := s.series.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	return s.LinksDueForRefresh(links, series, s.now()), nil
}

// LinksDueForRefresh keeps the links, in input order, whose series was last
// refreshed at least one interval before now and is still active. A link with
// no series counts as never refreshed. Links sharing a hash are returned once.
func (s *Scheduler) LinksDueForRefresh(links []model.ShortLink, series map[string]*model.ClickSeries, now time.Time) []model.ShortLink {
	due := make([]model.ShortLink, 0, len(links))
	seen := make(map[string]struct{}, len(links))

	for _, link := range links {
		hash := model.HashOf(link.ShortLink, s.shortPrefix)
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}

		lastRefreshed := model.NeverRefreshed
		var samples []model.Sample
		if existing, ok := series[hash]; ok && existing != nil {
			lastRefreshed = existing.LastRefreshed
			samples = existing.Samples
		}

		if now.Sub(lastRefreshed) < s.interval {
			continue
		}
		if !s.classifier.IsActive(lastRefreshed, samples) {
			continue
		}
		due = append(due, link)
	}
	return due
}
