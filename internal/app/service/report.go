package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/history"
	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/app/repository"
)

const dayLayout = "2006-01-02"

// DailyClicks is the number of clicks on one UTC calendar day.
type DailyClicks struct {
	Day    time.Time `json:"day"`
	Clicks int64     `json:"clicks"`
}

// DomainClicks is the click history of every link of a domain within a window.
type DomainClicks struct {
	Domain string        `json:"domain"`
	From   time.Time     `json:"from"`
	To     time.Time     `json:"to"`
	Links  int           `json:"links"`
	Days   []DailyClicks `json:"days"`
	Total  int64         `json:"total"`
}

// LinkRow is one line of a per-link report.
type LinkRow struct {
	ShortLink     string     `json:"short_link"`
	Hash          string     `json:"hash"`
	Title         string     `json:"title"`
	TargetURL     string     `json:"target_url"`
	TotalClicks   int64      `json:"total_clicks"`
	LastSampleAt  *time.Time `json:"last_sample_at,omitempty"`
	LastRefreshed *time.Time `json:"last_refreshed,omitempty"`
	Active        bool       `json:"active"`
}

// Reports aggregates stored click history.
type Reports struct {
	links       repository.LinkRepository
	series      repository.SeriesRepository
	classifier  history.Classifier
	shortPrefix string
}

// NewReports returns a Reports reading from the given stores.
func NewReports(links repository.LinkRepository, series repository.SeriesRepository, inactivityThreshold time.Duration, shortPrefix string) *Reports {
	if shortPrefix == "" {
		shortPrefix = model.DefaultShortPrefix
	}
	return &Reports{
		links:       links,
		series:      series,
		classifier:  history.NewClassifier(inactivityThreshold),
		shortPrefix: shortPrefix,
	}
}

// Domains lists every tracked domain.
func (r *Reports) Domains(ctx context.Context) ([]string, error) {
	domains, err := r.links.DistinctDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return domains, nil
}

// DomainDailyClicks sums the clicks of every link of domain whose sample
// time lies strictly between from and to, bucketed by UTC day. Links that
// were never refreshed contribute nothing.
func (r *Reports) DomainDailyClicks(ctx context.Context, domain string, from, to time.Time) (DomainClicks, error) {
	result := DomainClicks{Domain: domain, From: from.UTC(), To: to.UTC(), Days: []DailyClicks{}}

	links, err := r.links.FindByDomain(ctx, domain)
	if err != nil {
		return result, fmt.Errorf("find links for %s: %w", domain, err)
	}
	result.Links = len(links)

	series, err := r.series.FindByHashes(ctx, r.hashes(links))
	if err != nil {
		return result, fmt.Errorf("load series for %s: %w", domain, err)
	}

	perDay := make(map[time.Time]int64)
	for _, s := range series {
		for _, sample := range s.Samples {
			if !sample.Time.After(from) || !sample.Time.Before(to) {
				continue
			}
			t := sample.Time.UTC()
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			perDay[day] += sample.Clicks
			result.Total += sample.Clicks
		}
	}

	for day, clicks := range perDay {
		result.Days = append(result.Days, DailyClicks{Day: day, Clicks: clicks})
	}
	sort.Slice(result.Days, func(i, j int) bool {
		return result.Days[i].Day.Before(result.Days[j].Day)
	})
	return result, nil
}

// LinkReport returns one row per link of domain, in registry order.
func (r *Reports) LinkReport(ctx context.Context, domain string) ([]LinkRow, error) {
	links, err := r.links.FindByDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("find links for %s: %w", domain, err)
	}

	series, err := r.series.FindByHashes(ctx, r.hashes(links))
	if err != nil {
		return nil, fmt.Errorf("load series for %s: %w", domain, err)
	}

	rows := make([]LinkRow, 0, len(links))
	for _, link := range links {
		hash := model.HashOf(link.ShortLink, r.shortPrefix)
		row := LinkRow{
			ShortLink: link.ShortLink,
			Hash:      hash,
			Title:     link.Title,
			TargetURL: link.TargetURL,
			Active:    true,
		}
		if s, ok := series[hash]; ok {
			refreshed := s.LastRefreshed
			row.TotalClicks = s.TotalClicks()
			row.LastSampleAt = s.LastSampleAt
			row.LastRefreshed = &refreshed
			row.Active = r.classifier.IsActive(s.LastRefreshed, s.Samples)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Series returns the stored history of hash.
func (r *Reports) Series(ctx context.Context, hash string) (*model.ClickSeries, error) {
	return r.series.Get(ctx, hash)
}

func (r *Reports) hashes(links []model.ShortLink) []string {
	hashes := make([]string, 0, len(links))
	for _, link := range links {
		hashes = append(hashes, model.HashOf(link.ShortLink, r.shortPrefix))
	}
	return hashes
}

// FormatDay renders a day bucket the way exports expect it.
func FormatDay(day time.Time) string {
	return day.UTC().Format(dayLayout)
}
