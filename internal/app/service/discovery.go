package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/app/repository"
	"github.com/adaptivelab/bitly-historics/internal/bitly"
	"go.uber.org/zap"
)

// DefaultSearchLimit is the largest page the search endpoint returns.
const DefaultSearchLimit = 1000

// LinkSource finds short links and resolves their destinations.
type LinkSource interface {
	Search(ctx context.Context, domain, query string, limit int) ([]bitly.SearchResult, error)
	LinkInfo(ctx context.Context, shortLink string) (bitly.LinkInfo, error)
}

// DiscoveryOptions configures a Discovery.
type DiscoveryOptions struct {
	SearchLimit int
	PoolSize    int
	Logger      *zap.Logger
	Metrics     *Metrics
}

// Discovery registers short links found through the API.
type Discovery struct {
	links       repository.LinkRepository
	source      LinkSource
	searchLimit int
	poolSize    int
	logger      *zap.Logger
	metrics     *Metrics
}

// DiscoveryReport is the result of searching one domain.
type DiscoveryReport struct {
	Domain  string `json:"domain"`
	Tracked int64  `json:"tracked"`
	Found   int    `json:"found"`
	Added   int    `json:"added"`
	Err     error  `json:"-"`
}

// ImportReport counts what happened to the lines of an import.
type ImportReport struct {
	Read    int
	Added   int
	Skipped int
	Failed  int
}

// NewDiscovery returns a Discovery writing into links.
func NewDiscovery(links repository.LinkRepository, source LinkSource, opts DiscoveryOptions) *Discovery {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = DefaultSearchLimit
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Discovery{
		links:       links,
		source:      source,
		searchLimit: opts.SearchLimit,
		poolSize:    opts.PoolSize,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// DiscoverDomain searches for links pointing at domain and registers the
// ones not tracked yet.
func (d *Discovery) DiscoverDomain(ctx context.Context, domain string) (DiscoveryReport, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	report := DiscoveryReport{Domain: domain}
	if domain == "" {
		return report, fmt.Errorf("discover: empty domain")
	}

	tracked, err := d.links.CountByDomain(ctx, domain)
	if err != nil {
		return report, fmt.Errorf("count links for %s: %w", domain, err)
	}
	report.Tracked = tracked
	d.logger.Info("discovering links", zap.String("domain", domain), zap.Int64("tracked", tracked))

	results, err := d.source.Search(ctx, domain, "", d.searchLimit)
	if err != nil {
		return report, fmt.Errorf("discover %s: %w", domain, err)
	}
	report.Found = len(results)

	for _, result := range results {
		if result.AggregateLink == "" {
			continue
		}
		link := &model.ShortLink{
			ShortLink: result.AggregateLink,
			TargetURL: result.URL,
			Title:     result.Title,
			Domain:    domain,
		}
		inserted, err := d.links.RegisterIfNew(ctx, link)
		if err != nil {
			return report, fmt.Errorf("register %s: %w", result.AggregateLink, err)
		}
		if inserted {
			report.Added++
		}
	}

	d.metrics.discoveredLinks(domain, report.Added)
	d.logger.Info("domain discovered",
		zap.String("domain", domain),
		zap.Int("found", report.Found),
		zap.Int("added", report.Added),
	)
	return report, nil
}

// DiscoverAll runs DiscoverDomain for every tracked domain with a bounded
// pool. A failing domain is reported in its DiscoveryReport and does not stop
// the others. Reports keep the order of the domains.
func (d *Discovery) DiscoverAll(ctx context.Context) ([]DiscoveryReport, error) {
	domains, err := d.links.DistinctDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}

	reports := make([]DiscoveryReport, len(domains))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := d.poolSize
	if len(domains) < workers {
		workers = len(domains)
	}
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log := d.logger.With(zap.Int("worker_id", workerID))
			for idx := range jobs {
				report, err := d.DiscoverDomain(ctx, domains[idx])
				if err != nil {
					log.Error("domain discovery failed", zap.String("domain", domains[idx]), zap.Error(err))
					report.Err = err
				}
				reports[idx] = report
			}
		}(i)
	}

	for i := range domains {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return reports, nil
}

// ImportLinks registers explicit short links, one per line as
// "short_link[,domain]". Blank lines and lines starting with "#" are skipped.
// Without an explicit domain it is taken from the link's canonical URL.
func (d *Discovery) ImportLinks(ctx context.Context, r io.Reader) (ImportReport, error) {
	var report ImportReport
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		report.Read++

		shortLink, domain, _ := strings.Cut(line, ",")
		shortLink = strings.TrimSpace(shortLink)
		domain = strings.ToLower(strings.TrimSpace(domain))

		log := d.logger.With(zap.String("short_link", shortLink))

		info, err := d.source.LinkInfo(ctx, shortLink)
		if err != nil {
			log.Error("link info lookup failed", zap.Error(err))
			report.Failed++
			continue
		}
		if domain == "" {
			domain = model.RootDomain(info.CanonicalURL)
		}
		if domain == "" {
			log.Error("cannot derive domain", zap.String("canonical_url", info.CanonicalURL))
			report.Failed++
			continue
		}

		inserted, err := d.links.RegisterIfNew(ctx, &model.ShortLink{
			ShortLink: shortLink,
			TargetURL: info.CanonicalURL,
			Title:     info.Title,
			Domain:    domain,
		})
		if err != nil {
			return report, fmt.Errorf("register %s: %w", shortLink, err)
		}
		if inserted {
			report.Added++
			d.metrics.discoveredLinks(domain, 1)
		} else {
			report.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("read links: %w", err)
	}

	d.logger.Info("links imported",
		zap.Int("read", report.Read),
		zap.Int("added", report.Added),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
