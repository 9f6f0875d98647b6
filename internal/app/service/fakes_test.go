package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/app/repository"
	"github.com/adaptivelab/bitly-historics/internal/bitly"
	"github.com/stretchr/testify/mock"
)

type mockClickSource struct {
	mock.Mock
}

func (m *mockClickSource) Clicks(ctx context.Context, shortLink, unit string, rollup bool) ([]model.Sample, error) {
	args := m.Called(ctx, shortLink, unit, rollup)
	samples, _ := args.Get(0).([]model.Sample)
	return samples, args.Error(1)
}

type mockLinkSource struct {
	mock.Mock
}

func (m *mockLinkSource) Search(ctx context.Context, domain, query string, limit int) ([]bitly.SearchResult, error) {
	args := m.Called(ctx, domain, query, limit)
	results, _ := args.Get(0).([]bitly.SearchResult)
	return results, args.Error(1)
}

func (m *mockLinkSource) LinkInfo(ctx context.Context, shortLink string) (bitly.LinkInfo, error) {
	args := m.Called(ctx, shortLink)
	info, _ := args.Get(0).(bitly.LinkInfo)
	return info, args.Error(1)
}

// memorySeries is a SeriesRepository kept in a map.
type memorySeries struct {
	mu      sync.Mutex
	series  map[string]*model.ClickSeries
	updates map[string]int
}

func newMemorySeries() *memorySeries {
	return &memorySeries{
		series:  make(map[string]*model.ClickSeries),
		updates: make(map[string]int),
	}
}

func (m *memorySeries) put(s model.ClickSeries) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := s
	if last, ok := copied.LastSample(); ok {
		t := last.Time
		copied.LastSampleAt = &t
	}
	m.series[s.Hash] = &copied
}

func (m *memorySeries) Get(_ context.Context, hash string) (*model.ClickSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[hash]
	if !ok {
		return nil, repository.ErrSeriesNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memorySeries) FindByHashes(_ context.Context, hashes []string) (map[string]*model.ClickSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]*model.ClickSeries)
	for _, hash := range hashes {
		if s, ok := m.series[hash]; ok {
			copied := *s
			result[hash] = &copied
		}
	}
	return result, nil
}

func (m *memorySeries) All(_ context.Context) (map[string]*model.ClickSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]*model.ClickSeries, len(m.series))
	for hash, s := range m.series {
		copied := *s
		result[hash] = &copied
	}
	return result, nil
}

func (m *memorySeries) Update(_ context.Context, hash string, fn func(*model.ClickSeries) error) (*model.ClickSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := model.ClickSeries{Hash: hash, Samples: []model.Sample{}, LastRefreshed: model.NeverRefreshed}
	if s, ok := m.series[hash]; ok {
		current = *s
		current.Samples = append([]model.Sample(nil), s.Samples...)
	}
	if err := fn(&current); err != nil {
		return nil, err
	}
	if last, ok := current.LastSample(); ok {
		t := last.Time
		current.LastSampleAt = &t
	}
	m.series[hash] = &current
	m.updates[hash]++

	copied := current
	return &copied, nil
}

func (m *memorySeries) updateCount(hash string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates[hash]
}

// memoryLinks is a LinkRepository kept in a slice.
type memoryLinks struct {
	mu    sync.Mutex
	links []model.ShortLink
}

func (m *memoryLinks) RegisterIfNew(_ context.Context, link *model.ShortLink) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.links {
		if existing.ShortLink == link.ShortLink {
			return false, nil
		}
	}
	m.links = append(m.links, *link)
	return true, nil
}

func (m *memoryLinks) GetByShortLink(_ context.Context, shortLink string) (*model.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.links {
		if existing.ShortLink == shortLink {
			copied := existing
			return &copied, nil
		}
	}
	return nil, repository.ErrLinkNotFound
}

func (m *memoryLinks) FindByDomain(_ context.Context, domain string) ([]model.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.ShortLink
	for _, existing := range m.links {
		if existing.Domain == domain {
			result = append(result, existing)
		}
	}
	return result, nil
}

func (m *memoryLinks) DistinctDomains(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var domains []string
	for _, existing := range m.links {
		if _, ok := seen[existing.Domain]; ok {
			continue
		}
		seen[existing.Domain] = struct{}{}
		domains = append(domains, existing.Domain)
	}
	sort.Strings(domains)
	return domains, nil
}

func (m *memoryLinks) All(_ context.Context) ([]model.ShortLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ShortLink(nil), m.links...), nil
}

func (m *memoryLinks) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.links)), nil
}

func (m *memoryLinks) CountByDomain(ctx context.Context, domain string) (int64, error) {
	links, _ := m.FindByDomain(ctx, domain)
	return int64(len(links)), nil
}

// recordingSleeper returns immediately and remembers every requested delay.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *recordingSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.RefreshEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event model.RefreshEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) outcomes() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make(map[string]string, len(p.events))
	for _, event := range p.events {
		result[event.Hash] = event.Outcome
	}
	return result
}

func at(value string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", value)
	if err != nil {
		panic(err)
	}
	return t
}

func link(hash, domain string) model.ShortLink {
	return model.ShortLink{
		ShortLink: model.ShortLinkFor(hash, model.DefaultShortPrefix),
		TargetURL: "http://" + domain + "/" + hash,
		Domain:    domain,
	}
}
