package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/app/repository"
	"github.com/adaptivelab/bitly-historics/internal/app/service"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Domains(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	domains, _ := args.Get(0).([]string)
	return domains, args.Error(1)
}

func (m *mockReporter) LinkReport(ctx context.Context, domain string) ([]service.LinkRow, error) {
	args := m.Called(ctx, domain)
	rows, _ := args.Get(0).([]service.LinkRow)
	return rows, args.Error(1)
}

func (m *mockReporter) DomainDailyClicks(ctx context.Context, domain string, from, to time.Time) (service.DomainClicks, error) {
	args := m.Called(ctx, domain, from, to)
	clicks, _ := args.Get(0).(service.DomainClicks)
	return clicks, args.Error(1)
}

func (m *mockReporter) Series(ctx context.Context, hash string) (*model.ClickSeries, error) {
	args := m.Called(ctx, hash)
	series, _ := args.Get(0).(*model.ClickSeries)
	return series, args.Error(1)
}

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) DiscoverDomain(ctx context.Context, domain string) (service.DiscoveryReport, error) {
	args := m.Called(ctx, domain)
	report, _ := args.Get(0).(service.DiscoveryReport)
	return report, args.Error(1)
}

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) UpdateClicks(context.Context) (service.CycleReport, error) {
	close(r.started)
	<-r.release
	return service.CycleReport{}, nil
}

var testNow = time.Date(2013, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestApp(deps ReportDeps) *fiber.App {
	deps.Now = func() time.Time { return testNow }
	app := fiber.New()
	NewReportHandler(context.Background(), deps).Register(app)
	return app
}

func do(t *testing.T, app *fiber.App, method, target string) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealth(t *testing.T) {
	app := newTestApp(ReportDeps{Ping: func(context.Context) error { return nil }})
	resp, body := do(t, app, http.MethodGet, "/health")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	app = newTestApp(ReportDeps{Ping: func(context.Context) error { return errors.New("down") }})
	resp, _ = do(t, app, http.MethodGet, "/health")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestListDomains(t *testing.T) {
	reports := &mockReporter{}
	reports.On("Domains", mock.Anything).Return([]string{"asos.com", "bbc.co.uk"}, nil)

	resp, body := do(t, newTestApp(ReportDeps{Reports: reports}), http.MethodGet, "/api/domains")

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"domains":["asos.com","bbc.co.uk"],"count":2}`, string(body))
}

func TestListLinksCSV(t *testing.T) {
	reports := &mockReporter{}
	reports.On("LinkReport", mock.Anything, "asos.com").Return([]service.LinkRow{
		{ShortLink: "http://bit.ly/a", TargetURL: "http://asos.com/a", TotalClicks: 3, Active: true},
	}, nil)

	resp, body := do(t, newTestApp(ReportDeps{Reports: reports}), http.MethodGet, "/api/domains/asos.com/links?format=csv")

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/csv")
	assert.Equal(t,
		"short_link,title,target_url,total_clicks,last_sample_at,last_refreshed,active\n"+
			"http://bit.ly/a,,http://asos.com/a,3,,,true\n",
		string(body))
}

func TestDomainClicks(t *testing.T) {
	from := time.Date(2013, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2013, 3, 9, 0, 0, 0, 0, time.UTC)
	reports := &mockReporter{}
	reports.On("DomainDailyClicks", mock.Anything, "asos.com", from, to).Return(service.DomainClicks{
		Domain: "asos.com",
		From:   from,
		To:     to,
		Links:  2,
		Days:   []service.DailyClicks{{Day: from, Clicks: 7}},
		Total:  7,
	}, nil)
	app := newTestApp(ReportDeps{Reports: reports})

	resp, body := do(t, app, http.MethodGet, "/api/domains/asos.com/clicks?from=2013-03-01&to=2013-03-09")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var decoded service.DomainClicks
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, int64(7), decoded.Total)
	assert.Equal(t, 2, decoded.Links)

	resp, body = do(t, app, http.MethodGet, "/api/domains/asos.com/clicks?from=2013-03-01&to=2013-03-09&format=csv")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "date,clicks\n2013-03-01,7\n", string(body))
}

func TestDomainClicksDefaultsToLast30Days(t *testing.T) {
	reports := &mockReporter{}
	reports.On("DomainDailyClicks", mock.Anything, "asos.com", testNow.AddDate(0, 0, -30), testNow).
		Return(service.DomainClicks{Domain: "asos.com"}, nil).Once()

	resp, _ := do(t, newTestApp(ReportDeps{Reports: reports}), http.MethodGet, "/api/domains/asos.com/clicks")

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	reports.AssertExpectations(t)
}

func TestDomainClicksRejectsBadWindow(t *testing.T) {
	app := newTestApp(ReportDeps{Reports: &mockReporter{}})

	resp, _ := do(t, app, http.MethodGet, "/api/domains/asos.com/clicks?from=yesterday")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, app, http.MethodGet, "/api/domains/asos.com/clicks?from=2013-03-09&to=2013-03-01")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetSeries(t *testing.T) {
	reports := &mockReporter{}
	reports.On("Series", mock.Anything, "Wozuff").Return(&model.ClickSeries{
		Hash:          "Wozuff",
		Samples:       []model.Sample{{Time: testNow, Clicks: 4}},
		LastRefreshed: testNow,
	}, nil)
	reports.On("Series", mock.Anything, "missing").Return(nil, repository.ErrSeriesNotFound)
	app := newTestApp(ReportDeps{Reports: reports})

	resp, body := do(t, app, http.MethodGet, "/api/series/Wozuff")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var decoded struct {
		Hash        string `json:"hash"`
		TotalClicks int64  `json:"total_clicks"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "Wozuff", decoded.Hash)
	assert.Equal(t, int64(4), decoded.TotalClicks)

	resp, _ = do(t, app, http.MethodGet, "/api/series/missing")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDiscover(t *testing.T) {
	discoverer := &mockDiscoverer{}
	discoverer.On("DiscoverDomain", mock.Anything, "asos.com").Return(service.DiscoveryReport{
		Domain: "asos.com", Tracked: 3, Found: 5, Added: 2,
	}, nil)

	resp, body := do(t, newTestApp(ReportDeps{Discoverer: discoverer}), http.MethodPost, "/api/domains/asos.com/discover")

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"domain":"asos.com","tracked":3,"found":5,"added":2}`, string(body))
}

func TestRefreshRunsOneCycleAtATime(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	app := newTestApp(ReportDeps{Cycles: runner})

	resp, _ := do(t, app, http.MethodPost, "/api/refresh")
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	<-runner.started

	resp, _ = do(t, app, http.MethodPost, "/api/refresh")
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	close(runner.release)
}

func TestListEventsWithoutStore(t *testing.T) {
	resp, _ := do(t, newTestApp(ReportDeps{}), http.MethodGet, "/api/series/a/events")
	assert.Equal(t, fiber.StatusNotImplemented, resp.StatusCode)
}

func TestWritesNeedAPIAccess(t *testing.T) {
	app := newTestApp(ReportDeps{})

	resp, _ := do(t, app, http.MethodPost, "/api/refresh")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = do(t, app, http.MethodPost, "/api/domains/asos.com/discover")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
