package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
	"github.com/adaptivelab/bitly-historics/internal/bitly"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	errRateLimited = &bitly.APIError{StatusCode: 503, StatusText: "SERVICE_UNAVAILABLE"}
	errQuota       = &bitly.APIError{StatusCode: 403, StatusText: "RATE_LIMIT_EXCEEDED"}
	errUnknown     = &bitly.APIError{StatusCode: 500, StatusText: "INVALID_URI"}
)

type refresherFixture struct {
	source    *mockClickSource
	series    *memorySeries
	sleeper   *recordingSleeper
	publisher *recordingPublisher
	refresher *Refresher
	now       time.Time
}

func newRefresherFixture(t *testing.T, opts RefresherOptions) *refresherFixture {
	t.Helper()
	f := &refresherFixture{
		source:    &mockClickSource{},
		series:    newMemorySeries(),
		sleeper:   &recordingSleeper{},
		publisher: &recordingPublisher{},
		now:       at("2013-03-10T12:00"),
	}
	opts.Sleep = f.sleeper.sleep
	opts.Publisher = f.publisher
	opts.Now = func() time.Time { return f.now }
	f.refresher = NewRefresher(f.source, f.series, opts)
	return f
}

func TestRefresher_RefreshOneMergesAndStamps(t *testing.T) {
	f := newRefresherFixture(t, RefresherOptions{})
	f.series.put(model.ClickSeries{
		Hash:          "Wozuff",
		LastRefreshed: at("2013-03-01T00:00"),
		Samples: []model.Sample{
			{Time: at("2013-03-05T04:00"), Clicks: 1},
			{Time: at("2013-03-05T05:00"), Clicks: 2},
		},
	})
	f.source.On("Clicks", mock.Anything, "http://bit.ly/Wozuff", bitly.UnitHour, false).Return([]model.Sample{
		{Time: at("2013-03-05T05:00"), Clicks: 3},
		{Time: at("2013-03-05T06:00"), Clicks: 4},
	}, nil).Once()

	series, err := f.refresher.RefreshOne(context.Background(), "http://bit.ly/Wozuff")

	require.NoError(t, err)
	assert.Equal(t, []model.Sample{
		{Time: at("2013-03-05T04:00"), Clicks: 1},
		{Time: at("2013-03-05T05:00"), Clicks: 3},
		{Time: at("2013-03-05T06:00"), Clicks: 4},
	}, series.Samples)
	assert.Equal(t, f.now, series.LastRefreshed)
	require.NotNil(t, series.LastSampleAt)
	assert.Equal(t, at("2013-03-05T06:00"), *series.LastSampleAt)
	assert.Empty(t, f.sleeper.recorded())
	assert.Equal(t, map[string]string{"Wozuff": model.RefreshOutcomeRefreshed}, f.publisher.outcomes())
	f.source.AssertExpectations(t)
}

func TestRefresher_RefreshOneCreatesMissingSeries(t *testing.T) {
	f := newRefresherFixture(t, RefresherOptions{})
	f.source.On("Clicks", mock.Anything, "http://bit.ly/new/", bitly.UnitHour, false).Return([]model.Sample{}, nil).Once()

	series, err := f.refresher.RefreshOne(context.Background(), "http://bit.ly/new/")

	require.NoError(t, err)
	assert.Equal(t, "new", series.Hash)
	assert.Empty(t, series.Samples)
	assert.Equal(t, f.now, series.LastRefreshed)
}

func TestRefresher_RateLimitedRetriesAfterShortPause(t *testing.T) {
	f := newRefresherFixture(t, RefresherOptions{})
	f.source.On("Clicks", mock.Anything, "http://bit.ly/a", bitly.UnitHour, false).Return(nil, errRateLimited).Times(3)
	f.source.On("Clicks", mock.Anything, "http://bit.ly/a", bitly.UnitHour, false).Return([]model.Sample{
		{Time: at("2013-03-05T04:00"), Clicks: 1},
	}, nil).Once()

	_, err := f.refresher.RefreshOne(context.Background(), "http://bit.ly/a")

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
	}, f.sleeper.recorded())
	assert.Equal(t, 1, f.series.updateCount("a"))
	f.source.AssertExpectations(t)
}

func TestRefresher_QuotaExceededBacksOffExponentially(t *testing.T) {
	f := newRefresherFixture(t, RefresherOptions{})
	f.source.On("Clicks", mock.Anything, "http://bit.ly/q", bitly.UnitHour, false).Return(nil, errQuota).Times(3)
	f.source.On("Clicks", mock.Anything, "http://bit.ly/q", bitly.UnitHour, false).Return([]model.Sample{}, nil).Once()

	_, err := f.refresher.RefreshOne(context.Background(), "http://bit.ly/q")

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second}, f.sleeper.recorded())
	f.source.AssertExpectations(t)
}

func TestRefresher_UnknownErrorAbandonsLink(t *testing.T) {
	f := newRefresherFixture(t, RefresherOptions{})
	f.source.On("Clicks", mock.Anything, "http://bit.ly/u", bitly.UnitHour, false).Return(nil, errUnknown).Once()

	_, err := f.refresher.RefreshOne(context.Background(), "http://bit.ly/u")

	require.Error(t, err)
	assert.ErrorIs(t, err, errUnknown)
	assert.Empty(t, f.sleeper.recorded())
	assert.Equal(t, 0, f.series.updateCount("u"))
	assert.Equal(t, map[string]string{"u": model.RefreshOutcomeAbandoned}, f.publisher.outcomes())
	f.source.AssertNumberOfCalls(t, "Clicks", 1)
}

func TestRefresher_TransportErrorIsNotRetried(t *testing.T) {
	f := newRefresherFixture(t, RefresherOptions{})
	f.source.On("Clicks", mock.Anything, "http://bit.ly/t", bitly.UnitHour, false).Return(nil, errors.New("connection reset")).Once()

	_, err := f.refresher.RefreshOne(context.Background(), "http://bit.ly/t")

	require.Error(t, err)
	f.source.AssertNumberOfCalls(t, "Clicks", 1)
}

func TestRefresher_RunCycleVisitsEveryLink(t *testing.T) {
	f := newRefresherFixture(t, RefresherOptions{PoolSize: 3})

	var due []model.ShortLink
	for _, hash := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		due = append(due, link(hash, "x.com"))
	}
	f.source.On("Clicks", mock.Anything, "http://bit.ly/c", bitly.UnitHour, false).Return(nil, errUnknown)
	f.source.On("Clicks", mock.Anything, "http://bit.ly/f", bitly.UnitHour, false).Return(nil, errRateLimited).Once()
	f.source.On("Clicks", mock.Anything, mock.AnythingOfType("string"), bitly.UnitHour, false).Return([]model.Sample{
		{Time: at("2013-03-05T04:00"), Clicks: 1},
	}, nil)

	report, err := f.refresher.RunCycle(context.Background(), due)

	require.NoError(t, err)
	assert.Equal(t, 7, report.Due)
	assert.Equal(t, 6, report.Refreshed)
	assert.Equal(t, 1, report.Abandoned)

	outcomes := f.publisher.outcomes()
	assert.Len(t, outcomes, 7)
	assert.Equal(t, model.RefreshOutcomeAbandoned, outcomes["c"])
	for _, hash := range []string{"a", "b", "d", "e", "f", "g"} {
		assert.Equal(t, model.RefreshOutcomeRefreshed, outcomes[hash], hash)
		assert.Equal(t, 1, f.series.updateCount(hash), hash)
	}
}

func TestRefresher_RunCycleEmpty(t *testing.T) {
	f := newRefresherFixture(t, RefresherOptions{})

	report, err := f.refresher.RunCycle(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, CycleReport{}, report)
}

type countingSource struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *countingSource) Clicks(context.Context, string, string, bool) ([]model.Sample, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return []model.Sample{}, nil
}

func TestRefresher_RunCycleBoundsConcurrency(t *testing.T) {
	source := &countingSource{}
	r := NewRefresher(source, newMemorySeries(), RefresherOptions{PoolSize: 2})

	var due []model.ShortLink
	for _, hash := range []string{"a", "b", "c", "d", "e", "f"} {
		due = append(due, link(hash, "x.com"))
	}

	report, err := r.RunCycle(context.Background(), due)

	require.NoError(t, err)
	assert.Equal(t, 6, report.Refreshed)
	assert.LessOrEqual(t, source.peak.Load(), int32(2))
}

type stubLock struct {
	err      error
	released bool
}

func (l *stubLock) Acquire(context.Context) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released = true
		return nil
	}, nil
}

func TestRefresher_RunCycleHonoursLock(t *testing.T) {
	held := errors.New("held")
	f := newRefresherFixture(t, RefresherOptions{Lock: &stubLock{err: held}})

	_, err := f.refresher.RunCycle(context.Background(), []model.ShortLink{link("a", "x.com")})

	assert.ErrorIs(t, err, held)
	f.source.AssertNotCalled(t, "Clicks", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	lock := &stubLock{}
	f = newRefresherFixture(t, RefresherOptions{Lock: lock})
	_, err = f.refresher.RunCycle(context.Background(), nil)

	require.NoError(t, err)
	assert.True(t, lock.released)
}

func TestRefresher_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &mockClickSource{}
	source.On("Clicks", mock.Anything, "http://bit.ly/a", bitly.UnitHour, false).Return(nil, errQuota)

	r := NewRefresher(source, newMemorySeries(), RefresherOptions{
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})

	_, err := r.RefreshOne(ctx, "http://bit.ly/a")

	assert.ErrorIs(t, err, context.Canceled)
	source.AssertNumberOfCalls(t, "Clicks", 1)
}
