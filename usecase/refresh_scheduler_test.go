package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reel-tracker/domain/model"
	"reel-tracker/infrastructure/cache"
	"reel-tracker/infrastructure/persistence"
	"reel-tracker/usecase"
)

func seedStore(t *testing.T, shortcodes ...string) (*persistence.ReelStore, usecase.IReelUsecase) {
	t.Helper()
	seed := new(MockMetricsFetcher)
	seed.On("Fetch", mock.Anything, mock.Anything).Return(metrics(100), nil)
	store := persistence.NewReelStore(0)
	reels := usecase.NewReelUsecase(store, seed)
	for _, sc := range shortcodes {
		_, err := reels.Submit(context.Background(), "u1", reelURL(sc))
		require.NoError(t, err)
	}
	return store, reels
}

func schedulerConfig() usecase.SchedulerConfig {
	return usecase.SchedulerConfig{
		Interval:         time.Minute,
		SampleSize:       2,
		SampleDelay:      500 * time.Millisecond,
		RateLimitBackoff: time.Minute,
	}
}

func TestRefreshScheduler_RefreshOnceSamplesAndPaces(t *testing.T) {
	store, _ := seedStore(t, "A", "B", "C", "D")
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(metrics(200), nil)

	var sleeps []time.Duration
	var updates []*model.Reel
	scheduler := usecase.NewRefreshScheduler(store, fetcher, schedulerConfig()).
		WithSleep(recordSleep(&sleeps)).
		WithBroadcaster(func(r *model.Reel) { updates = append(updates, r) })

	updated, ran := scheduler.RefreshOnce(context.Background())
	assert.True(t, ran)
	assert.Equal(t, 2, updated)
	fetcher.AssertNumberOfCalls(t, "Fetch", 2)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, sleeps)
	require.Len(t, updates, 2)
	assert.Equal(t, model.SourcePeriodicRefresh, updates[0].History[len(updates[0].History)-1].Source)
}

func TestRefreshScheduler_SkipsInactiveAndSwallowsFailures(t *testing.T) {
	store, reels := seedStore(t, "A", "B", "C")
	all := store.ListAll(context.Background())
	_, err := reels.ToggleActive(context.Background(), all[0].ID)
	require.NoError(t, err)

	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, all[1].SourceURL).Return(nil, errors.New("boom"))
	fetcher.On("Fetch", mock.Anything, all[2].SourceURL).Return(metrics(300), nil)

	cfg := schedulerConfig()
	cfg.SampleSize = 10
	scheduler := usecase.NewRefreshScheduler(store, fetcher, cfg).WithSleep(recordSleep(new([]time.Duration)))

	updated, _ := scheduler.RefreshOnce(context.Background())
	assert.Equal(t, 1, updated)
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, all[0].SourceURL)

	got, err := store.Get(context.Background(), all[2].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Views)
}

func TestRefreshScheduler_RateLimitTripsGateAndEndsPass(t *testing.T) {
	store, _ := seedStore(t, "A", "B", "C")
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, &model.RateLimitError{RetryAfter: 30 * time.Second})

	gate := cache.NewMemoryBackoffGate()
	cfg := schedulerConfig()
	cfg.SampleSize = 10
	scheduler := usecase.NewRefreshScheduler(store, fetcher, cfg).
		WithBackoffGate(gate).
		WithSleep(recordSleep(new([]time.Duration)))

	updated, _ := scheduler.RefreshOnce(context.Background())
	assert.Zero(t, updated)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
	assert.Greater(t, gate.Remaining(context.Background()), 25*time.Second)

	// While the gate is closed whole passes are skipped.
	updated, ran := scheduler.RefreshOnce(context.Background())
	assert.True(t, ran)
	assert.Zero(t, updated)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestRefreshScheduler_LoopSkipsOverlappingTicksAndStopWaits(t *testing.T) {
	store, _ := seedStore(t, "A")
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			started <- struct{}{}
			<-release
		}).
		Return(metrics(500), nil)

	ticks := make(chan time.Time)
	tickerStopped := make(chan struct{})
	scheduler := usecase.NewRefreshScheduler(store, fetcher, schedulerConfig()).
		WithTicker(func(time.Duration) (<-chan time.Time, func()) {
			return ticks, func() { close(tickerStopped) }
		})

	scheduler.Start(context.Background())
	scheduler.Start(context.Background())

	ticks <- time.Now()
	<-started
	// The pass is still fetching, so this tick is dropped rather than queued.
	ticks <- time.Now()

	stopped := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(stopped)
	}()

	<-tickerStopped
	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight pass finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}

	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
	got := store.ListAll(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, int64(500), got[0].Views)
}

func TestRefreshScheduler_StopWithoutStart(t *testing.T) {
	scheduler := usecase.NewRefreshScheduler(persistence.NewReelStore(0), new(MockMetricsFetcher), schedulerConfig())
	scheduler.Stop()
}
