package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reel-tracker/domain/model"
	"reel-tracker/infrastructure/persistence"
	"reel-tracker/usecase"
)

func sessionConfig() usecase.SessionConfig {
	return usecase.SessionConfig{BatchSize: 5, BatchDelay: 2 * time.Second, RateLimitBackoff: time.Minute}
}

// Scenario: A, B and C are tracked for u1 with 100, 200 and 300 views. B is switched off,
// then a forced refresh reports 150 views for A and C.
func TestRefreshSession_Scenario(t *testing.T) {
	ctx := context.Background()
	submit := new(MockMetricsFetcher)
	submit.On("Fetch", mock.Anything, reelURL("A")).Return(metrics(100), nil)
	submit.On("Fetch", mock.Anything, reelURL("B")).Return(metrics(200), nil)
	submit.On("Fetch", mock.Anything, reelURL("C")).Return(metrics(300), nil)

	store := persistence.NewReelStore(0)
	reels := usecase.NewReelUsecase(store, submit)
	stats := usecase.NewStatsUsecase(store, 0.5)

	ids := map[string]string{}
	for _, sc := range []string{"A", "B", "C"} {
		r, err := reels.Submit(ctx, "u1", reelURL(sc))
		require.NoError(t, err)
		ids[sc] = r.ID
	}
	us := stats.UserStats(ctx, "u1")
	assert.Equal(t, int64(600), us.TotalViews)
	assert.Equal(t, 3, us.TotalReels)

	_, err := reels.ToggleActive(ctx, ids["B"])
	require.NoError(t, err)

	refresh := new(MockMetricsFetcher)
	refresh.On("Fetch", mock.Anything, reelURL("A")).Return(metrics(150), nil)
	refresh.On("Fetch", mock.Anything, reelURL("C")).Return(metrics(150), nil)
	sessions := usecase.NewRefreshSessionUsecase(store, refresh, persistence.NewRefreshSessionRepository(0), sessionConfig()).
		WithSleep(recordSleep(new([]time.Duration)))

	session, err := sessions.ForceUpdate(ctx, "u1", "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, session.Status)
	assert.Equal(t, 2, session.TotalUpdated)
	assert.Empty(t, session.Errors)
	assert.NotNil(t, session.CompletedAt)
	assert.ElementsMatch(t, []string{ids["A"], ids["C"]}, session.ReelIDs)

	a, _ := store.Get(ctx, ids["A"])
	b, _ := store.Get(ctx, ids["B"])
	assert.Equal(t, int64(150), a.Views)
	assert.Equal(t, model.SourceOnDemandRefresh, a.History[len(a.History)-1].Source)
	assert.Equal(t, int64(200), b.Views)
	assert.Equal(t, int64(500), stats.GlobalStats(ctx).TotalViews)
	refresh.AssertNotCalled(t, "Fetch", mock.Anything, reelURL("B"))
}

func TestRefreshSession_CompletesDespiteFailures(t *testing.T) {
	ctx := context.Background()
	codes := []string{"P1", "P2", "P3", "P4", "P5", "P6", "P7"}
	store, _ := seedStore(t, codes...)

	fetcher := new(MockMetricsFetcher)
	failing := map[string]bool{"P2": true, "P5": true, "P7": true}
	for _, sc := range codes {
		if failing[sc] {
			fetcher.On("Fetch", mock.Anything, reelURL(sc)).Return(nil, errors.New("upstream exploded"))
		} else {
			fetcher.On("Fetch", mock.Anything, reelURL(sc)).Return(metrics(999), nil)
		}
	}

	var sleeps []time.Duration
	repo := persistence.NewRefreshSessionRepository(0)
	sessions := usecase.NewRefreshSessionUsecase(store, fetcher, repo, sessionConfig()).
		WithSleep(recordSleep(&sleeps))

	session, err := sessions.ForceUpdate(ctx, "admin", "")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, session.Status)
	assert.Equal(t, len(codes)-len(failing), session.TotalUpdated)
	assert.Len(t, session.Errors, len(failing))
	for _, e := range session.Errors {
		assert.Regexp(t, `^P[257] \(`, e)
	}
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps, "one pause between two batches")

	stored, err := sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.TotalUpdated, stored.TotalUpdated)
	assert.Equal(t, model.SessionCompleted, stored.Status)
}

func TestRefreshSession_AllFailStillCompletes(t *testing.T) {
	store, _ := seedStore(t, "A", "B")
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	session, err := usecase.NewRefreshSessionUsecase(store, fetcher, persistence.NewRefreshSessionRepository(0), sessionConfig()).
		ForceUpdate(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, session.Status)
	assert.Equal(t, model.SystemInitiator, session.InitiatedBy)
	assert.Zero(t, session.TotalUpdated)
	assert.Len(t, session.Errors, 2)
}

func TestRefreshSession_EmptyScope(t *testing.T) {
	sessions := usecase.NewRefreshSessionUsecase(persistence.NewReelStore(0), new(MockMetricsFetcher), persistence.NewRefreshSessionRepository(0), sessionConfig())
	session, err := sessions.ForceUpdate(context.Background(), "u1", "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, session.Status)
	assert.Empty(t, session.ReelIDs)
	assert.Empty(t, session.Errors)
}

func TestRefreshSession_RateLimitStretchesPause(t *testing.T) {
	store, _ := seedStore(t, "A", "B")
	all := store.ListActive(context.Background(), "")
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, all[0].SourceURL).Return(nil, &model.RateLimitError{RetryAfter: 30 * time.Second})
	fetcher.On("Fetch", mock.Anything, all[1].SourceURL).Return(metrics(700), nil)

	gate := new(MockBackoffGate)
	gate.On("Trip", mock.Anything, 30*time.Second).Return(nil).Once()
	gate.On("Remaining", mock.Anything).Return(30 * time.Second)

	var sleeps []time.Duration
	cfg := sessionConfig()
	cfg.BatchSize = 1
	session, err := usecase.NewRefreshSessionUsecase(store, fetcher, persistence.NewRefreshSessionRepository(0), cfg).
		WithBackoffGate(gate).
		WithSleep(recordSleep(&sleeps)).
		ForceUpdate(context.Background(), "admin", "")
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{30 * time.Second}, sleeps)
	assert.Equal(t, 1, session.TotalUpdated)
	require.Len(t, session.Errors, 1)
	assert.Contains(t, session.Errors[0], "rate limited")
	gate.AssertExpectations(t)
}

func TestRefreshSession_PanicRecordedAsBatchError(t *testing.T) {
	store, _ := seedStore(t, "A")
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("kaboom") })

	session, err := usecase.NewRefreshSessionUsecase(store, fetcher, persistence.NewRefreshSessionRepository(0), sessionConfig()).
		ForceUpdate(context.Background(), "admin", "")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, session.Status)
	require.Len(t, session.Errors, 1)
	assert.Contains(t, session.Errors[0], "batch 1")
	assert.Contains(t, session.Errors[0], "kaboom")
}

func TestRefreshSession_AsyncArchivesAndPublishes(t *testing.T) {
	ctx := context.Background()
	store, _ := seedStore(t, "A", "B")
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(metrics(800), nil)

	archive := new(MockSessionArchive)
	archive.On("Archive", mock.Anything, mock.MatchedBy(func(s *model.RefreshSession) bool {
		return s.Status == model.SessionCompleted
	})).Return(nil).Once()
	ok := new(MockEventPublisher)
	ok.On("PublishSessionCompleted", mock.Anything, mock.Anything).Return(nil).Once()
	broken := new(MockEventPublisher)
	broken.On("PublishSessionCompleted", mock.Anything, mock.Anything).Return(fmt.Errorf("broker down")).Once()

	var sessionEvents []*model.RefreshSession
	var reelEvents []*model.Reel
	sessions := usecase.NewRefreshSessionUsecase(store, fetcher, persistence.NewRefreshSessionRepository(0), sessionConfig()).
		WithArchive(archive).
		WithPublishers(ok, broken).
		WithBroadcaster(
			func(r *model.Reel) { reelEvents = append(reelEvents, r) },
			func(s *model.RefreshSession) { sessionEvents = append(sessionEvents, s) },
		)

	started, err := sessions.StartForceUpdate(ctx, "u1", "u1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, started.Status)
	assert.Nil(t, started.CompletedAt)

	sessions.Wait()

	done, err := sessions.GetSession(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, done.Status)
	assert.Equal(t, 2, done.TotalUpdated)

	listed, err := sessions.ListSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, started.ID, listed[0].ID)

	assert.Len(t, reelEvents, 2)
	require.NotEmpty(t, sessionEvents)
	assert.Equal(t, model.SessionCompleted, sessionEvents[len(sessionEvents)-1].Status)
	archive.AssertExpectations(t)
	ok.AssertExpectations(t)
	broken.AssertExpectations(t)
}

// heldFetcher parks every fetch until release is closed and records what ran concurrently.
type heldFetcher struct {
	release chan struct{}
	arrived chan string

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	events      []string
}

func newHeldFetcher() *heldFetcher {
	return &heldFetcher{release: make(chan struct{}), arrived: make(chan string, 64)}
}

func (f *heldFetcher) Fetch(_ context.Context, sourceURL string) (*model.ReelMetrics, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	f.events = append(f.events, "start")
	f.mu.Unlock()

	f.arrived <- sourceURL
	<-f.release

	f.mu.Lock()
	f.inFlight--
	f.events = append(f.events, "done")
	f.mu.Unlock()
	return metrics(500), nil
}

func (f *heldFetcher) record(event string) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *heldFetcher) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// awaitArrivals waits for n fetches to start and then checks no further one starts.
func awaitArrivals(t *testing.T, f *heldFetcher, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.arrived:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d fetches started", i, n)
		}
	}
	select {
	case url := <-f.arrived:
		t.Fatalf("unexpected extra fetch of %s", url)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRefreshSession_BatchesRunConcurrentlyAndInOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := seedStore(t, "P1", "P2", "P3", "P4", "P5", "P6", "P7")
	fetcher := newHeldFetcher()
	sessions := usecase.NewRefreshSessionUsecase(store, fetcher, persistence.NewRefreshSessionRepository(0), sessionConfig()).
		WithSleep(func(_ context.Context, d time.Duration) { fetcher.record("sleep " + d.String()) })

	started, err := sessions.StartForceUpdate(ctx, "u1", "u1")
	require.NoError(t, err)

	// The whole first batch is in flight at once and the second waits for it.
	awaitArrivals(t, fetcher, 5)
	assert.Equal(t, 5, fetcher.peak())

	close(fetcher.release)
	sessions.Wait()

	assert.Equal(t, []string{
		"start", "start", "start", "start", "start",
		"done", "done", "done", "done", "done",
		"sleep 2s",
		"start", "start", "done", "done",
	}, collapse(fetcher.events))
	assert.Equal(t, 5, fetcher.peak())

	done, err := sessions.GetSession(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, done.Status)
	assert.Equal(t, 7, done.TotalUpdated)
}

// collapse orders events within each run of fetch events, which may interleave freely
// inside a batch, so only batch boundaries are compared.
func collapse(events []string) []string {
	out := make([]string, 0, len(events))
	var starts, dones int
	flush := func() {
		for ; starts > 0; starts-- {
			out = append(out, "start")
		}
		for ; dones > 0; dones-- {
			out = append(out, "done")
		}
	}
	for _, e := range events {
		switch e {
		case "start":
			starts++
		case "done":
			dones++
		default:
			flush()
			out = append(out, e)
		}
	}
	flush()
	return out
}

func TestRefreshSession_OneSessionPerScope(t *testing.T) {
	ctx := context.Background()
	store, _ := seedStore(t, "A")
	fetcher := newHeldFetcher()
	sessions := usecase.NewRefreshSessionUsecase(store, fetcher, persistence.NewRefreshSessionRepository(0), sessionConfig()).
		WithSleep(recordSleep(new([]time.Duration)))

	first, err := sessions.StartForceUpdate(ctx, "u1", "u1")
	require.NoError(t, err)
	awaitArrivals(t, fetcher, 1)

	again, err := sessions.StartForceUpdate(ctx, "u1", "u1")
	assert.ErrorIs(t, err, model.ErrRefreshInProgress)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, model.SessionRunning, again.Status)

	global, err := sessions.ForceUpdate(ctx, "admin", "")
	assert.ErrorIs(t, err, model.ErrRefreshInProgress)
	require.NotNil(t, global)
	assert.Equal(t, first.ID, global.ID)

	// Another owner's reels do not overlap.
	other, err := sessions.ForceUpdate(ctx, "u2", "u2")
	require.NoError(t, err)
	assert.Equal(t, model.SessionCompleted, other.Status)

	close(fetcher.release)
	sessions.Wait()

	next, err := sessions.ForceUpdate(ctx, "u1", "u1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, model.SessionCompleted, next.Status)

	listed, err := sessions.ListSessions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestRefreshSession_ConcurrentSessionsShareFetchBudget(t *testing.T) {
	ctx := context.Background()
	seed := new(MockMetricsFetcher)
	seed.On("Fetch", mock.Anything, mock.Anything).Return(metrics(100), nil)
	store := persistence.NewReelStore(0)
	reels := usecase.NewReelUsecase(store, seed)
	for _, sc := range []string{"A1", "A2", "A3"} {
		_, err := reels.Submit(ctx, "u1", reelURL(sc))
		require.NoError(t, err)
	}
	for _, sc := range []string{"B1", "B2", "B3"} {
		_, err := reels.Submit(ctx, "u2", reelURL(sc))
		require.NoError(t, err)
	}

	fetcher := newHeldFetcher()
	cfg := sessionConfig()
	cfg.BatchSize = 3
	sessions := usecase.NewRefreshSessionUsecase(store, fetcher, persistence.NewRefreshSessionRepository(0), cfg).
		WithSleep(recordSleep(new([]time.Duration)))

	s1, err := sessions.StartForceUpdate(ctx, "u1", "u1")
	require.NoError(t, err)
	s2, err := sessions.StartForceUpdate(ctx, "u2", "u2")
	require.NoError(t, err)

	awaitArrivals(t, fetcher, 3)
	assert.Equal(t, 3, fetcher.peak())

	close(fetcher.release)
	sessions.Wait()
	assert.Equal(t, 3, fetcher.peak())

	for _, id := range []string{s1.ID, s2.ID} {
		done, err := sessions.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.SessionCompleted, done.Status)
		assert.Equal(t, 3, done.TotalUpdated)
	}
}

func TestRefreshSession_RealMetricsClearApproximate(t *testing.T) {
	ctx := context.Background()
	fallback := metrics(4000)
	fallback.Fallback = true
	submit := new(MockMetricsFetcher)
	submit.On("Fetch", mock.Anything, reelURL("A")).Return(fallback, nil)

	store := persistence.NewReelStore(0)
	reel, err := usecase.NewReelUsecase(store, submit).Submit(ctx, "u1", reelURL("A"))
	require.NoError(t, err)
	require.True(t, reel.Approximate)

	refresh := new(MockMetricsFetcher)
	refresh.On("Fetch", mock.Anything, reelURL("A")).Return(metrics(120), nil)
	_, err = usecase.NewRefreshSessionUsecase(store, refresh, persistence.NewRefreshSessionRepository(0), sessionConfig()).
		ForceUpdate(ctx, "u1", "u1")
	require.NoError(t, err)

	got, err := store.Get(ctx, reel.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.Views)
	assert.False(t, got.Approximate)
	assert.False(t, got.History[len(got.History)-1].Approximate)
	assert.True(t, got.History[0].Approximate)
}
