package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// SessionConfig tunes bulk refreshes.
type SessionConfig struct {
	BatchSize        int
	BatchDelay       time.Duration
	RateLimitBackoff time.Duration
}

type IRefreshSessionUsecase interface {
	// ForceUpdate refreshes every active reel of scope (all owners when empty) and
	// returns the completed session.
	ForceUpdate(ctx context.Context, initiatedBy, scope string) (*model.RefreshSession, error)
	// StartForceUpdate returns the running session at once and completes it in the background.
	// Both return the running session with model.ErrRefreshInProgress when one already
	// covers scope.
	StartForceUpdate(ctx context.Context, initiatedBy, scope string) (*model.RefreshSession, error)
	GetSession(ctx context.Context, id string) (*model.RefreshSession, error)
	ListSessions(ctx context.Context, initiatedBy string, limit int) ([]model.RefreshSession, error)
	// Wait blocks until background sessions have completed.
	Wait()
}

type RefreshSessionUsecase struct {
	store      repository.IReelStore
	fetcher    repository.IMetricsFetcher
	sessions   repository.IRefreshSessionRepository
	cfg        SessionConfig
	gate       repository.IBackoffGate
	archive    repository.ISessionArchive
	publishers []repository.IReelEventPublisher

	onReel    func(*model.Reel)
	onSession func(*model.RefreshSession)
	sleep     func(ctx context.Context, d time.Duration)
	now       func() time.Time
	newID     func() string
	running   sync.WaitGroup

	// inFlight caps fetches across all sessions at BatchSize.
	inFlight *semaphore.Weighted
	mu       sync.Mutex
	active   map[string]model.RefreshSession // claimed at start, keyed by id
}

var _ IRefreshSessionUsecase = (*RefreshSessionUsecase)(nil)

func NewRefreshSessionUsecase(store repository.IReelStore, fetcher repository.IMetricsFetcher, sessions repository.IRefreshSessionRepository, cfg SessionConfig) *RefreshSessionUsecase {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	return &RefreshSessionUsecase{
		store:    store,
		fetcher:  fetcher,
		sessions: sessions,
		cfg:      cfg,
		sleep:    sleepContext,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		inFlight: semaphore.NewWeighted(int64(cfg.BatchSize)),
		active:   make(map[string]model.RefreshSession),
	}
}

func (u *RefreshSessionUsecase) WithBackoffGate(gate repository.IBackoffGate) *RefreshSessionUsecase {
	u.gate = gate
	return u
}

func (u *RefreshSessionUsecase) WithArchive(archive repository.ISessionArchive) *RefreshSessionUsecase {
	u.archive = archive
	return u
}

func (u *RefreshSessionUsecase) WithPublishers(publishers ...repository.IReelEventPublisher) *RefreshSessionUsecase {
	u.publishers = append(u.publishers, publishers...)
	return u
}

// WithBroadcaster sets callbacks for refreshed reels and session progress.
func (u *RefreshSessionUsecase) WithBroadcaster(onReel func(*model.Reel), onSession func(*model.RefreshSession)) *RefreshSessionUsecase {
	u.onReel = onReel
	u.onSession = onSession
	return u
}

func (u *RefreshSessionUsecase) WithSleep(fn func(ctx context.Context, d time.Duration)) *RefreshSessionUsecase {
	u.sleep = fn
	return u
}

func (u *RefreshSessionUsecase) ForceUpdate(ctx context.Context, initiatedBy, scope string) (*model.RefreshSession, error) {
	session, eligible, err := u.begin(ctx, initiatedBy, scope)
	if err != nil {
		return session, err
	}
	return u.run(context.WithoutCancel(ctx), session, eligible), nil
}

func (u *RefreshSessionUsecase) StartForceUpdate(ctx context.Context, initiatedBy, scope string) (*model.RefreshSession, error) {
	session, eligible, err := u.begin(ctx, initiatedBy, scope)
	if err != nil {
		return session, err
	}
	snapshot := session.Clone()
	runCtx := context.WithoutCancel(ctx)
	u.running.Add(1)
	go func() {
		defer u.running.Done()
		u.run(runCtx, session, eligible)
	}()
	return &snapshot, nil
}

func (u *RefreshSessionUsecase) GetSession(ctx context.Context, id string) (*model.RefreshSession, error) {
	return u.sessions.Get(ctx, id)
}

func (u *RefreshSessionUsecase) ListSessions(ctx context.Context, initiatedBy string, limit int) ([]model.RefreshSession, error) {
	return u.sessions.List(ctx, initiatedBy, limit)
}

func (u *RefreshSessionUsecase) Wait() {
	u.running.Wait()
}

// begin selects the eligible reels, claims scope and records the session as running.
// When another session already covers scope it returns that session with
// model.ErrRefreshInProgress.
func (u *RefreshSessionUsecase) begin(ctx context.Context, initiatedBy, scope string) (*model.RefreshSession, []model.Reel, error) {
	if initiatedBy == "" {
		initiatedBy = model.SystemInitiator
	}
	eligible := u.store.ListActive(ctx, scope)
	session := &model.RefreshSession{
		ID:          u.newID(),
		InitiatedBy: initiatedBy,
		Scope:       scope,
		ReelIDs:     make([]string, 0, len(eligible)),
		Status:      model.SessionPending,
		StartedAt:   u.now(),
		Errors:      []string{},
	}
	for _, r := range eligible {
		session.ReelIDs = append(session.ReelIDs, r.ID)
	}
	if running, ok := u.claim(session); !ok {
		if stored, err := u.sessions.Get(ctx, running.ID); err == nil {
			running = stored
		}
		return running, nil, model.ErrRefreshInProgress
	}

	if err := u.sessions.Save(ctx, session); err != nil {
		u.unclaim(session.ID)
		return nil, nil, err
	}
	session.Status = model.SessionRunning
	if err := u.sessions.Save(ctx, session); err != nil {
		u.unclaim(session.ID)
		return nil, nil, err
	}
	logger.GetLogger().
		WithField("session_id", session.ID).
		WithField("initiated_by", initiatedBy).
		WithField("reels", len(eligible)).
		Info("Refresh session started")
	return session, eligible, nil
}

// claim registers session unless a running session overlaps its scope, in which case
// it returns a copy of that one. The empty scope covers every owner.
func (u *RefreshSessionUsecase) claim(session *model.RefreshSession) (*model.RefreshSession, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, running := range u.active {
		if running.Scope == "" || session.Scope == "" || running.Scope == session.Scope {
			out := running.Clone()
			return &out, false
		}
	}
	u.active[session.ID] = session.Clone()
	return nil, true
}

func (u *RefreshSessionUsecase) unclaim(id string) {
	u.mu.Lock()
	delete(u.active, id)
	u.mu.Unlock()
}

// run processes eligible reels in paced batches. It always completes the session.
func (u *RefreshSessionUsecase) run(ctx context.Context, session *model.RefreshSession, eligible []model.Reel) *model.RefreshSession {
	var mu sync.Mutex
	rateLimited := false
	batchNo := 0
	for start := 0; start < len(eligible); start += u.cfg.BatchSize {
		end := min(start+u.cfg.BatchSize, len(eligible))
		if start > 0 {
			u.pause(ctx, rateLimited)
		}
		batchNo++

		limited, err := u.runBatch(ctx, session, &mu, eligible[start:end])
		rateLimited = limited
		mu.Lock()
		if err != nil {
			session.Errors = append(session.Errors, fmt.Sprintf("batch %d: %v", batchNo, err))
		}
		snapshot := session.Clone()
		mu.Unlock()
		u.save(ctx, &snapshot)
		u.notifySession(&snapshot)
	}

	completedAt := u.now()
	session.Status = model.SessionCompleted
	session.CompletedAt = &completedAt
	u.save(ctx, session)
	u.unclaim(session.ID)
	u.finish(ctx, session)

	out := session.Clone()
	return &out
}

// runBatch refreshes one batch concurrently and reports whether the upstream throttled it.
func (u *RefreshSessionUsecase) runBatch(ctx context.Context, session *model.RefreshSession, mu *sync.Mutex, batch []model.Reel) (bool, error) {
	rateLimited := false
	var g errgroup.Group
	g.SetLimit(u.cfg.BatchSize)
	for _, reel := range batch {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("refreshing %s panicked: %v", reel.Shortcode, r)
				}
			}()
			fresh, ferr := u.refresh(ctx, reel)

			mu.Lock()
			defer mu.Unlock()
			if ferr != nil {
				session.Errors = append(session.Errors, fmt.Sprintf("%s (%s): %v", reel.Shortcode, reel.ID, ferr))
				if errors.Is(ferr, model.ErrRateLimited) {
					rateLimited = true
					u.trip(ctx, backoffFor(ferr, u.cfg.RateLimitBackoff))
				}
				logger.GetLogger().
					WithField("session_id", session.ID).
					WithField("shortcode", reel.Shortcode).
					WithField("error", ferr.Error()).
					Warn("On-demand refresh failed")
				return nil
			}
			session.TotalUpdated++
			if fresh != nil && u.onReel != nil {
				u.onReel(fresh)
			}
			return nil
		})
	}
	err := g.Wait()
	mu.Lock()
	defer mu.Unlock()
	return rateLimited, err
}

// refresh fetches one reel once a slot in the shared fetch budget is free.
func (u *RefreshSessionUsecase) refresh(ctx context.Context, reel model.Reel) (*model.Reel, error) {
	if err := u.inFlight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer u.inFlight.Release(1)
	return refreshReel(ctx, u.store, u.fetcher, reel, model.SourceOnDemandRefresh)
}

// pause waits between batches, stretching to the upstream cooldown after throttling.
func (u *RefreshSessionUsecase) pause(ctx context.Context, rateLimited bool) {
	d := u.cfg.BatchDelay
	if rateLimited {
		backoff := u.cfg.RateLimitBackoff
		if u.gate != nil {
			if remaining := u.gate.Remaining(ctx); remaining > 0 {
				backoff = remaining
			}
		}
		d = max(d, backoff)
	}
	if d > 0 {
		u.sleep(ctx, d)
	}
}

func (u *RefreshSessionUsecase) trip(ctx context.Context, d time.Duration) {
	if u.gate == nil {
		return
	}
	if err := u.gate.Trip(ctx, d); err != nil {
		logger.GetLogger().WithField("error", err.Error()).Error("Recording upstream backoff failed")
	}
}

func (u *RefreshSessionUsecase) save(ctx context.Context, session *model.RefreshSession) {
	if err := u.sessions.Save(ctx, session); err != nil {
		logger.GetLogger().WithField("session_id", session.ID).WithField("error", err.Error()).Error("Saving refresh session failed")
	}
}

// finish archives and publishes a completed session; failures are logged only.
func (u *RefreshSessionUsecase) finish(ctx context.Context, session *model.RefreshSession) {
	lg := logger.GetLogger().WithField("session_id", session.ID)
	if u.archive != nil {
		if err := u.archive.Archive(ctx, session); err != nil {
			lg.WithField("error", err.Error()).Error("Archiving refresh session failed")
		}
	}
	for _, p := range u.publishers {
		if err := p.PublishSessionCompleted(ctx, session); err != nil {
			lg.WithField("error", err.Error()).Error("Publishing refresh session failed")
		}
	}
	u.notifySession(session)
	lg.WithField("total_updated", session.TotalUpdated).
		WithField("errors", len(session.Errors)).
		Info("Refresh session completed")
}

func (u *RefreshSessionUsecase) notifySession(session *model.RefreshSession) {
	if u.onSession == nil {
		return
	}
	snapshot := session.Clone()
	u.onSession(&snapshot)
}
