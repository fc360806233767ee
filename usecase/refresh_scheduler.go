package usecase

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/logger"
)

// SchedulerConfig tunes the continuous refresh loop.
type SchedulerConfig struct {
	Interval         time.Duration
	SampleSize       int
	SampleDelay      time.Duration
	RateLimitBackoff time.Duration
}

// RefreshScheduler periodically refreshes a random sample of active reels, one at a time.
// A tick that arrives while a pass is still running is dropped.
type RefreshScheduler struct {
	store   repository.IReelStore
	fetcher repository.IMetricsFetcher
	gate    repository.IBackoffGate
	cfg     SchedulerConfig

	newTicker func(d time.Duration) (<-chan time.Time, func())
	sleep     func(ctx context.Context, d time.Duration)
	shuffle   func(n int, swap func(i, j int))
	broadcast func(*model.Reel)

	refreshing atomic.Bool
	started    atomic.Bool
	stopOnce   sync.Once
	stop       chan struct{}
	loopDone   chan struct{}
	passes     sync.WaitGroup
}

func NewRefreshScheduler(store repository.IReelStore, fetcher repository.IMetricsFetcher, cfg SchedulerConfig) *RefreshScheduler {
	return &RefreshScheduler{
		store:   store,
		fetcher: fetcher,
		cfg:     cfg,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		sleep:    sleepContext,
		shuffle:  rand.Shuffle,
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// WithBackoffGate shares upstream cooldown state with other refreshers.
func (s *RefreshScheduler) WithBackoffGate(gate repository.IBackoffGate) *RefreshScheduler {
	s.gate = gate
	return s
}

func (s *RefreshScheduler) WithBroadcaster(fn func(*model.Reel)) *RefreshScheduler {
	s.broadcast = fn
	return s
}

// WithTicker replaces the interval ticker; stop is called when the loop exits.
func (s *RefreshScheduler) WithTicker(fn func(d time.Duration) (ticks <-chan time.Time, stop func())) *RefreshScheduler {
	s.newTicker = fn
	return s
}

func (s *RefreshScheduler) WithSleep(fn func(ctx context.Context, d time.Duration)) *RefreshScheduler {
	s.sleep = fn
	return s
}

// Start launches the loop. It returns immediately; calling it twice is a no-op.
func (s *RefreshScheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	ticks, stopTicker := s.newTicker(s.cfg.Interval)
	logger.GetLogger().
		WithField("interval", s.cfg.Interval.String()).
		WithField("sample_size", s.cfg.SampleSize).
		Info("Refresh scheduler started")

	go func() {
		defer close(s.loopDone)
		defer stopTicker()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticks:
				if !s.refreshing.CompareAndSwap(false, true) {
					logger.GetLogger().Debug("Refresh pass still running; tick skipped")
					continue
				}
				s.passes.Add(1)
				go func() {
					defer s.passes.Done()
					defer s.refreshing.Store(false)
					// A pass that has begun runs to the end even if the loop is stopped.
					s.runPass(context.WithoutCancel(ctx))
				}()
			}
		}
	}()
}

// Stop ends scheduling and waits for an in-flight pass to finish.
func (s *RefreshScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.loopDone
	}
	s.passes.Wait()
	logger.GetLogger().Info("Refresh scheduler stopped")
}

// RefreshOnce runs a single pass in the caller's goroutine. It reports false when a
// pass is already running.
func (s *RefreshScheduler) RefreshOnce(ctx context.Context) (int, bool) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return 0, false
	}
	defer s.refreshing.Store(false)
	return s.runPass(ctx), true
}

func (s *RefreshScheduler) runPass(ctx context.Context) int {
	lg := logger.GetLogger()
	if s.gate != nil {
		if wait := s.gate.Remaining(ctx); wait > 0 {
			lg.WithField("remaining", wait.String()).Info("Upstream backoff active; refresh pass skipped")
			return 0
		}
	}

	sample := s.sample(s.store.ListActive(ctx, ""))
	updated := 0
	for i, reel := range sample {
		if i > 0 && s.cfg.SampleDelay > 0 {
			s.sleep(ctx, s.cfg.SampleDelay)
		}
		fresh, err := refreshReel(ctx, s.store, s.fetcher, reel, model.SourcePeriodicRefresh)
		if err != nil {
			if errors.Is(err, model.ErrRateLimited) {
				backoff := backoffFor(err, s.cfg.RateLimitBackoff)
				s.trip(ctx, backoff)
				lg.WithField("shortcode", reel.Shortcode).
					WithField("backoff", backoff.String()).
					Warn("Upstream rate limited; ending refresh pass")
				break
			}
			lg.WithField("reel_id", reel.ID).
				WithField("shortcode", reel.Shortcode).
				WithField("error", err.Error()).
				Warn("Periodic refresh failed")
			continue
		}
		if fresh != nil {
			updated++
			if s.broadcast != nil {
				s.broadcast(fresh)
			}
		}
	}
	lg.WithField("sampled", len(sample)).WithField("updated", updated).Info("Refresh pass finished")
	return updated
}

// sample picks at most SampleSize reels uniformly at random.
func (s *RefreshScheduler) sample(active []model.Reel) []model.Reel {
	if s.cfg.SampleSize <= 0 || len(active) <= s.cfg.SampleSize {
		return active
	}
	s.shuffle(len(active), func(i, j int) { active[i], active[j] = active[j], active[i] })
	return active[:s.cfg.SampleSize]
}

func (s *RefreshScheduler) trip(ctx context.Context, d time.Duration) {
	if s.gate == nil {
		return
	}
	if err := s.gate.Trip(ctx, d); err != nil {
		logger.GetLogger().WithField("error", err.Error()).Error("Recording upstream backoff failed")
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
