package repository

import (
	"context"
	"time"

	"reel-tracker/domain/model"
)

// IMetricsFetcher fetches current metrics for one post URL from the upstream provider.
// Provider failures come back as fallback metrics; only model.ErrInvalidReelURL and
// model.ErrRateLimited are returned as errors.
type IMetricsFetcher interface {
	Fetch(ctx context.Context, sourceURL string) (*model.ReelMetrics, error)
}

// IReelStore holds tracked reels and their observation history.
type IReelStore interface {
	Insert(ctx context.Context, reel model.Reel) (*model.Reel, error)
	Get(ctx context.Context, id string) (*model.Reel, error)
	HasShortcode(ctx context.Context, shortcode string) bool
	ListByOwner(ctx context.Context, ownerID string) []model.Reel
	ListAll(ctx context.Context) []model.Reel
	// ListActive returns active reels of ownerID, or of every owner when ownerID is empty.
	ListActive(ctx context.Context, ownerID string) []model.Reel
	Delete(ctx context.Context, id string) bool
	ToggleActive(ctx context.Context, id string) (bool, error)
	AppendObservation(ctx context.Context, id string, obs model.Observation) (bool, error)
	// Summarize totals the reels of ownerID, or of every owner when ownerID is empty.
	Summarize(ctx context.Context, ownerID string) model.ReelTotals
}

// IReelPersister receives write-through copies of store mutations.
type IReelPersister interface {
	SaveReel(ctx context.Context, reel *model.Reel) error
	AppendObservation(ctx context.Context, reelID string, obs model.Observation, historyLimit int) error
	DeleteReel(ctx context.Context, reelID string) error
	LoadReels(ctx context.Context) ([]model.Reel, error)
}

// IRefreshSessionRepository retains refresh sessions for later inspection.
type IRefreshSessionRepository interface {
	Save(ctx context.Context, session *model.RefreshSession) error
	Get(ctx context.Context, id string) (*model.RefreshSession, error)
	// List returns sessions started by initiatedBy (all when empty), newest first.
	List(ctx context.Context, initiatedBy string, limit int) ([]model.RefreshSession, error)
}

// ISessionArchive stores completed sessions outside the process.
type ISessionArchive interface {
	Archive(ctx context.Context, session *model.RefreshSession) error
}

// IBackoffGate is shared upstream cooldown state tripped by rate-limit signals.
type IBackoffGate interface {
	Trip(ctx context.Context, d time.Duration) error
	// Remaining returns how long callers should still hold off; zero means open.
	Remaining(ctx context.Context) time.Duration
}

// IReelEventPublisher fans refresh results out to other systems.
type IReelEventPublisher interface {
	PublishSessionCompleted(ctx context.Context, session *model.RefreshSession) error
}
