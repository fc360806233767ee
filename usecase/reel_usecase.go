package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/clients/instagram"
	"reel-tracker/infrastructure/logger"

	"github.com/google/uuid"
)

type IReelUsecase interface {
	Submit(ctx context.Context, ownerID, sourceURL string) (*model.Reel, error)
	Get(ctx context.Context, id string) (*model.Reel, error)
	ListByOwner(ctx context.Context, ownerID string) []model.Reel
	ListAll(ctx context.Context) []model.Reel
	Delete(ctx context.Context, id string) bool
	ToggleActive(ctx context.Context, id string) (bool, error)
	WithBroadcaster(fn func(*model.Reel)) IReelUsecase
}

type reelUsecase struct {
	store     repository.IReelStore
	fetcher   repository.IMetricsFetcher
	now       func() time.Time
	newID     func() string
	broadcast func(*model.Reel)
}

func NewReelUsecase(store repository.IReelStore, fetcher repository.IMetricsFetcher) IReelUsecase {
	return &reelUsecase{
		store:   store,
		fetcher: fetcher,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// WithBroadcaster sets a callback invoked after a reel is created or toggled.
func (u *reelUsecase) WithBroadcaster(fn func(*model.Reel)) IReelUsecase {
	u.broadcast = fn
	return u
}

// Submit starts tracking sourceURL for ownerID. A shortcode that is already tracked by
// anyone is rejected before the upstream is contacted.
func (u *reelUsecase) Submit(ctx context.Context, ownerID, sourceURL string) (*model.Reel, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	shortcode, err := instagram.ExtractShortcode(sourceURL)
	if err != nil {
		return nil, err
	}
	if u.store.HasShortcode(ctx, shortcode) {
		return nil, model.ErrDuplicateReel
	}

	metrics, err := u.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	now := u.now()
	seed := metrics.Observation(model.SourceInitialSubmission, now)
	username := metrics.Username
	if username == "" {
		username = instagram.UnknownUsername
	}
	thumbnail := metrics.Thumbnail
	if thumbnail == "" {
		thumbnail = instagram.PlaceholderThumbnail(shortcode)
	}
	reel, err := u.store.Insert(ctx, model.Reel{
		ID:          u.newID(),
		OwnerID:     ownerID,
		Shortcode:   shortcode,
		SourceURL:   sourceURL,
		Username:    username,
		Views:       seed.Views,
		Likes:       seed.Likes,
		Comments:    seed.Comments,
		Thumbnail:   thumbnail,
		Approximate: metrics.Fallback,
		SubmittedAt: now,
		LastUpdated: now,
		IsActive:    true,
		History:     []model.Observation{seed},
	})
	if err != nil {
		return nil, err
	}

	logger.GetLogger().
		WithField("reel_id", reel.ID).
		WithField("shortcode", shortcode).
		WithField("approximate", reel.Approximate).
		Info("Reel submitted for tracking")
	u.notify(reel)
	return reel, nil
}

func (u *reelUsecase) Get(ctx context.Context, id string) (*model.Reel, error) {
	return u.store.Get(ctx, id)
}

func (u *reelUsecase) ListByOwner(ctx context.Context, ownerID string) []model.Reel {
	return u.store.ListByOwner(ctx, ownerID)
}

func (u *reelUsecase) ListAll(ctx context.Context) []model.Reel {
	return u.store.ListAll(ctx)
}

func (u *reelUsecase) Delete(ctx context.Context, id string) bool {
	return u.store.Delete(ctx, id)
}

func (u *reelUsecase) ToggleActive(ctx context.Context, id string) (bool, error) {
	active, err := u.store.ToggleActive(ctx, id)
	if err != nil {
		return false, err
	}
	if reel, err := u.store.Get(ctx, id); err == nil {
		u.notify(reel)
	}
	return active, nil
}

func (u *reelUsecase) notify(reel *model.Reel) {
	if u.broadcast != nil && reel != nil {
		u.broadcast(reel)
	}
}

// refreshReel fetches fresh metrics for reel and appends them as an observation.
// It returns the stored reel when the observation changed it.
func refreshReel(ctx context.Context, store repository.IReelStore, fetcher repository.IMetricsFetcher, reel model.Reel, source model.ObservationSource) (*model.Reel, error) {
	metrics, err := fetcher.Fetch(ctx, reel.SourceURL)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		return nil, errors.New("metrics fetcher returned no data")
	}
	appended, err := store.AppendObservation(ctx, reel.ID, metrics.Observation(source, time.Now().UTC()))
	if err != nil || !appended {
		return nil, err
	}
	return store.Get(ctx, reel.ID)
}

// backoffFor picks the upstream cooldown for a rate-limit error.
func backoffFor(err error, fallback time.Duration) time.Duration {
	var rl *model.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return fallback
}
