package usecase_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reel-tracker/domain/model"
	"reel-tracker/infrastructure/clients/instagram"
	"reel-tracker/infrastructure/persistence"
	"reel-tracker/usecase"
)

func TestReelUsecase_Submit(t *testing.T) {
	ctx := context.Background()
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, reelURL("ABC123")).Return(metrics(1000), nil).Once()

	var broadcast []*model.Reel
	uc := usecase.NewReelUsecase(persistence.NewReelStore(0), fetcher).
		WithBroadcaster(func(r *model.Reel) { broadcast = append(broadcast, r) })

	reel, err := uc.Submit(ctx, "u1", "  "+reelURL("ABC123")+" ")
	require.NoError(t, err)
	assert.NotEmpty(t, reel.ID)
	assert.Equal(t, "u1", reel.OwnerID)
	assert.Equal(t, "ABC123", reel.Shortcode)
	assert.Equal(t, reelURL("ABC123"), reel.SourceURL)
	assert.Equal(t, int64(1000), reel.Views)
	assert.Equal(t, int64(100), reel.Likes)
	assert.True(t, reel.IsActive)
	assert.False(t, reel.Approximate)
	require.Len(t, reel.History, 1)
	assert.Equal(t, model.SourceInitialSubmission, reel.History[0].Source)
	assert.Equal(t, reel.SubmittedAt, reel.LastUpdated)
	assert.Len(t, broadcast, 1)
	fetcher.AssertExpectations(t)
}

func TestReelUsecase_SubmitDuplicateAcrossOwners(t *testing.T) {
	ctx := context.Background()
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(metrics(10), nil).Once()
	uc := usecase.NewReelUsecase(persistence.NewReelStore(0), fetcher)

	_, err := uc.Submit(ctx, "u1", reelURL("ABC"))
	require.NoError(t, err)

	// Same shortcode through a different URL shape and a different owner.
	_, err = uc.Submit(ctx, "u2", "https://instagram.com/p/ABC?igsh=xyz")
	assert.ErrorIs(t, err, model.ErrDuplicateReel)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestReelUsecase_SubmitInvalidURL(t *testing.T) {
	fetcher := new(MockMetricsFetcher)
	uc := usecase.NewReelUsecase(persistence.NewReelStore(0), fetcher)

	for _, u := range []string{"", "not a url", "https://example.com/reel/ABC/", "https://www.instagram.com/someone/"} {
		_, err := uc.Submit(context.Background(), "u1", u)
		assert.ErrorIs(t, err, model.ErrInvalidReelURL, u)
	}
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestReelUsecase_SubmitRateLimited(t *testing.T) {
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(nil, &model.RateLimitError{RetryAfter: time.Minute})
	store := persistence.NewReelStore(0)
	uc := usecase.NewReelUsecase(store, fetcher)

	_, err := uc.Submit(context.Background(), "u1", reelURL("ABC"))
	assert.ErrorIs(t, err, model.ErrRateLimited)
	assert.Empty(t, store.ListAll(context.Background()))
}

func TestReelUsecase_SubmitSucceedsWhenProviderFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := instagram.NewClient(instagram.Config{BaseURL: srv.URL, Timeout: time.Second})
	uc := usecase.NewReelUsecase(persistence.NewReelStore(0), client)

	reel, err := uc.Submit(context.Background(), "u1", reelURL("Fallback1"))
	require.NoError(t, err)
	assert.True(t, reel.Approximate)
	assert.Equal(t, instagram.UnknownUsername, reel.Username)
	assert.Equal(t, instagram.PlaceholderThumbnail("Fallback1"), reel.Thumbnail)
	assert.GreaterOrEqual(t, reel.Views, int64(1000))
	assert.LessOrEqual(t, reel.Views, int64(50000))
}

func TestReelUsecase_ToggleAndDelete(t *testing.T) {
	ctx := context.Background()
	fetcher := new(MockMetricsFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).Return(metrics(10), nil)
	var broadcast []*model.Reel
	uc := usecase.NewReelUsecase(persistence.NewReelStore(0), fetcher).
		WithBroadcaster(func(r *model.Reel) { broadcast = append(broadcast, r) })

	reel, err := uc.Submit(ctx, "u1", reelURL("ABC"))
	require.NoError(t, err)

	active, err := uc.ToggleActive(ctx, reel.ID)
	require.NoError(t, err)
	assert.False(t, active)
	require.Len(t, broadcast, 2)
	assert.False(t, broadcast[1].IsActive)

	_, err = uc.ToggleActive(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrReelNotFound)

	assert.Len(t, uc.ListByOwner(ctx, "u1"), 1)
	assert.Len(t, uc.ListAll(ctx), 1)
	assert.True(t, uc.Delete(ctx, reel.ID))
	assert.False(t, uc.Delete(ctx, reel.ID))
	_, err = uc.Get(ctx, reel.ID)
	assert.ErrorIs(t, err, model.ErrReelNotFound)
}
