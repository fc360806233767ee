package usecase_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"reel-tracker/domain/model"
)

type MockMetricsFetcher struct {
	mock.Mock
}

func (m *MockMetricsFetcher) Fetch(ctx context.Context, sourceURL string) (*model.ReelMetrics, error) {
	args := m.Called(ctx, sourceURL)
	metrics, _ := args.Get(0).(*model.ReelMetrics)
	return metrics, args.Error(1)
}

type MockBackoffGate struct {
	mock.Mock
}

func (m *MockBackoffGate) Trip(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (m *MockBackoffGate) Remaining(ctx context.Context) time.Duration {
	return m.Called(ctx).Get(0).(time.Duration)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishSessionCompleted(ctx context.Context, session *model.RefreshSession) error {
	return m.Called(ctx, session).Error(0)
}

type MockSessionArchive struct {
	mock.Mock
}

func (m *MockSessionArchive) Archive(ctx context.Context, session *model.RefreshSession) error {
	return m.Called(ctx, session).Error(0)
}

func reelURL(shortcode string) string {
	return "https://www.instagram.com/reel/" + shortcode + "/"
}

func metrics(views int64) *model.ReelMetrics {
	return &model.ReelMetrics{Views: views, Likes: views / 10, Comments: views / 100, Username: "creator", Thumbnail: "https://cdn.example/thumb.jpg"}
}

// recordSleep returns a sleep func that records requested durations without waiting.
func recordSleep(out *[]time.Duration) func(context.Context, time.Duration) {
	return func(_ context.Context, d time.Duration) { *out = append(*out, d) }
}
