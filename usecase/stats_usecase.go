package usecase

import (
	"context"

	"reel-tracker/domain/dto"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/utils"
)

type IStatsUsecase interface {
	UserStats(ctx context.Context, ownerID string) dto.UserStats
	GlobalStats(ctx context.Context) dto.GlobalStats
}

// statsUsecase derives rollups from the store on every call; it keeps no state.
type statsUsecase struct {
	store                repository.IReelStore
	ratePerThousandViews float64
}

// NewStatsUsecase pays ratePerThousandViews currency units per 1,000 views.
func NewStatsUsecase(store repository.IReelStore, ratePerThousandViews float64) IStatsUsecase {
	return &statsUsecase{store: store, ratePerThousandViews: ratePerThousandViews}
}

func (u *statsUsecase) UserStats(ctx context.Context, ownerID string) dto.UserStats {
	if ownerID == "" {
		return dto.UserStats{}
	}
	t := u.store.Summarize(ctx, ownerID)
	return dto.UserStats{
		OwnerID:      ownerID,
		TotalViews:   t.Views,
		TotalReels:   t.Reels,
		ActiveReels:  t.Active,
		PayoutAmount: u.payout(t.Views),
	}
}

func (u *statsUsecase) GlobalStats(ctx context.Context) dto.GlobalStats {
	t := u.store.Summarize(ctx, "")
	return dto.GlobalStats{
		TotalViews:   t.Views,
		TotalReels:   t.Reels,
		ActiveReels:  t.Active,
		TotalPayouts: u.payout(t.Views),
	}
}

func (u *statsUsecase) payout(views int64) float64 {
	return utils.RoundCurrency(float64(views) / 1000 * u.ratePerThousandViews)
}
